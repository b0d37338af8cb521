// Package serial provides the serial transport to the clock peripheral.
package serial

import (
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	bugst "go.bug.st/serial"

	"github.com/robotalks/rtcsync/pkg/rtc"
)

// RawPort is the subset of go.bug.st/serial.Port used by Port.
// A Read returning 0 bytes and no error means the read timed out.
type RawPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Port is an open connection to one device.
type Port struct {
	Path string

	raw       RawPort
	closeOnce sync.Once
	closed    bool
	lock      sync.Mutex
}

// DefaultMode returns the line settings of the peripheral: 9600 8N1.
func DefaultMode() *bugst.Mode {
	return &bugst.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
}

var openRaw = func(path string, mode *bugst.Mode) (RawPort, error) {
	p, err := bugst.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Open opens the device at path. A nil mode uses DefaultMode.
func Open(path string, mode *bugst.Mode) (*Port, error) {
	if mode == nil {
		mode = DefaultMode()
	}
	raw, err := openRaw(path, mode)
	if err != nil {
		return nil, &rtc.ConnectionError{Path: path, Err: err}
	}
	// stale bytes from a previous session would be taken as a reply.
	if r, ok := raw.(interface{ ResetInputBuffer() error }); ok {
		if err := r.ResetInputBuffer(); err != nil {
			glog.Warningf("%s: reset input buffer: %v", path, err)
		}
	}
	glog.V(1).Infof("%s opened at %d baud", path, mode.BaudRate)
	return NewPort(path, raw), nil
}

// NewPort wraps an already opened RawPort.
func NewPort(path string, raw RawPort) *Port {
	return &Port{Path: path, raw: raw}
}

// Ports lists serial ports known to the system.
func Ports() ([]string, error) {
	return bugst.GetPortsList()
}

// WriteBytes implements rtc.Conn.
func (p *Port) WriteBytes(data []byte) error {
	if p.isClosed() {
		return &rtc.IOError{Op: "write", Err: rtc.ErrClosed}
	}
	for off := 0; off < len(data); {
		n, err := p.raw.Write(data[off:])
		if err != nil {
			return &rtc.IOError{Op: "write", Err: err}
		}
		if n == 0 {
			return &rtc.IOError{Op: "write", Err: io.ErrShortWrite}
		}
		off += n
	}
	glog.V(4).Infof("%s > %q", p.Path, data)
	return nil
}

// ReadBytes implements rtc.Conn. Partial reads are accumulated until maxLen
// bytes arrived or timeout elapsed.
func (p *Port) ReadBytes(maxLen int, timeout time.Duration) ([]byte, error) {
	if p.isClosed() {
		return nil, &rtc.IOError{Op: "read", Err: rtc.ErrClosed}
	}
	buf := make([]byte, maxLen)
	got := 0
	deadline := time.Now().Add(timeout)
	for got < maxLen {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := p.raw.SetReadTimeout(remaining); err != nil {
			return nil, &rtc.IOError{Op: "read", Err: err}
		}
		n, err := p.raw.Read(buf[got:])
		if err != nil {
			return nil, &rtc.IOError{Op: "read", Err: err}
		}
		if n == 0 {
			break
		}
		got += n
	}
	glog.V(4).Infof("%s < %q", p.Path, buf[:got])
	return buf[:got], nil
}

// Close releases the device. Only the first call has effect.
func (p *Port) Close() (err error) {
	p.closeOnce.Do(func() {
		p.lock.Lock()
		p.closed = true
		p.lock.Unlock()
		err = p.raw.Close()
		glog.V(1).Infof("%s closed", p.Path)
	})
	return
}

func (p *Port) isClosed() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.closed
}
