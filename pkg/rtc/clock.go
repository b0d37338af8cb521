package rtc

import (
	"bytes"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/golang/glog"
)

// Command bytes.
const (
	CmdWriteTime byte = 'W'
	CmdReadTime  byte = 'R'

	// AckOK is the reply confirming a time set.
	AckOK byte = '!'
)

const (
	// ReadWidth is the fixed size of a time reply. It's part of the firmware
	// contract and must not change without a firmware update.
	ReadWidth = 10

	// MinEpoch is 2000-01-01T00:00:00Z, the epoch of the firmware DateTime.
	MinEpoch int64 = 946684800
	// MaxEpoch is 2099-12-31T23:59:59Z, the last date the firmware
	// calendar handles.
	MaxEpoch int64 = 4102444799

	// DefaultReadTimeout bounds how long a reply is waited for.
	DefaultReadTimeout = 2 * time.Second
)

// maxSeconds keeps decoded times convertible to int64 seconds.
const maxSeconds = 1 << 62

// decimalPattern is the only reply form accepted: no exponent, hex or
// special values.
var decimalPattern = regexp.MustCompile(`^[+-]?([0-9]+(\.[0-9]*)?|\.[0-9]+)$`)

// asctimeLayout matches C asctime(3), e.g. "Tue Nov 14 22:13:20 2023".
const asctimeLayout = time.ANSIC

// Conn is the byte exchange the protocol runs over.
type Conn interface {
	WriteBytes(data []byte) error
	// ReadBytes returns at most maxLen bytes. A timeout yields a short or
	// empty read, not an error.
	ReadBytes(maxLen int, timeout time.Duration) ([]byte, error)
}

// Clock speaks the protocol with a peripheral over Conn.
type Clock struct {
	Conn        Conn
	ReadTimeout time.Duration
}

// NewClock creates a Clock with the default read timeout.
func NewClock(conn Conn) *Clock {
	return &Clock{Conn: conn, ReadTimeout: DefaultReadTimeout}
}

// SetTime sets the peripheral clock. It returns false without an error if
// the peripheral doesn't acknowledge, including when no reply arrives in
// time.
func (c *Clock) SetTime(epoch int64) (bool, error) {
	frame, err := EncodeSetTime(epoch)
	if err != nil {
		return false, err
	}
	if err = c.Conn.WriteBytes(frame); err != nil {
		return false, err
	}
	reply, err := c.Conn.ReadBytes(1, c.readTimeout())
	if err != nil {
		return false, err
	}
	confirmed := DecodeAck(reply)
	if !confirmed {
		glog.V(2).Infof("set time %d: reply %q", epoch, reply)
	}
	return confirmed, nil
}

// ReadTime reads the peripheral clock in epoch seconds.
func (c *Clock) ReadTime() (float64, error) {
	if err := c.Conn.WriteBytes(EncodeReadTime()); err != nil {
		return 0, err
	}
	reply, err := c.Conn.ReadBytes(ReadWidth, c.readTimeout())
	if err != nil {
		return 0, err
	}
	glog.V(3).Infof("read time reply %q", reply)
	return DecodeTime(reply)
}

func (c *Clock) readTimeout() time.Duration {
	if c.ReadTimeout > 0 {
		return c.ReadTimeout
	}
	return DefaultReadTimeout
}

// EncodeSetTime builds the set time frame.
func EncodeSetTime(epoch int64) ([]byte, error) {
	if epoch < MinEpoch || epoch > MaxEpoch {
		return nil, ErrEpochOutOfRange
	}
	return strconv.AppendInt([]byte{CmdWriteTime}, epoch, 10), nil
}

// EncodeReadTime builds the read time frame.
func EncodeReadTime() []byte {
	return []byte{CmdReadTime}
}

// DecodeAck tells whether the reply confirms a time set.
func DecodeAck(reply []byte) bool {
	return len(reply) == 1 && reply[0] == AckOK
}

// DecodeTime parses a time reply as a plain decimal number. Surrounding
// spaces and NUL padding are ignored.
func DecodeTime(reply []byte) (float64, error) {
	s := bytes.Trim(reply, " \t\r\n\x00")
	if !decimalPattern.Match(s) {
		return 0, &ProtocolError{Response: append([]byte{}, reply...)}
	}
	val, err := strconv.ParseFloat(string(s), 64)
	if err != nil || math.Abs(val) >= maxSeconds {
		return 0, &ProtocolError{Response: append([]byte{}, reply...)}
	}
	return val, nil
}

// EpochTime converts epoch seconds to UTC time.
func EpochTime(epoch float64) time.Time {
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// FormatTime renders t in UTC the way asctime does.
func FormatTime(t time.Time) string {
	return t.UTC().Format(asctimeLayout)
}
