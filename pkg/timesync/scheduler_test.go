package timesync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/rtcsync/pkg/rtc"
)

const hostEpoch = 1700000000

// fakeDevice answers like the firmware: ack for W, timeReply for R.
type fakeDevice struct {
	lock      sync.Mutex
	ack       byte
	timeReply []byte
	pending   []byte
	cmds      []string
	closed    int
	onCommand func(n int)
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{ack: rtc.AckOK, timeReply: []byte(fmt.Sprintf("%d", hostEpoch))}
}

func (d *fakeDevice) WriteBytes(data []byte) error {
	d.lock.Lock()
	d.cmds = append(d.cmds, string(data))
	switch data[0] {
	case rtc.CmdWriteTime:
		d.pending = []byte{d.ack}
	case rtc.CmdReadTime:
		d.pending = d.timeReply
	}
	n, fn := len(d.cmds), d.onCommand
	d.lock.Unlock()
	if fn != nil {
		fn(n)
	}
	return nil
}

func (d *fakeDevice) ReadBytes(maxLen int, timeout time.Duration) ([]byte, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	reply := d.pending
	d.pending = nil
	if len(reply) > maxLen {
		reply = reply[:maxLen]
	}
	return reply, nil
}

func (d *fakeDevice) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.closed++
	return nil
}

func (d *fakeDevice) commands() string {
	d.lock.Lock()
	defer d.lock.Unlock()
	var sb strings.Builder
	for _, cmd := range d.cmds {
		sb.WriteByte(cmd[0])
	}
	return sb.String()
}

type presence bool

func (p presence) IsPresent(string) bool {
	return bool(p)
}

type recorder struct {
	events []string
	times  []time.Time
	err    error
}

func (r *recorder) Running(path string) { r.events = append(r.events, "running") }
func (r *recorder) TimeSet(t time.Time) {
	r.events = append(r.events, "set")
	r.times = append(r.times, t)
}
func (r *recorder) TimeRead(t time.Time, offset time.Duration) {
	r.events = append(r.events, "read")
	r.times = append(r.times, t)
}
func (r *recorder) Disconnected(path string) { r.events = append(r.events, "disconnected") }
func (r *recorder) ShuttingDown()            { r.events = append(r.events, "shutdown") }
func (r *recorder) Stopped(err error) {
	r.events = append(r.events, "stopped")
	r.err = err
}

func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func newTestScheduler(dev *fakeDevice, rec *recorder) *Scheduler {
	return &Scheduler{
		Path:     "/dev/ttyUSB0",
		Open:     func(string) (Conn, error) { return dev, nil },
		Monitor:  presence(true),
		Reporter: rec,
		Now:      func() time.Time { return time.Unix(hostEpoch, 0) },
		After:    immediate,
	}
}

// stopAfter cancels the run once n commands are sent.
func stopAfter(dev *fakeDevice, n int) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	dev.onCommand = func(sent int) {
		if sent >= n {
			cancel()
		}
	}
	return ctx
}

func TestCadence(t *testing.T) {
	dev := newFakeDevice()
	s := newTestScheduler(dev, &recorder{})
	err := s.Run(stopAfter(dev, 12))
	require.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, "WRRRRRWRRRRR", dev.commands())
}

func TestThirteenTicks(t *testing.T) {
	dev := newFakeDevice()
	rec := &recorder{}
	s := newTestScheduler(dev, rec)
	err := s.Run(stopAfter(dev, 13))
	require.True(t, errors.Is(err, context.Canceled))

	st := s.Stats()
	assert.Equal(t, uint64(13), st.Ticks)
	assert.Equal(t, uint64(3), st.Sets)
	assert.Equal(t, uint64(3), st.Confirmed)
	assert.Equal(t, uint64(10), st.Reads)
	assert.Equal(t, "W1700000000", dev.cmds[0])

	require.Len(t, rec.times, 13)
	assert.Equal(t, int64(hostEpoch), rec.times[12].Unix())
	assert.Equal(t, "running", rec.events[0])
	assert.Equal(t, []string{"shutdown", "stopped"}, rec.events[len(rec.events)-2:])
	assert.NoError(t, rec.err)
	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Err())
	assert.Equal(t, 1, dev.closed)
}

func TestDeviceAbsent(t *testing.T) {
	dev := newFakeDevice()
	rec := &recorder{}
	s := newTestScheduler(dev, rec)
	s.Monitor = presence(false)
	err := s.Run(context.Background())
	require.Equal(t, ErrDisconnected, err)
	assert.Empty(t, dev.cmds)
	assert.Equal(t, []string{"running", "disconnected", "stopped"}, rec.events)
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, ErrDisconnected, s.Err())
	assert.Equal(t, 1, dev.closed)
	assert.Equal(t, ExitDeviceError, ExitCode(err))
}

// goneAfter reports the device present for the first n checks.
type goneAfter struct {
	checks int
	n      int
}

func (m *goneAfter) IsPresent(string) bool {
	m.checks++
	return m.checks <= m.n
}

func TestDeviceRemovedWhileRunning(t *testing.T) {
	dev := newFakeDevice()
	rec := &recorder{}
	s := newTestScheduler(dev, rec)
	s.Monitor = &goneAfter{n: 3}
	err := s.Run(context.Background())
	require.Equal(t, ErrDisconnected, err)
	assert.Equal(t, "WRR", dev.commands())
	assert.Equal(t, []string{"running", "set", "read", "read", "disconnected", "stopped"}, rec.events)
	assert.Equal(t, uint64(4), s.Stats().Ticks)
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 1, dev.closed)
}

func TestGarbageRead(t *testing.T) {
	dev := newFakeDevice()
	dev.timeReply = []byte("garbage")
	rec := &recorder{}
	s := newTestScheduler(dev, rec)
	err := s.Run(context.Background())
	var protoErr *rtc.ProtocolError
	require.True(t, errors.As(err, &protoErr))
	assert.Equal(t, []byte("garbage"), protoErr.Response)
	assert.Equal(t, "WR", dev.commands())
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 1, dev.closed)
	assert.Equal(t, ExitProtocolError, ExitCode(err))
}

func TestSkipBadReads(t *testing.T) {
	dev := newFakeDevice()
	dev.timeReply = []byte("garbage")
	s := newTestScheduler(dev, &recorder{})
	s.SkipBadReads = true
	err := s.Run(stopAfter(dev, 4))
	require.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, uint64(3), s.Stats().BadReads)
	assert.NoError(t, s.Err())
}

func TestUnconfirmedSet(t *testing.T) {
	dev := newFakeDevice()
	dev.ack = '?'
	rec := &recorder{}
	s := newTestScheduler(dev, rec)
	err := s.Run(stopAfter(dev, 2))
	require.True(t, errors.Is(err, context.Canceled))
	st := s.Stats()
	assert.Equal(t, uint64(1), st.Sets)
	assert.Equal(t, uint64(0), st.Confirmed)
	assert.Equal(t, []string{"running", "read", "shutdown", "stopped"}, rec.events)
}

func TestHostTimeOutOfRange(t *testing.T) {
	dev := newFakeDevice()
	s := newTestScheduler(dev, &recorder{})
	s.Now = func() time.Time { return time.Unix(0, 0) }
	err := s.Run(stopAfter(dev, 1))
	require.True(t, errors.Is(err, context.Canceled))
	// W is never sent, the first command is the read on tick 1.
	assert.Equal(t, "R", dev.commands())
}

func TestOffset(t *testing.T) {
	dev := newFakeDevice()
	dev.timeReply = []byte("1700000003")
	var offsets []time.Duration
	s := newTestScheduler(dev, &recorder{})
	s.Reporter = &offsetRecorder{offsets: &offsets}
	s.Now = func() time.Time { return time.Unix(hostEpoch, 5e8) }
	err := s.Run(stopAfter(dev, 2))
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, []time.Duration{2500 * time.Millisecond}, offsets)
}

type offsetRecorder struct {
	recorder
	offsets *[]time.Duration
}

func (r *offsetRecorder) TimeRead(t time.Time, offset time.Duration) {
	*r.offsets = append(*r.offsets, offset)
}

func TestInterrupt(t *testing.T) {
	dev := newFakeDevice()
	rec := &recorder{}
	s := newTestScheduler(dev, rec)
	s.After = func(time.Duration) <-chan time.Time { return nil }
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Stats().Ticks == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, StateRunning, s.State())
	select {
	case <-s.Done():
		t.Fatal("done before stop")
	default:
	}
	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("not done after cancel")
	}
	err := <-errCh
	require.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, ExitOK, ExitCode(err))
	assert.Equal(t, 1, dev.closed)
	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Err())
	assert.Equal(t, []string{"running", "set", "shutdown", "stopped"}, rec.events)
}

func TestCancelledBeforeOpen(t *testing.T) {
	opened := false
	s := &Scheduler{
		Path:     "/dev/ttyUSB0",
		Open:     func(string) (Conn, error) { opened = true; return nil, nil },
		Monitor:  presence(true),
		Reporter: &recorder{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx)
	require.True(t, errors.Is(err, context.Canceled))
	assert.False(t, opened)
	assert.Equal(t, StateStopped, s.State())
}

func TestOpenFailure(t *testing.T) {
	rec := &recorder{}
	s := &Scheduler{
		Path:     "/dev/ttyUSB0",
		Open:     func(string) (Conn, error) { return nil, errors.New("permission denied") },
		Monitor:  presence(true),
		Reporter: rec,
	}
	err := s.Run(context.Background())
	var connErr *rtc.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "/dev/ttyUSB0", connErr.Path)
	assert.Equal(t, []string{"stopped"}, rec.events)
	assert.Equal(t, err, rec.err)
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, ExitDeviceError, ExitCode(err))
	select {
	case <-s.Done():
	default:
		t.Fatal("not done after failed open")
	}

	require.Equal(t, ErrNotIdle, s.Run(context.Background()))
}

func TestExitCode(t *testing.T) {
	testCases := []struct {
		err  error
		code int
	}{
		{nil, ExitOK},
		{context.Canceled, ExitOK},
		{fmt.Errorf("run: %w", context.Canceled), ExitOK},
		{&rtc.ProtocolError{Response: []byte("x")}, ExitProtocolError},
		{&rtc.IOError{Op: "read", Err: errors.New("eio")}, ExitDeviceError},
		{ErrDisconnected, ExitDeviceError},
	}
	for _, tc := range testCases {
		assert.Equalf(t, tc.code, ExitCode(tc.err), "%v", tc.err)
	}
}

func TestConfig(t *testing.T) {
	conf := NewConfig()
	conf.Watch = false
	require.NoError(t, conf.Validate())
	s, err := conf.NewScheduler("/dev/ttyUSB0", &recorder{})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, s.Interval)
	assert.Equal(t, uint64(DefaultSetEvery), s.SetEvery)
	assert.Equal(t, rtc.DefaultReadTimeout, s.ReadTimeout)

	conf.SetEvery = 0
	_, err = conf.NewScheduler("/dev/ttyUSB0", &recorder{})
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopped", StateStopped.String())
}
