// Package timesync keeps a clock peripheral in sync with the host.
package timesync

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	fx "github.com/robotalks/rtcsync/pkg/framework"
	"github.com/robotalks/rtcsync/pkg/report"
	"github.com/robotalks/rtcsync/pkg/rtc"
	"github.com/robotalks/rtcsync/pkg/rtc/device"
)

// Defaults of the schedule. Setting the time has persistence overhead on
// the peripheral, so it's done once per SetEvery ticks; other ticks read.
const (
	DefaultInterval = 10 * time.Second
	DefaultSetEvery = 6
)

// Conn is an open connection to the peripheral.
type Conn interface {
	rtc.Conn
	io.Closer
}

// Opener opens the device at path.
type Opener func(path string) (Conn, error)

// Stats counts what a run has done.
type Stats struct {
	Ticks     uint64
	Sets      uint64
	Confirmed uint64
	Reads     uint64
	BadReads  uint64
}

// Scheduler owns the connection to one peripheral and alternates time
// sets and reads at a fixed interval.
type Scheduler struct {
	Path     string
	Open     Opener
	Monitor  device.Monitor
	Reporter report.Reporter

	Interval    time.Duration
	SetEvery    uint64
	ReadTimeout time.Duration
	// SkipBadReads turns an unparsable time reply into a skipped tick
	// instead of stopping the run.
	SkipBadReads bool

	// Now is the host clock, time.Now if nil.
	Now func() time.Time
	// After creates the wait between ticks, time.After if nil.
	After func(time.Duration) <-chan time.Time

	state       int32
	doneOnce    sync.Once
	done        chan struct{}
	lock        sync.Mutex
	err         error
	stats       Stats
	unconfirmed int
	conn        Conn
	clock       *rtc.Clock
}

// State returns the current state.
func (s *Scheduler) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// Err returns why the Scheduler stopped, nil for a clean stop or before
// it stopped.
func (s *Scheduler) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.err
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.stats
}

// Done is closed once the Scheduler stopped and released the device.
func (s *Scheduler) Done() <-chan struct{} {
	return s.doneCh()
}

func (s *Scheduler) doneCh() chan struct{} {
	s.doneOnce.Do(func() { s.done = make(chan struct{}) })
	return s.done
}

// Name implements Named.
func (s *Scheduler) Name() string {
	return "timesync"
}

// Run implements Runnable. It opens the device, ticks until the device
// vanishes, an operation fails or ctx is cancelled, and releases the
// device on every path. Cancellation is reported as context.Canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(StateIdle), int32(StateRunning)) {
		return ErrNotIdle
	}
	if err := ctx.Err(); err != nil {
		return s.stop(err)
	}
	conn, err := s.Open(s.Path)
	if err != nil {
		var connErr *rtc.ConnectionError
		if !errors.As(err, &connErr) {
			err = &rtc.ConnectionError{Path: s.Path, Err: err}
		}
		return s.stop(err)
	}
	s.conn = conn
	s.clock = &rtc.Clock{Conn: conn, ReadTimeout: s.ReadTimeout}
	s.Reporter.Running(s.Path)

	loop := fx.NewLoop(s.Interval, s)
	if loop.Interval <= 0 {
		loop.Interval = DefaultInterval
	}
	loop.After = s.After
	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		s.Reporter.ShuttingDown()
	}
	return s.stop(err)
}

// Control implements Controller, one tick.
func (s *Scheduler) Control(cc fx.ControlContext) error {
	s.count(func(st *Stats) { st.Ticks++ })
	if !s.Monitor.IsPresent(s.Path) {
		s.Reporter.Disconnected(s.Path)
		return ErrDisconnected
	}
	if cc.Tick()%s.setEvery() == 0 {
		return s.setTime()
	}
	return s.readTime()
}

func (s *Scheduler) setTime() error {
	epoch := s.now().Unix()
	s.count(func(st *Stats) { st.Sets++ })
	confirmed, err := s.clock.SetTime(epoch)
	if errors.Is(err, rtc.ErrEpochOutOfRange) {
		// host clock not set yet, it's not the peripheral's fault.
		glog.Warningf("host time %d not settable: %v", epoch, err)
		return nil
	}
	if err != nil {
		return err
	}
	if !confirmed {
		s.unconfirmed++
		glog.V(1).Infof("time not confirmed (%d in a row)", s.unconfirmed)
		return nil
	}
	s.unconfirmed = 0
	s.count(func(st *Stats) { st.Confirmed++ })
	s.Reporter.TimeSet(time.Unix(epoch, 0).UTC())
	return nil
}

func (s *Scheduler) readTime() error {
	s.count(func(st *Stats) { st.Reads++ })
	epoch, err := s.clock.ReadTime()
	if err != nil {
		var protoErr *rtc.ProtocolError
		if s.SkipBadReads && errors.As(err, &protoErr) {
			s.count(func(st *Stats) { st.BadReads++ })
			glog.Warningf("skip tick: %v", err)
			return nil
		}
		return err
	}
	t := rtc.EpochTime(epoch)
	s.Reporter.TimeRead(t, t.Sub(s.now()))
	return nil
}

func (s *Scheduler) stop(err error) error {
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil {
			glog.Warningf("close %s: %v", s.Path, cerr)
		}
		s.conn = nil
	}
	if closer, ok := s.Monitor.(io.Closer); ok {
		closer.Close()
	}
	s.lock.Lock()
	if !errors.Is(err, context.Canceled) {
		s.err = err
	}
	s.lock.Unlock()
	atomic.StoreInt32(&s.state, int32(StateStopped))
	s.Reporter.Stopped(s.Err())
	close(s.doneCh())
	return err
}

func (s *Scheduler) count(fn func(*Stats)) {
	s.lock.Lock()
	fn(&s.stats)
	s.lock.Unlock()
}

func (s *Scheduler) setEvery() uint64 {
	if s.SetEvery > 0 {
		return s.SetEvery
	}
	return DefaultSetEvery
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
