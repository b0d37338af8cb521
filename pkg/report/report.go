// Package report delivers time sync outcomes to people and other systems.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/rtcsync/pkg/rtc"
)

// Reporter receives the outcome of each scheduler step.
type Reporter interface {
	// Running is called once the device is open.
	Running(path string)
	// TimeSet is called when the peripheral confirmed a time set.
	TimeSet(t time.Time)
	// TimeRead is called with the peripheral time and its offset from
	// host time (positive when the peripheral is ahead).
	TimeRead(t time.Time, offset time.Duration)
	// Disconnected is called when the device node vanished.
	Disconnected(path string)
	// ShuttingDown is called when the stop was requested from outside.
	ShuttingDown()
	// Stopped is called last, with the reason of the stop.
	Stopped(err error)
}

// Console prints human-readable status lines.
type Console struct {
	Out io.Writer
}

// NewConsole creates a Console writing to stdout.
func NewConsole() *Console {
	return &Console{Out: os.Stdout}
}

// Running implements Reporter.
func (c *Console) Running(path string) {
	glog.Infof("synchronizing %s", path)
}

// TimeSet implements Reporter.
func (c *Console) TimeSet(t time.Time) {
	fmt.Fprintf(c.Out, "Time set to %s\n", rtc.FormatTime(t))
}

// TimeRead implements Reporter.
func (c *Console) TimeRead(t time.Time, offset time.Duration) {
	fmt.Fprintf(c.Out, "RTC time: %s\n", rtc.FormatTime(t))
	glog.V(1).Infof("rtc offset %v", offset)
}

// Disconnected implements Reporter.
func (c *Console) Disconnected(path string) {
	fmt.Fprintln(c.Out, "Device disconnected?")
}

// ShuttingDown implements Reporter.
func (c *Console) ShuttingDown() {
	fmt.Fprintln(c.Out, "\nShutting down time server.")
}

// Stopped implements Reporter.
func (c *Console) Stopped(err error) {
	if err != nil {
		glog.Errorf("stopped: %v", err)
	}
}

// Multi forwards to all Reporters in order.
type Multi []Reporter

// Running implements Reporter.
func (m Multi) Running(path string) {
	for _, r := range m {
		r.Running(path)
	}
}

// TimeSet implements Reporter.
func (m Multi) TimeSet(t time.Time) {
	for _, r := range m {
		r.TimeSet(t)
	}
}

// TimeRead implements Reporter.
func (m Multi) TimeRead(t time.Time, offset time.Duration) {
	for _, r := range m {
		r.TimeRead(t, offset)
	}
}

// Disconnected implements Reporter.
func (m Multi) Disconnected(path string) {
	for _, r := range m {
		r.Disconnected(path)
	}
}

// ShuttingDown implements Reporter.
func (m Multi) ShuttingDown() {
	for _, r := range m {
		r.ShuttingDown()
	}
}

// Stopped implements Reporter.
func (m Multi) Stopped(err error) {
	for _, r := range m {
		r.Stopped(err)
	}
}
