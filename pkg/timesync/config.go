package timesync

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/rtcsync/pkg/report"
	"github.com/robotalks/rtcsync/pkg/rtc"
	"github.com/robotalks/rtcsync/pkg/rtc/device"
	"github.com/robotalks/rtcsync/pkg/rtc/serial"
)

// Config defines the configurations for the scheduler.
type Config struct {
	// Device is the device path, discovered if empty.
	Device       string
	Interval     time.Duration
	SetEvery     uint64
	ReadTimeout  time.Duration
	BaudRate     int
	SkipBadReads bool
	// Watch uses filesystem notifications to detect device removal.
	Watch bool
}

var defaultConfig = Config{
	Interval:    DefaultInterval,
	SetEvery:    DefaultSetEvery,
	ReadTimeout: rtc.DefaultReadTimeout,
	BaudRate:    serial.DefaultMode().BaudRate,
	Watch:       true,
}

func init() {
	defaultConfig.Device = os.Getenv("RTCSYNC_DEVICE")
	if val := os.Getenv("RTCSYNC_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			defaultConfig.Interval = d
		}
	}
	if val := os.Getenv("RTCSYNC_SET_EVERY"); val != "" {
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			defaultConfig.SetEvery = n
		}
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Device, "device", defaultConfig.Device, "Device path, auto detection if empty.")
	flag.DurationVar(&defaultConfig.Interval, "interval", defaultConfig.Interval, "Interval between ticks.")
	flag.Uint64Var(&defaultConfig.SetEvery, "set-every", defaultConfig.SetEvery, "Set time once every N ticks, read on others.")
	flag.DurationVar(&defaultConfig.ReadTimeout, "read-timeout", defaultConfig.ReadTimeout, "Timeout waiting for a reply.")
	flag.IntVar(&defaultConfig.BaudRate, "baud", defaultConfig.BaudRate, "Serial baud rate.")
	flag.BoolVar(&defaultConfig.SkipBadReads, "skip-bad-reads", defaultConfig.SkipBadReads, "Skip unparsable time replies instead of stopping.")
	flag.BoolVar(&defaultConfig.Watch, "watch", defaultConfig.Watch, "Watch device node for removal.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a config with defaults.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Validate checks the values.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("invalid interval %v", c.Interval)
	}
	if c.SetEvery == 0 {
		return fmt.Errorf("set-every must be positive")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("invalid read timeout %v", c.ReadTimeout)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.BaudRate)
	}
	return nil
}

// Opener opens devices over serial with the configured line settings.
func (c *Config) Opener() Opener {
	mode := serial.DefaultMode()
	if c.BaudRate > 0 {
		mode.BaudRate = c.BaudRate
	}
	return func(path string) (Conn, error) {
		port, err := serial.Open(path, mode)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}

// Monitor creates the presence monitor for path.
func (c *Config) Monitor(path string) device.Monitor {
	if c.Watch {
		w, err := device.Watch(path)
		if err == nil {
			return w
		}
		glog.Warningf("watch %s: %v, fallback to polling", path, err)
	}
	return device.StatMonitor{}
}

// NewScheduler creates a Scheduler for the device at path.
func (c *Config) NewScheduler(path string, reporter report.Reporter) (*Scheduler, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		Path:         path,
		Open:         c.Opener(),
		Monitor:      c.Monitor(path),
		Reporter:     reporter,
		Interval:     c.Interval,
		SetEvery:     c.SetEvery,
		ReadTimeout:  c.ReadTimeout,
		SkipBadReads: c.SkipBadReads,
	}, nil
}
