// Package sh provides an interactive shell talking to a clock peripheral.
package sh

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/rtcsync/pkg/rtc"
	"github.com/robotalks/rtcsync/pkg/rtc/device"
	"github.com/robotalks/rtcsync/pkg/timesync"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoOpen    bool

	Shell   *ishell.Shell
	Config  *timesync.Config
	Session *Session
	// Now is the host clock, time.Now if nil.
	Now func() time.Time
}

// Session is an open device.
type Session struct {
	Path  string
	Conn  timesync.Conn
	Clock *rtc.Clock
}

// TimeInfo is the JSON output of read and set.
type TimeInfo struct {
	Epoch     float64 `json:"epoch"`
	Time      string  `json:"time"`
	Offset    float64 `json:"offset,omitempty"`
	Confirmed *bool   `json:"confirmed,omitempty"`
}

const (
	shellKey     = "$shell"
	closedPrompt = "[none] > "
)

var (
	// ErrNotOpen indicates a command needs an open device.
	ErrNotOpen = errors.New("no device open")
	// ErrNoChoice indicates the choice is cancelled.
	ErrNoChoice = errors.New("no device chosen")

	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&PortsCmd,
		&OpenCmd,
		&CloseCmd,
		&SetCmd,
		&ReadCmd,
	}
)

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// New creates a new shell.
func New(conf *timesync.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(closedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeOpen wraps command func requires an open device.
func MustBeOpen(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Session == nil {
			c.Err(ErrNotOpen)
			return
		}
		fn(c)
	}
}

// Chooser asks for one of items and returns its index, negative if
// cancelled.
type Chooser func(items []string, text string) int

// PickDevice picks one of paths. A single candidate is used without asking.
func PickDevice(paths []string, choose Chooser) (string, error) {
	switch {
	case len(paths) == 0:
		return "", device.ErrNoDevice
	case len(paths) == 1:
		return paths[0], nil
	case choose == nil:
		return "", fmt.Errorf("%d devices found, specify one with -device", len(paths))
	}
	index := choose(paths, "Which device to use?")
	if index < 0 || index >= len(paths) {
		return "", ErrNoChoice
	}
	return paths[index], nil
}

// SelectDevice discovers devices and asks for a choice when interactive.
func (s *Shell) SelectDevice() (string, error) {
	paths, err := device.Discover()
	if err != nil {
		return "", err
	}
	var choose Chooser
	if s.Interactive {
		choose = s.Shell.MultiChoice
	}
	return PickDevice(paths, choose)
}

// Open opens the device at path, closing the current one.
func (s *Shell) Open(path string) error {
	conn, err := s.Config.Opener()(path)
	if err != nil {
		return err
	}
	s.Close()
	s.Session = &Session{
		Path:  path,
		Conn:  conn,
		Clock: &rtc.Clock{Conn: conn, ReadTimeout: s.Config.ReadTimeout},
	}
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", filepath.Base(path)))
	return nil
}

// Close closes current device.
func (s *Shell) Close() {
	if s.Session != nil {
		if err := s.Session.Conn.Close(); err != nil {
			log.Printf("close %s: %v", s.Session.Path, err)
		}
		s.Session = nil
		s.Shell.SetPrompt(closedPrompt)
	}
}

func (s *Shell) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Print prints info in text or JSON.
func (s *Shell) Print(c *ishell.Context, text string, info *TimeInfo) {
	if !s.OutputJSON {
		c.Println(text)
		return
	}
	out, err := json.Marshal(info)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}

// SetTime sets the peripheral time to epoch.
func (s *Shell) SetTime(c *ishell.Context, epoch int64) error {
	confirmed, err := s.Session.Clock.SetTime(epoch)
	if err != nil {
		return err
	}
	t := time.Unix(epoch, 0)
	text := "Time set to " + rtc.FormatTime(t)
	if !confirmed {
		text = "Not confirmed"
	}
	s.Print(c, text, &TimeInfo{Epoch: float64(epoch), Time: rtc.FormatTime(t), Confirmed: &confirmed})
	return nil
}

// ReadTime reads the peripheral time.
func (s *Shell) ReadTime(c *ishell.Context) error {
	epoch, err := s.Session.Clock.ReadTime()
	if err != nil {
		return err
	}
	t := rtc.EpochTime(epoch)
	offset := t.Sub(s.now())
	s.Print(c, fmt.Sprintf("RTC time: %s (%+v)", rtc.FormatTime(t), offset.Round(time.Millisecond)),
		&TimeInfo{Epoch: epoch, Time: rtc.FormatTime(t), Offset: offset.Seconds()})
	return nil
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoOpen && s.Config.Device != "" {
		if s.Interactive {
			s.Shell.Printf("Opening %s ...\n", s.Config.Device)
		}
		if err := s.Open(s.Config.Device); err != nil {
			log.Fatalf("open %q failed: %v", s.Config.Device, err)
		}
	}
	defer s.Close()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// PortsCmd lists candidate devices.
	PortsCmd = ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"list", "l"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			paths, err := device.Discover()
			if err != nil && !errors.Is(err, device.ErrNoDevice) {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if len(paths) == 0 {
					// in case paths is nil, make it empty slice.
					paths = []string{}
				}
				out, err := json.Marshal(paths)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			if len(paths) == 0 {
				c.Println("No devices found")
				return
			}
			for _, path := range paths {
				c.Println(path)
			}
		},
	}

	// OpenCmd opens a device.
	OpenCmd = ishell.Cmd{
		Name:    "open",
		Aliases: []string{"o"},
		Help:    "[PATH]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var path string
			if len(c.Args) > 0 {
				path = c.Args[0]
			} else {
				var err error
				if path, err = s.SelectDevice(); err != nil {
					c.Err(err)
					return
				}
			}
			if err := s.Open(path); err != nil {
				c.Err(err)
			}
		},
	}

	// CloseCmd closes current device.
	CloseCmd = ishell.Cmd{
		Name:    "close",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Close()
		},
	}

	// SetCmd sets the peripheral time.
	SetCmd = ishell.Cmd{
		Name:    "set",
		Aliases: []string{"s"},
		Help:    "[EPOCH], host time if omitted",
		Func: MustBeOpen(func(c *ishell.Context) {
			s := ShellFrom(c)
			epoch := s.now().Unix()
			if len(c.Args) > 0 {
				val, err := strconv.ParseInt(c.Args[0], 10, 64)
				if err != nil {
					c.Err(fmt.Errorf("Invalid EPOCH: %v", err))
					return
				}
				epoch = val
			}
			if err := s.SetTime(c, epoch); err != nil {
				c.Err(err)
			}
		}),
	}

	// ReadCmd reads the peripheral time.
	ReadCmd = ishell.Cmd{
		Name:    "read",
		Aliases: []string{"r"},
		Help:    "",
		Func: MustBeOpen(func(c *ishell.Context) {
			if err := ShellFrom(c).ReadTime(c); err != nil {
				c.Err(err)
			}
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	s := New(timesync.NewConfig())
	s.AutoOpen = true
	s.Run(flag.Args()...)
}
