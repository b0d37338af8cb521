// Package device finds clock peripherals and watches their device nodes.
package device

import (
	"errors"
	"path/filepath"
	"sort"

	"github.com/golang/glog"

	"github.com/robotalks/rtcsync/pkg/rtc/serial"
)

// ErrNoDevice indicates no candidate device is found.
var ErrNoDevice = errors.New("no device found")

// DefaultPatterns are the device nodes USB serial adapters show up as.
var DefaultPatterns = []string{
	"/dev/tty.usb*",
	"/dev/ttyUSB*",
	"/dev/ttyACM*",
}

var listPorts = serial.Ports

// Discover lists candidate device paths matching any of patterns,
// DefaultPatterns if none given. Results are sorted.
func Discover(patterns ...string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	found := make(map[string]struct{})

	ports, err := listPorts()
	if err != nil {
		glog.Warningf("list serial ports: %v", err)
	}
	for _, port := range ports {
		if matchAny(port, patterns) {
			found[port] = struct{}{}
		}
	}

	// Not every adapter is enumerated by the port list (e.g. cu/tty pairs).
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			found[m] = struct{}{}
		}
	}

	if len(found) == 0 {
		return nil, ErrNoDevice
	}
	paths := make([]string, 0, len(found))
	for path := range found {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

func matchAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
	}
	return false
}
