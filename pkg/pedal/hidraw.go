package pedal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/generalistai/gello-teleop/pkg/teleop"
)

// Elgato Stream Deck pedal.
const (
	DefaultVendorID  = 0x0fd9
	DefaultProductID = 0x0086
)

const reportSize = 64

// HidrawDevice reads raw reports from a /dev/hidraw node opened
// nonblocking. Poll with a timeout stands in for a blocking read so
// the monitor loop stays responsive to cancellation.
type HidrawDevice struct {
	f    *os.File
	path string
}

// OpenHidraw opens a specific hidraw node.
func OpenHidraw(path string) (*HidrawDevice, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %v", path, teleop.ErrDeviceUnavailable, err)
	}
	return &HidrawDevice{f: f, path: path}, nil
}

// FindPedal scans /sys/class/hidraw for a node whose HID_ID matches
// the given vendor and product, and opens it.
func FindPedal(vendor, product uint16) (*HidrawDevice, error) {
	nodes, err := filepath.Glob("/sys/class/hidraw/hidraw*")
	if err != nil || len(nodes) == 0 {
		return nil, fmt.Errorf("no hidraw nodes: %w", teleop.ErrDeviceUnavailable)
	}

	want := fmt.Sprintf("%08X:%08X", vendor, product)
	for _, node := range nodes {
		uevent, err := os.ReadFile(filepath.Join(node, "device", "uevent"))
		if err != nil {
			continue
		}
		// HID_ID=0003:00000FD9:00000086
		if !hidIDMatches(string(uevent), want) {
			continue
		}
		return OpenHidraw("/dev/" + filepath.Base(node))
	}
	return nil, fmt.Errorf("pedal %04x:%04x not found: %w", vendor, product, teleop.ErrDeviceUnavailable)
}

func hidIDMatches(uevent, want string) bool {
	for _, line := range strings.Split(uevent, "\n") {
		if !strings.HasPrefix(line, "HID_ID=") {
			continue
		}
		return strings.HasSuffix(strings.TrimSpace(line), want)
	}
	return false
}

// ReadReport waits up to timeout for a report. Returns (nil, nil) when
// the pedal had nothing to say.
func (d *HidrawDevice) ReadReport(timeout time.Duration) ([]byte, error) {
	fds := []unix.PollFd{{Fd: int32(d.f.Fd()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", d.path, err)
	}
	if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			return nil, fmt.Errorf("%s: %w", d.path, teleop.ErrDeviceUnavailable)
		}
		return nil, nil
	}

	buf := make([]byte, reportSize)
	m, err := d.f.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d.path, err)
	}
	return buf[:m], nil
}

func (d *HidrawDevice) Close() error { return d.f.Close() }
