// Package gpio reads encoder lines through the Linux sysfs GPIO interface
// and turns their edges into rotary samples.
package gpio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultRoot is where the kernel exposes the legacy GPIO class.
const DefaultRoot = "/sys/class/gpio"

const defaultVerifyTimeout = 2 * time.Second

// Sysfs opens pins below a sysfs GPIO root.
type Sysfs struct {
	// Root is the class directory; empty means DefaultRoot.
	Root string

	// VerifyTimeout bounds the wait for udev to fix permissions on a
	// freshly exported pin. Zero means two seconds; negative disables the
	// wait.
	VerifyTimeout time.Duration
}

func (s Sysfs) root() string {
	if s.Root == "" {
		return DefaultRoot
	}
	return s.Root
}

func (s Sysfs) pinDir(n int) string {
	return filepath.Join(s.root(), "gpio"+strconv.Itoa(n))
}

// Pin is one exported sysfs GPIO line configured as an input with edge
// detection on both edges.
type Pin struct {
	number int
	dir    string
	unexp  string
	value  *os.File
	buf    []byte
}

// OpenInput exports pin n (unless it already is), sets it as an input that
// reports both edges and opens its value file. activeLow inverts the level
// the kernel reports.
func (s Sysfs) OpenInput(n int, activeLow bool) (*Pin, error) {
	if n < 0 {
		return nil, fmt.Errorf("gpio%d: invalid pin number", n)
	}
	p := &Pin{
		number: n,
		dir:    s.pinDir(n),
		unexp:  filepath.Join(s.root(), "unexport"),
		buf:    make([]byte, 1),
	}
	exported, err := s.export(n)
	fail := func(err error) (*Pin, error) {
		if exported {
			_ = writeFile(p.unexp, strconv.Itoa(n))
		}
		return nil, fmt.Errorf("gpio%d: %w", n, err)
	}
	if err != nil {
		return fail(err)
	}

	if err := writeFile(filepath.Join(p.dir, "direction"), "in"); err != nil {
		return fail(err)
	}
	if err := writeFile(filepath.Join(p.dir, "active_low"), boolAttr(activeLow)); err != nil {
		return fail(err)
	}
	if err := writeFile(filepath.Join(p.dir, "edge"), "both"); err != nil {
		return fail(err)
	}
	p.value, err = os.OpenFile(filepath.Join(p.dir, "value"), os.O_RDONLY, 0)
	if err != nil {
		return fail(err)
	}
	return p, nil
}

// export writes n to the export file when the pin's value file is not
// accessible yet. It reports whether it exported the pin.
func (s Sysfs) export(n int) (bool, error) {
	val := filepath.Join(s.pinDir(n), "value")
	if unix.Access(val, unix.R_OK) == nil {
		return false, nil
	}
	if err := writeFile(filepath.Join(s.root(), "export"), strconv.Itoa(n)); err != nil {
		return false, fmt.Errorf("export: %w", err)
	}
	timeout := s.VerifyTimeout
	if timeout == 0 {
		timeout = defaultVerifyTimeout
	}
	if timeout > 0 {
		if err := waitWritable(filepath.Join(s.pinDir(n), "edge"), timeout); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Number returns the kernel GPIO number.
func (p *Pin) Number() int { return p.number }

// Fd returns the value file descriptor, for polling.
func (p *Pin) Fd() int { return int(p.value.Fd()) }

// Value reads the current level. Reading also acknowledges a pending edge.
func (p *Pin) Value() (bool, error) {
	if _, err := p.value.ReadAt(p.buf, 0); err != nil {
		return false, fmt.Errorf("gpio%d: read: %w", p.number, err)
	}
	switch p.buf[0] {
	case '0':
		return false, nil
	case '1':
		return true, nil
	default:
		return false, fmt.Errorf("gpio%d: unknown value %q", p.number, p.buf)
	}
}

// Close closes the value file and unexports the pin.
func (p *Pin) Close() error {
	err := p.value.Close()
	if uerr := writeFile(p.unexp, strconv.Itoa(p.number)); uerr != nil && !errors.Is(uerr, os.ErrNotExist) {
		err = errors.Join(err, fmt.Errorf("gpio%d: unexport: %w", p.number, uerr))
	}
	return err
}

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func writeFile(name, s string) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	_, err = f.WriteString(s)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// waitWritable polls until udev has made name writable by this process.
func waitWritable(name string, timeout time.Duration) error {
	const interval = time.Millisecond
	for waited := time.Duration(0); waited < timeout; waited += interval {
		if unix.Access(name, unix.W_OK) == nil {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("%s: not writable after %s", name, timeout)
}
