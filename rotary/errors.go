package rotary

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned when a configuration violates its
	// invariants. The tracker is left unchanged.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNotRegistered is returned when removing a listener handle that is
	// not currently registered.
	ErrNotRegistered = errors.New("listener not registered")

	// ErrClosed is returned when attaching a source to a closed tracker.
	ErrClosed = errors.New("tracker closed")
)

// ListenerFault describes a listener that returned an error or panicked.
// It is reported through the tracker's fault handler and never returned to
// the signal source.
type ListenerFault struct {
	Tracker  string
	Listener ListenerHandle
	Err      error
	Panic    any
}

func (f *ListenerFault) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("listener %d panicked: %v", f.Listener, f.Panic)
	}
	return fmt.Sprintf("listener %d failed: %v", f.Listener, f.Err)
}

func (f *ListenerFault) Unwrap() error { return f.Err }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}
