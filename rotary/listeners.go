package rotary

import "fmt"

// Listener is called after each accepted value change. A returned error or a
// panic is reported as a *ListenerFault and does not stop later listeners.
type Listener func() error

// ListenerHandle identifies one registration. Adding the same function twice
// yields two handles and two calls per change.
type ListenerHandle uint64

type listenerEntry struct {
	handle ListenerHandle
	fn     Listener
}

// listenerSet is an insertion-ordered registry. Callers hold the tracker lock.
type listenerSet struct {
	next    ListenerHandle
	entries []listenerEntry
}

func (s *listenerSet) add(fn Listener) ListenerHandle {
	s.next++
	s.entries = append(s.entries, listenerEntry{handle: s.next, fn: fn})
	return s.next
}

func (s *listenerSet) remove(h ListenerHandle) error {
	for i, e := range s.entries {
		if e.handle == h {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: handle %d", ErrNotRegistered, h)
}

func (s *listenerSet) len() int { return len(s.entries) }

// invoke calls every listener in registration order and passes each fault to
// report.
func (s *listenerSet) invoke(report func(*ListenerFault)) {
	for _, e := range s.entries {
		if f := call(e); f != nil {
			report(f)
		}
	}
}

func call(e listenerEntry) (fault *ListenerFault) {
	defer func() {
		if r := recover(); r != nil {
			fault = &ListenerFault{Listener: e.handle, Panic: r}
			if err, ok := r.(error); ok {
				fault.Err = err
			}
		}
	}()
	if err := e.fn(); err != nil {
		return &ListenerFault{Listener: e.handle, Err: err}
	}
	return nil
}
