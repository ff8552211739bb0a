//go:build linux

package gpio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"knobd/rotary"
)

// line is one input the edge source watches.
type line interface {
	Fd() int
	Value() (bool, error)
}

// EdgeSource watches the A (CLK) and B (DT) lines of one encoder with a
// single epoll instance and delivers a rotary.Sample after every edge.
//
// Reading both lines after a wakeup can observe the same pair twice when
// both lines signal; consecutive duplicates are dropped.
type EdgeSource struct {
	a, b   line
	events uint32
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	epfd    int
	stopfd  int
	done    chan struct{}
	err     error
}

// NewEdgeSource returns a source for the given pins. The pins stay owned by
// the caller and must outlive the source.
func NewEdgeSource(a, b *Pin, logger *slog.Logger) *EdgeSource {
	return newEdgeSource(a, b, unix.EPOLLPRI|unix.EPOLLERR, logger)
}

func newEdgeSource(a, b line, events uint32, logger *slog.Logger) *EdgeSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &EdgeSource{a: a, b: b, events: events, logger: logger}
}

// Start registers both lines with epoll and begins delivering samples to
// edge from a dedicated goroutine.
func (s *EdgeSource) Start(edge func(rotary.Sample)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("edge source already started")
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	stopfd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return fmt.Errorf("eventfd: %w", err)
	}
	cleanup := func(err error) error {
		unix.Close(stopfd)
		unix.Close(epfd)
		return err
	}

	for _, l := range []line{s.a, s.b} {
		ev := unix.EpollEvent{Events: s.events, Fd: int32(l.Fd())}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, l.Fd(), &ev); err != nil {
			return cleanup(fmt.Errorf("epoll_ctl_add fd=%d: %w", l.Fd(), err))
		}
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(stopfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, stopfd, &ev); err != nil {
		return cleanup(fmt.Errorf("epoll_ctl_add stop: %w", err))
	}

	// Reading once clears the edge the kernel reports right after export.
	last, err := s.sample()
	if err != nil {
		return cleanup(err)
	}

	s.epfd, s.stopfd = epfd, stopfd
	s.done = make(chan struct{})
	s.err = nil
	s.running = true
	go s.loop(edge, last)
	return nil
}

func (s *EdgeSource) sample() (rotary.Sample, error) {
	a, err := s.a.Value()
	if err != nil {
		return 0, err
	}
	b, err := s.b.Value()
	if err != nil {
		return 0, err
	}
	return rotary.NewSample(a, b), nil
}

func (s *EdgeSource) loop(edge func(rotary.Sample), last rotary.Sample) {
	defer close(s.done)

	const maxEvents = 4
	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := unix.EpollWait(s.epfd, events, -1)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			s.fail(fmt.Errorf("epoll_wait: %w", err))
			return
		}

		wake := false
		for i := 0; i < n; i++ {
			if int(events[i].Fd) == s.stopfd {
				return
			}
			wake = true
		}
		if !wake {
			continue
		}

		cur, err := s.sample()
		if err != nil {
			s.fail(err)
			return
		}
		if cur == last {
			continue
		}
		last = cur
		edge(cur)
	}
}

func (s *EdgeSource) fail(err error) {
	s.logger.Error("edge source stopped", "error", err)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Stop wakes the delivery goroutine and waits for it to exit, so no call to
// the edge callback is in flight when it returns. It returns the error that
// ended delivery early, if any.
func (s *EdgeSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	done, stopfd, epfd := s.done, s.stopfd, s.epfd
	s.mu.Unlock()

	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(stopfd, buf[:]); err != nil {
		s.logger.Warn("edge source stop signal failed", "error", err)
	}
	<-done

	unix.Close(stopfd)
	unix.Close(epfd)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
