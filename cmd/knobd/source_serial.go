package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tarm/serial"

	"knobd/rotary"
)

// ============================================================================
// Serial bridge source
// ============================================================================
// For encoders wired to a microcontroller that forwards line states over a
// serial port. Each byte '0'..'3' (or raw 0x00..0x03) is one two-bit sample
// with A in bit 1 and B in bit 0; anything else (newlines, banners) is
// skipped. Reads use a timeout so Stop can join the reader promptly.
// ============================================================================

type openPortFunc func(*serial.Config) (io.ReadCloser, error)

func openSerialPort(c *serial.Config) (io.ReadCloser, error) {
	return serial.OpenPort(c)
}

// SerialSource implements rotary.Source over a serial port.
type SerialSource struct {
	cfg    *serial.Config
	open   openPortFunc
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	port    io.ReadCloser
	stop    chan struct{}
	done    chan struct{}
	err     error
}

// NewSerialSource builds a source for sc, applying the baud and read timeout
// defaults.
func NewSerialSource(sc SerialConfig, logger *slog.Logger) *SerialSource {
	baud := sc.Baud
	if baud == 0 {
		baud = defaultSerialBaud
	}
	timeoutMS := sc.ReadTimeoutMS
	if timeoutMS == 0 {
		timeoutMS = defaultSerialReadTimeoutMS
	}
	return &SerialSource{
		cfg: &serial.Config{
			Name:        ExpandPath(sc.Device),
			Baud:        baud,
			ReadTimeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		open:   openSerialPort,
		logger: logger,
	}
}

// parseSample maps one bridge byte onto a sample.
func parseSample(b byte) (rotary.Sample, bool) {
	switch {
	case b >= '0' && b <= '3':
		return rotary.Sample(b - '0'), true
	case b <= 0x03:
		return rotary.Sample(b), true
	default:
		return 0, false
	}
}

func (s *SerialSource) Start(edge func(rotary.Sample)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("serial source already started")
	}

	port, err := s.open(s.cfg)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", s.cfg.Name, err)
	}

	s.port = port
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.err = nil
	s.running = true
	go s.readLoop(port, s.stop, s.done, edge)

	s.logger.Info("serial source started", "device", s.cfg.Name, "baud", s.cfg.Baud)
	return nil
}

func (s *SerialSource) readLoop(port io.Reader, stop <-chan struct{}, done chan<- struct{}, edge func(rotary.Sample)) {
	defer close(done)

	buf := make([]byte, 64)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		for _, b := range buf[:n] {
			if sample, ok := parseSample(b); ok {
				edge(sample)
			}
		}
		if err != nil {
			// A read timeout with no data surfaces as io.EOF.
			if errors.Is(err, io.EOF) {
				continue
			}
			s.logger.Error("serial source stopped", "device", s.cfg.Name, "error", err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
	}
}

// Stop waits for the reader to observe the stop request, which takes at most
// one read timeout, then closes the port.
func (s *SerialSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	port, stop, done := s.port, s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	cerr := port.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.err, cerr)
}
