package main

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"

	"knobd/rotary"
)

// fakePort behaves like a serial port opened with a read timeout: Read
// returns queued bytes, or (0, io.EOF) after a short wait when idle.
type fakePort struct {
	data chan []byte
	fail chan error

	mu     sync.Mutex
	closed bool
}

func newFakePort() *fakePort {
	return &fakePort{data: make(chan []byte, 16), fail: make(chan error, 1)}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case chunk := <-p.data:
		return copy(b, chunk), nil
	case err := <-p.fail:
		return 0, err
	case <-time.After(5 * time.Millisecond):
		return 0, io.EOF
	}
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func newTestSerialSource(port *fakePort) (*SerialSource, *[]*serial.Config) {
	var opened []*serial.Config
	src := NewSerialSource(SerialConfig{Device: "/dev/ttyFAKE"}, discardLogger())
	src.open = func(c *serial.Config) (io.ReadCloser, error) {
		opened = append(opened, c)
		return port, nil
	}
	return src, &opened
}

func TestParseSample(t *testing.T) {
	tests := []struct {
		in   byte
		want rotary.Sample
		ok   bool
	}{
		{'0', 0, true},
		{'3', 3, true},
		{0x02, 2, true},
		{'4', 0, false},
		{'\n', 0, false},
		{'A', 0, false},
	}
	for _, tt := range tests {
		got, ok := parseSample(tt.in)
		assert.Equal(t, tt.ok, ok, "byte %q", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, "byte %q", tt.in)
		}
	}
}

func TestNewSerialSource_Defaults(t *testing.T) {
	src := NewSerialSource(SerialConfig{Device: "/dev/ttyUSB0"}, discardLogger())
	assert.Equal(t, "/dev/ttyUSB0", src.cfg.Name)
	assert.Equal(t, defaultSerialBaud, src.cfg.Baud)
	assert.Equal(t, defaultSerialReadTimeoutMS*time.Millisecond, src.cfg.ReadTimeout)

	src = NewSerialSource(SerialConfig{Device: "/dev/ttyUSB0", Baud: 9600, ReadTimeoutMS: 20}, discardLogger())
	assert.Equal(t, 9600, src.cfg.Baud)
	assert.Equal(t, 20*time.Millisecond, src.cfg.ReadTimeout)
}

func TestSerialSource_DrivesTracker(t *testing.T) {
	port := newFakePort()
	src, opened := newTestSerialSource(port)

	tr, err := rotary.New(rotary.Config{Min: 0, Max: 10, Step: 1, Range: rotary.RangeClamp})
	require.NoError(t, err)
	require.NoError(t, tr.Attach(src))
	require.Len(t, *opened, 1)

	// Two clockwise detents as ASCII with line noise, split across reads.
	port.data <- []byte("2013\r\n20")
	port.data <- []byte{0x01, 0x03}

	waitUntil(t, time.Second, func() bool { return tr.Value() == 2 }, "tracker did not reach 2")

	require.NoError(t, tr.Close())
	assert.True(t, port.isClosed())
	assert.Equal(t, uint64(8), tr.Stats().Edges)
}

func TestSerialSource_ReadErrorSurfacesOnStop(t *testing.T) {
	port := newFakePort()
	src, _ := newTestSerialSource(port)

	var edges int
	require.NoError(t, src.Start(func(rotary.Sample) { edges++ }))

	boom := errors.New("device unplugged")
	port.fail <- boom

	err := src.Stop()
	assert.ErrorIs(t, err, boom)
	assert.True(t, port.isClosed())
	assert.Zero(t, edges)
}

func TestSerialSource_StartStop(t *testing.T) {
	port := newFakePort()
	src, opened := newTestSerialSource(port)

	assert.NoError(t, src.Stop(), "stop before start is a no-op")

	require.NoError(t, src.Start(func(rotary.Sample) {}))
	assert.Error(t, src.Start(func(rotary.Sample) {}), "second start fails")
	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())

	require.NoError(t, src.Start(func(rotary.Sample) {}), "restart after stop")
	require.NoError(t, src.Stop())
	assert.Len(t, *opened, 2)
}

func TestSerialSource_OpenError(t *testing.T) {
	src := NewSerialSource(SerialConfig{Device: "/dev/ttyFAKE"}, discardLogger())
	src.open = func(*serial.Config) (io.ReadCloser, error) {
		return nil, errors.New("permission denied")
	}

	err := src.Start(func(rotary.Sample) {})
	assert.ErrorContains(t, err, "open serial port /dev/ttyFAKE")
	assert.NoError(t, src.Stop())
}
