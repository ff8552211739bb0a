package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knobd/rotary"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Knobs = []KnobConfig{
		noneKnob("left", 1, 20, rotary.RangeClamp),
		noneKnob("right", 0, 6, rotary.RangeWrap),
	}
	cfg.IPC.SocketPath = shortSocketPath(t)
	cfg.HTTP.Addr = "127.0.0.1:0"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRun_ServesUntilSignal(t *testing.T) {
	cfg := testConfig(t)
	sigCh := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- run(context.Background(), cfg, sigCh, discardLogger()) }()

	waitUntil(t, 2*time.Second, func() bool {
		_, err := SendIPCRequest(cfg.IPC.SocketPath, ListRequest{})
		return err == nil
	}, "daemon not answering IPC")

	resp, err := SendIPCRequest(cfg.IPC.SocketPath, SetValueRequest{Knob: "right", Value: -1})
	require.NoError(t, err)
	assert.Equal(t, 6, resp.Knob.Value)

	resp, err = SendIPCRequest(cfg.IPC.SocketPath, GetValueRequest{Knob: "right"})
	require.NoError(t, err)
	assert.Equal(t, 6, resp.Knob.Value)

	sigCh <- syscall.SIGTERM

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after signal")
	}

	_, err = os.Stat(cfg.IPC.SocketPath)
	assert.True(t, os.IsNotExist(err), "socket removed on shutdown")
}

func TestRun_ContextCancelWithoutHTTP(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = ""

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, cfg, nil, discardLogger()) }()

	waitUntil(t, 2*time.Second, func() bool {
		_, err := SendIPCRequest(cfg.IPC.SocketPath, GetValueRequest{Knob: "left"})
		return err == nil
	}, "daemon not answering IPC")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRun_ComponentFailureStopsAll(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = "256.0.0.1:bad"

	errCh := make(chan error, 1)
	go func() { errCh <- run(context.Background(), cfg, nil, discardLogger()) }()

	select {
	case err := <-errCh:
		assert.ErrorContains(t, err, "HTTP listen")
	case <-time.After(3 * time.Second):
		t.Fatal("run did not fail")
	}
}

func TestRun_BuildFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Knobs = append(cfg.Knobs, KnobConfig{
		Name:   "serial",
		Source: SourceSerial,
		Serial: SerialConfig{Device: "/nonexistent/ttyKNOB"},
	})

	err := run(context.Background(), cfg, nil, discardLogger())
	assert.ErrorContains(t, err, "knob serial")
}
