package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Protocol: line-delimited JSON, one response line per request line.
//   - Client sends: {"type": "get_value", "data": {"knob": "left"}}
//   - Server responds: {"status": "ok", "knob": {...}}
//     or {"status": "error", "error": "msg"}
// ============================================================================

// IPCResponse is sent back for every request line.
type IPCResponse struct {
	Status string     `json:"status"`          // "ok" or "error"
	Error  string     `json:"error,omitempty"` // set when status == "error"
	Knob   *KnobInfo  `json:"knob,omitempty"`
	Knobs  []KnobInfo `json:"knobs,omitempty"`
}

func errorResponse(format string, args ...any) IPCResponse {
	return IPCResponse{Status: "error", Error: fmt.Sprintf(format, args...)}
}

// runIPCServer serves the socket until ctx is canceled.
func runIPCServer(ctx context.Context, socketPath string, events chan<- Event, metrics *Metrics, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Closing the listener unblocks Accept.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, events, metrics, logger)
	}
}

func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- Event, metrics *Metrics, logger *slog.Logger) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.Debug("IPC received", "line", line)

		var resp IPCResponse
		reqType := "invalid"
		req, err := UnmarshalRequest([]byte(line))
		if err != nil {
			resp = errorResponse("parse request: %v", err)
		} else {
			reqType = requestType(req)
			resp = dispatchRequest(ctx, req, events)
		}
		if metrics != nil {
			metrics.IPCRequests.WithLabelValues(reqType, resp.Status).Inc()
		}

		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("IPC connection read error", "error", err)
	}
}

// dispatchRequest turns a request into a daemon event and waits for the reply.
func dispatchRequest(ctx context.Context, req Request, events chan<- Event) IPCResponse {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()

	if _, ok := req.(ListRequest); ok {
		reply := make(chan StateSnapshot, 1)
		if err := sendEvent(ctx, events, RequestStateSnapshot{Reply: reply}); err != nil {
			return errorResponse("%v", err)
		}
		select {
		case snap := <-reply:
			return IPCResponse{Status: "ok", Knobs: snap.Knobs}
		case <-ctx.Done():
			return errorResponse("waiting for daemon: %v", ctx.Err())
		}
	}

	reply := make(chan KnobReply, 1)
	var ev Event
	switch r := req.(type) {
	case GetValueRequest:
		ev = GetKnobValue{Knob: r.Knob, Reply: reply}
	case SetValueRequest:
		ev = SetKnobValue{Knob: r.Knob, Value: r.Value, Reply: reply}
	case ConfigureRequest:
		ev = ConfigureKnob{Knob: r.Knob, Update: r.Update, Reply: reply}
	default:
		return errorResponse("unsupported request %T", req)
	}

	if err := sendEvent(ctx, events, ev); err != nil {
		return errorResponse("%v", err)
	}
	select {
	case r := <-reply:
		if r.Err != nil {
			return errorResponse("%v", r.Err)
		}
		info := r.Info
		return IPCResponse{Status: "ok", Knob: &info}
	case <-ctx.Done():
		return errorResponse("waiting for daemon: %v", ctx.Err())
	}
}

func sendEvent(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event queue full: %w", ctx.Err())
	}
}

// SendIPCRequest sends one request and decodes the response. A daemon-side
// error is returned as an error alongside the response.
func SendIPCRequest(socketPath string, req Request) (IPCResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := MarshalRequest(req)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}
