package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knobd/rotary"
)

func TestParseArgs(t *testing.T) {
	opts, rest, err := parseArgs([]string{"-socket", "/run/k.sock", "-json", "get", "left"})
	require.NoError(t, err)
	assert.Equal(t, options{socket: "/run/k.sock", rawJSON: true}, opts)
	assert.Equal(t, []string{"get", "left"}, rest)

	opts, rest, err = parseArgs([]string{"list"})
	require.NoError(t, err)
	assert.Equal(t, defaultSocket, opts.socket)
	assert.Equal(t, []string{"list"}, rest)

	_, _, err = parseArgs([]string{"-socket"})
	assert.Error(t, err)
}

func TestParseUpdate(t *testing.T) {
	u, err := parseUpdate([]string{"max=30", "range=wrap", "half-step=true", "Value=4"})
	require.NoError(t, err)
	assert.Equal(t, rotary.Update{
		Value:    rotary.Ptr(4),
		Max:      rotary.Ptr(30),
		Range:    rotary.Ptr(rotary.RangeWrap),
		HalfStep: rotary.Ptr(true),
	}, u)

	for _, bad := range []string{"max", "max=lots", "range=spiral", "reverse=maybe", "colour=red"} {
		_, err := parseUpdate([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestMarshalRequest(t *testing.T) {
	b, err := marshalRequest("configure", configureRequest{Knob: "left", Update: rotary.Update{Min: rotary.Ptr(2)}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"configure","data":{"knob":"left","min":2}}`, string(b))

	b, err = marshalRequest("list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"list"}`, string(b))
}

// fakeDaemon answers each request line with the next canned response and
// reports the requests it saw.
func fakeDaemon(t *testing.T, responses ...ipcResponse) (string, <-chan requestEnvelope) {
	t.Helper()
	dir, err := os.MkdirTemp("", "knobctl")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	path := filepath.Join(dir, "d.sock")

	ln, err := net.Listen("unix", path)
	require.NoError(t, err)

	seen := make(chan requestEnvelope, len(responses))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, resp := range responses {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			line, _ := bufio.NewReader(conn).ReadBytes('\n')
			var env requestEnvelope
			_ = json.Unmarshal(line, &env)
			seen <- env
			_ = json.NewEncoder(conn).Encode(resp)
			conn.Close()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		<-done
	})
	return path, seen
}

func TestRunCommand_Reset(t *testing.T) {
	left := knobInfo{Name: "left", Source: "gpio", Value: 1, Config: rotary.Config{Min: 1, Max: 20, Step: 1, Range: rotary.RangeClamp}}
	path, seen := fakeDaemon(t, ipcResponse{Status: "ok", Knob: &left})

	var out bytes.Buffer
	require.NoError(t, runCommand(&out, options{socket: path}, []string{"reset", "left"}))
	assert.Contains(t, out.String(), "left")
	assert.Contains(t, out.String(), "[1..20 step 1 clamp]")

	req := <-seen
	assert.Equal(t, "set_value", req.Type)
	assert.JSONEq(t, `{"knob":"left","value":0}`, string(req.Data))
}

func TestRunCommand_ListJSON(t *testing.T) {
	path, _ := fakeDaemon(t, ipcResponse{Status: "ok", Knobs: []knobInfo{{Name: "a"}, {Name: "b"}}})

	var out bytes.Buffer
	require.NoError(t, runCommand(&out, options{socket: path, rawJSON: true}, []string{"list"}))

	var resp ipcResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.Len(t, resp.Knobs, 2)
	assert.Equal(t, "b", resp.Knobs[1].Name)
}

func TestRunCommand_DaemonError(t *testing.T) {
	path, _ := fakeDaemon(t, ipcResponse{Status: "error", Error: `unknown knob: "x"`})

	err := runCommand(&bytes.Buffer{}, options{socket: path}, []string{"get", "x"})
	assert.ErrorContains(t, err, "unknown knob")
}

func TestRunCommand_UsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"get"},
		{"set", "left"},
		{"set", "left", "ten"},
		{"configure", "left"},
		{"configure", "left", "bogus"},
		{"spin"},
	} {
		err := runCommand(&bytes.Buffer{}, options{socket: "/nonexistent.sock"}, args)
		assert.Error(t, err, "%v", args)
	}
}
