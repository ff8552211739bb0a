package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"knobd/rotary"
)

// ============================================================================
// knobctl - Command-line IPC Client
// ============================================================================
// Sends requests to the knobd daemon over its Unix socket.
//
// Usage:
//   knobctl list
//   knobctl get left
//   knobctl set left 12
//   knobctl reset left
//   knobctl configure left max=30 range=wrap
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/knobd.sock)
//   -json           Print raw JSON responses
// ============================================================================

const defaultSocket = "/tmp/knobd.sock"

// Wire types (duplicated from the daemon for a standalone binary).

type getValueRequest struct {
	Knob string `json:"knob"`
}

type setValueRequest struct {
	Knob  string `json:"knob"`
	Value int    `json:"value"`
}

type configureRequest struct {
	Knob string `json:"knob"`
	rotary.Update
}

type requestEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type knobInfo struct {
	Name   string        `json:"name"`
	Source string        `json:"source"`
	Value  int           `json:"value"`
	Config rotary.Config `json:"config"`
	Stats  rotary.Stats  `json:"stats"`
}

type ipcResponse struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Knob   *knobInfo  `json:"knob,omitempty"`
	Knobs  []knobInfo `json:"knobs,omitempty"`
}

type options struct {
	socket  string
	rawJSON bool
}

func main() {
	opts, args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	if err := runCommand(os.Stdout, opts, args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, []string, error) {
	opts := options{socket: defaultSocket}
	for len(args) > 0 {
		switch args[0] {
		case "-socket", "--socket":
			if len(args) < 2 {
				return opts, nil, errors.New("-socket requires an argument")
			}
			opts.socket = args[1]
			args = args[2:]
		case "-json", "--json":
			opts.rawJSON = true
			args = args[1:]
		default:
			return opts, args, nil
		}
	}
	return opts, args, nil
}

func runCommand(out io.Writer, opts options, args []string) error {
	var (
		reqType string
		payload any
	)

	switch args[0] {
	case "list", "ls":
		reqType = "list"

	case "get":
		if len(args) != 2 {
			return errors.New("usage: get <knob>")
		}
		reqType, payload = "get_value", getValueRequest{Knob: args[1]}

	case "set":
		if len(args) != 3 {
			return errors.New("usage: set <knob> <value>")
		}
		v, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[2], err)
		}
		reqType, payload = "set_value", setValueRequest{Knob: args[1], Value: v}

	case "reset":
		if len(args) != 2 {
			return errors.New("usage: reset <knob>")
		}
		// Zero, folded into the knob's range by the daemon.
		reqType, payload = "set_value", setValueRequest{Knob: args[1], Value: 0}

	case "configure", "config":
		if len(args) < 3 {
			return errors.New("usage: configure <knob> key=value...")
		}
		u, err := parseUpdate(args[2:])
		if err != nil {
			return err
		}
		reqType, payload = "configure", configureRequest{Knob: args[1], Update: u}

	case "help", "-h", "--help":
		printUsage()
		return nil

	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}

	resp, err := send(opts.socket, reqType, payload)
	if err != nil {
		return err
	}
	return printResponse(out, opts, resp)
}

// parseUpdate reads key=value pairs into a partial configuration.
func parseUpdate(pairs []string) (rotary.Update, error) {
	var u rotary.Update
	for _, p := range pairs {
		key, val, ok := strings.Cut(p, "=")
		if !ok {
			return u, fmt.Errorf("expected key=value, got %q", p)
		}
		key = strings.ReplaceAll(strings.ToLower(key), "-", "_")

		var err error
		switch key {
		case "value":
			u.Value, err = parseInt(val)
		case "min":
			u.Min, err = parseInt(val)
		case "max":
			u.Max, err = parseInt(val)
		case "step":
			u.Step, err = parseInt(val)
		case "reverse":
			u.Reverse, err = parseBool(val)
		case "half_step":
			u.HalfStep, err = parseBool(val)
		case "invert":
			u.Invert, err = parseBool(val)
		case "range":
			var m rotary.RangeMode
			m, err = rotary.ParseRangeMode(val)
			u.Range = &m
		default:
			return u, fmt.Errorf("unknown setting %q", key)
		}
		if err != nil {
			return u, fmt.Errorf("%s: %w", key, err)
		}
	}
	return u, nil
}

func parseInt(s string) (*int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseBool(s string) (*bool, error) {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func marshalRequest(reqType string, payload any) ([]byte, error) {
	env := requestEnvelope{Type: reqType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", reqType, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

func send(socketPath, reqType string, payload any) (ipcResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return ipcResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := marshalRequest(reqType, payload)
	if err != nil {
		return ipcResponse{}, err
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return ipcResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp ipcResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return ipcResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status == "error" {
		return resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	if reqType != "list" && resp.Knob == nil {
		return resp, errors.New("daemon response missing knob")
	}
	return resp, nil
}

func printResponse(out io.Writer, opts options, resp ipcResponse) error {
	if opts.rawJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	if resp.Knob != nil {
		printKnob(out, *resp.Knob)
	}
	for _, k := range resp.Knobs {
		printKnob(out, k)
	}
	return nil
}

func printKnob(out io.Writer, k knobInfo) {
	c := k.Config
	flags := ""
	if c.Reverse {
		flags += " reverse"
	}
	if c.HalfStep {
		flags += " half-step"
	}
	if c.Invert {
		flags += " invert"
	}
	fmt.Fprintf(out, "%-10s %6d  [%d..%d step %d %s]%s  (%s, %d detents)\n",
		k.Name, k.Value, c.Min, c.Max, c.Step, c.Range, flags, k.Source, k.Stats.Detents)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `knobctl - Query and configure the knobd daemon via IPC

Usage:
  knobctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: %s)
  -json           Print raw JSON responses

Commands:
  list, ls                          Show every knob
  get <knob>                        Show one knob
  set <knob> <value>                Re-seed a knob's value (folded into its range)
  reset <knob>                      Re-seed a knob to 0 (folded into its range)
  configure, config <knob> k=v...   Change settings: value, min, max, step,
                                    range (unbounded|wrap|clamp), reverse,
                                    half_step, invert
  help, -h, --help                  Show this help message

Examples:
  knobctl list
  knobctl set left 10
  knobctl configure right max=12 range=wrap
  knobctl -socket /run/knobd.sock get left
`, defaultSocket)
}
