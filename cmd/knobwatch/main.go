package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"knobd/rotary"
)

// knobwatch follows the knobd state websocket and prints knob changes.

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type knobInfo struct {
	Name   string        `json:"name"`
	Source string        `json:"source"`
	Value  int           `json:"value"`
	Config rotary.Config `json:"config"`
}

type valueChanged struct {
	Knob   string `json:"knob"`
	Value  int    `json:"value"`
	Origin string `json:"origin"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3001/ws", "knobd state websocket URL")
		raw   = flag.Bool("raw", false, "Print frames as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			// The daemon only pings from its side; any frame proves liveness.
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			printFrame(os.Stdout, message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// printFrame renders one state frame as human-readable lines.
func printFrame(out io.Writer, message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Fprintf(out, "[TEXT] %s\n", string(message))
		return
	}

	switch env.Type {
	case "state_init":
		var init struct {
			Knobs []knobInfo `json:"knobs"`
		}
		if err := json.Unmarshal(env.Data, &init); err != nil {
			fmt.Fprintf(out, "[INIT] unreadable: %v\n", err)
			return
		}
		for _, k := range init.Knobs {
			fmt.Fprintf(out, "[INIT] %s = %d  [%d..%d %s] (%s)\n",
				k.Name, k.Value, k.Config.Min, k.Config.Max, k.Config.Range, k.Source)
		}

	case "value_changed":
		var vc valueChanged
		if err := json.Unmarshal(env.Data, &vc); err != nil {
			fmt.Fprintf(out, "[VALUE] unreadable: %v\n", err)
			return
		}
		fmt.Fprintf(out, "[VALUE] %s = %d (%s)\n", vc.Knob, vc.Value, vc.Origin)

	case "knob_configured":
		var k knobInfo
		if err := json.Unmarshal(env.Data, &k); err != nil {
			fmt.Fprintf(out, "[CONFIG] unreadable: %v\n", err)
			return
		}
		c := k.Config
		fmt.Fprintf(out, "[CONFIG] %s = %d  [%d..%d step %d %s] reverse=%t half_step=%t invert=%t\n",
			k.Name, k.Value, c.Min, c.Max, c.Step, c.Range, c.Reverse, c.HalfStep, c.Invert)

	default:
		fmt.Fprintf(out, "[%s] %s\n", env.Type, string(env.Data))
	}
}
