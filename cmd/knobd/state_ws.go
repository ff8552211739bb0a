package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// Clients connect, receive a "state_init" snapshot of every knob, then a
// stream of "value_changed" and "knob_configured" messages. Frames are JSON
// text messages with an envelope: {type, ts, data}.
//
// The snapshot on connect is requested through the daemon loop, the same as
// an IPC "list". Slow clients are disconnected when their send buffer fills.
//
// ============================================================================

// wsStateInitData is the `data` payload of "state_init".
type wsStateInitData struct {
	Knobs []KnobInfo `json:"knobs"`
}

// wsValueChangedData is the `data` payload of "value_changed".
type wsValueChangedData struct {
	Knob   string `json:"knob"`
	Value  int    `json:"value"`
	Origin string `json:"origin"`
}

type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time
}

type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(ev wsOutboundEvent) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf   int
	onClients func(int)
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size. Zero means 32.
	SendBuf int

	// BroadcastBuf is the hub inbound queue size. Zero means 128.
	BroadcastBuf int

	// OnClients, if set, is called with the client count after every change.
	OnClients func(n int)
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
		onClients:  cfg.OnClients,
	}
}

// Run processes hub events until ctx is canceled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.notifyClients(n)
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount reports the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) notifyClients(n int) {
	if h.onClients != nil {
		h.onClients(n)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.notifyClients(0)
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	// Closing send makes writePump exit.
	c.closeSend()
	h.notifyClients(n)
	h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// BroadcastBytes enqueues a serialized frame. It drops the frame rather than
// block when the hub queue is full.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel sized by the hub.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsValueCoalesceWindow bounds how often a knob's value_changed is sent while
// the knob keeps turning. The latest value within the window wins.
const wsValueCoalesceWindow = 50 * time.Millisecond

func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump, kind string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting ("+kind+" error)", "remote_addr", c.remoteAddr, "error", err)
}

// writePump drains the send queue and pings. It exits on write error or when
// send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping", err)
				return
			}
		}
	}
}

// readPump discards inbound messages; it exists to process control frames
// and notice disconnects.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", "read", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type Server struct {
	logger *slog.Logger
	hub    *Hub

	// events carries the snapshot request for state_init.
	events chan<- Event
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the state server. Register it on a mux, then run
// Hub().Run and RunBroadcaster.
func NewServer(logger *slog.Logger, events chan<- Event, cfg ServerConfig) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg.Hub),
		events: events,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register installs the websocket handler on mux at path.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register before the snapshot so no change between the two is missed.
	s.hub.register <- client

	// The pumps outlive the handler; net/http cancels r.Context() on return.
	go client.writePump()
	go client.readPump()

	if s.events == nil {
		return
	}

	reply := make(chan StateSnapshot, 1)
	select {
	case <-r.Context().Done():
		return
	case s.events <- RequestStateSnapshot{Reply: reply}:
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()

	select {
	case <-waitCtx.Done():
		if !errors.Is(waitCtx.Err(), context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", waitCtx.Err())
		}
		return

	case snap := <-reply:
		initMsg, err := marshalEnvelope(wsOutboundEvent{
			Type: "state_init",
			Data: wsStateInitData{Knobs: snap.Knobs},
			At:   snap.At,
		})
		if err != nil {
			s.logger.Warn("ws state_init marshal failed", "error", err)
			return
		}
		select {
		case client.send <- initMsg:
		default:
			s.hub.unregister <- client
		}
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster turns daemon broadcasts into frames for the hub. It runs as a
// single goroutine.
//
// value_changed is rate limited per knob: while a knob keeps turning, its
// latest value is flushed at most once per wsValueCoalesceWindow. Any other
// message flushes pending values first so clients never see a configure
// before the value change that preceded it.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	pending := make(map[string]wsOutboundEvent)
	var order []string
	var timer *time.Timer
	var timerCh <-chan time.Time

	send := func(ev wsOutboundEvent) {
		msg, err := marshalEnvelope(ev)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flush := func() {
		for _, knob := range order {
			send(pending[knob])
			delete(pending, knob)
		}
		order = order[:0]
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerCh = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			stopTimer()
			return

		case <-timerCh:
			timer, timerCh = nil, nil
			flush()

		case b, ok := <-src:
			if !ok {
				flush()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, knob, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			if ev.Type == "value_changed" {
				if _, queued := pending[knob]; !queued {
					order = append(order, knob)
				}
				pending[knob] = ev
				if timer == nil {
					timer = time.NewTimer(wsValueCoalesceWindow)
					timerCh = timer.C
				}
				continue
			}

			flush()
			stopTimer()
			send(ev)
		}
	}
}

// convertBroadcast maps a daemon broadcast onto its wire event and the knob
// it concerns.
func convertBroadcast(b StateBroadcast) (wsOutboundEvent, string, bool) {
	switch ev := b.(type) {
	case BroadcastValueChanged:
		return wsOutboundEvent{
			Type: "value_changed",
			Data: wsValueChangedData{Knob: ev.Knob, Value: ev.Value, Origin: ev.Origin},
			At:   ev.At,
		}, ev.Knob, true

	case BroadcastKnobConfigured:
		return wsOutboundEvent{
			Type: "knob_configured",
			Data: ev.Info,
			At:   ev.At,
		}, ev.Info.Name, true

	default:
		return wsOutboundEvent{}, "", false
	}
}
