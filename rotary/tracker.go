package rotary

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Source delivers quadrature samples to a tracker. Start begins calling edge
// on every transition of either line; Stop detaches and must not return while
// a call to edge is still running.
type Source interface {
	Start(edge func(Sample)) error
	Stop() error
}

// Stats are running counters for one tracker.
type Stats struct {
	Edges   uint64 `json:"edges"`   // samples processed
	Detents uint64 `json:"detents"` // direction events emitted by the decoder
	Changes uint64 `json:"changes"` // accepted value changes
	Faults  uint64 `json:"faults"`  // listener faults reported
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithName labels log lines and faults.
func WithName(name string) Option {
	return func(t *Tracker) { t.name = name }
}

// WithLogger sets the logger used by the default fault handler.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithFaultHandler replaces the default fault handler, which logs at error
// level. The handler runs under the tracker lock and must not block.
func WithFaultHandler(fn func(*ListenerFault)) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.onFault = fn
		}
	}
}

// WithValue sets the starting value instead of Min.
func WithValue(v int) Option {
	return func(t *Tracker) { t.initial = &v }
}

// Tracker combines a Decoder with a range policy to maintain a value and
// notify listeners once per accepted change.
//
// Edge processing, configuration and listener registration are serialized
// by one lock. Listeners run synchronously under that lock: they must be
// fast, and may call Value and Stats, but calling Configure, ResetValue,
// AddListener, RemoveListener, OnEdge or Close on the same tracker from a
// listener deadlocks.
type Tracker struct {
	name    string
	logger  *slog.Logger
	onFault func(*ListenerFault)
	initial *int

	mu        sync.Mutex
	cfg       Config
	dec       *Decoder
	listeners listenerSet
	closed    bool

	// attachMu orders Attach against Close so a source is never started
	// after the tracker has detached.
	attachMu sync.Mutex
	source   Source

	value   atomic.Int64
	edges   atomic.Uint64
	detents atomic.Uint64
	changes atomic.Uint64
	faults  atomic.Uint64
}

// New validates cfg and returns a tracker at rest. The value starts at
// cfg.Min unless WithValue is given.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Tracker{
		logger: slog.Default(),
		cfg:    cfg,
		dec:    NewDecoder(cfg.HalfStep),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.onFault == nil {
		t.onFault = t.logFault
	}
	v := cfg.Min
	if t.initial != nil {
		v = *t.initial
	}
	t.value.Store(int64(normalize(cfg, v)))
	return t, nil
}

// Name returns the label given by WithName.
func (t *Tracker) Name() string { return t.name }

// Value returns the tracked value. It does not take the tracker lock.
func (t *Tracker) Value() int { return int(t.value.Load()) }

// Stats returns a snapshot of the counters. It does not take the tracker lock.
func (t *Tracker) Stats() Stats {
	return Stats{
		Edges:   t.edges.Load(),
		Detents: t.detents.Load(),
		Changes: t.changes.Load(),
		Faults:  t.faults.Load(),
	}
}

// Config returns the current configuration.
func (t *Tracker) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// DecoderState reports the decoder's internal state.
func (t *Tracker) DecoderState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dec.State()
}

// OnEdge processes one raw sample. It is a no-op once the tracker is closed.
func (t *Tracker) OnEdge(raw Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.edges.Add(1)

	s := raw & sampleMask
	if t.cfg.Invert {
		s = s.Invert()
	}

	incr := 0
	switch t.dec.Advance(s) {
	case DirClockwise:
		incr = t.cfg.Step
	case DirCounterClockwise:
		incr = -t.cfg.Step
	default:
		return
	}
	t.detents.Add(1)
	if t.cfg.Reverse {
		incr = -incr
	}

	old := int(t.value.Load())
	next := Apply(t.cfg.Range, old, incr, t.cfg.Min, t.cfg.Max)
	if next == old {
		return
	}
	t.value.Store(int64(next))
	t.changes.Add(1)
	t.listeners.invoke(t.report)
}

func (t *Tracker) report(f *ListenerFault) {
	f.Tracker = t.name
	t.faults.Add(1)
	t.onFault(f)
}

func (t *Tracker) logFault(f *ListenerFault) {
	t.logger.Error("listener fault", "knob", t.name, "listener", uint64(f.Listener), "error", f)
}

// Configure applies a partial update atomically with respect to OnEdge. The
// resulting configuration is validated first; on error nothing changes.
// On success the decoder is reset to rest. The value is re-seeded when
// u.Value is set and folded into the bounds under wrap and clamp modes.
// Listeners are not notified.
func (t *Tracker) Configure(u Update) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := u.apply(t.cfg)
	if err := next.Validate(); err != nil {
		return err
	}
	v := int(t.value.Load())
	if u.Value != nil {
		v = *u.Value
	}

	t.cfg = next
	t.dec.SetHalfStep(next.HalfStep)
	t.value.Store(int64(normalize(next, v)))
	t.logger.Debug("knob configured", "knob", t.name, "min", next.Min, "max", next.Max,
		"step", next.Step, "range", next.Range.String(), "half_step", next.HalfStep,
		"reverse", next.Reverse, "invert", next.Invert, "value", t.Value())
	return nil
}

// ResetValue re-seeds the tracked value without notifying listeners.
func (t *Tracker) ResetValue(v int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value.Store(int64(normalize(t.cfg, v)))
}

// AddListener registers fn and returns its handle.
func (t *Tracker) AddListener(fn Listener) ListenerHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listeners.add(fn)
}

// RemoveListener unregisters h. It returns an error wrapping
// ErrNotRegistered if h is unknown or already removed.
func (t *Tracker) RemoveListener(h ListenerHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listeners.remove(h)
}

// Listeners returns the number of registered listeners.
func (t *Tracker) Listeners() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listeners.len()
}

// Attach starts delivery from src. A tracker has at most one source.
func (t *Tracker) Attach(src Source) error {
	t.attachMu.Lock()
	defer t.attachMu.Unlock()

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if t.source != nil {
		return errors.New("source already attached")
	}
	if err := src.Start(t.OnEdge); err != nil {
		return err
	}
	t.source = src
	return nil
}

// Close detaches the tracker from its source. When Close returns no edge is
// being processed and none will be. Listeners and the value are kept.
// Close is idempotent.
func (t *Tracker) Close() error {
	t.attachMu.Lock()
	defer t.attachMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.dec.Reset()
	t.mu.Unlock()

	if t.source == nil {
		return nil
	}
	err := t.source.Stop()
	t.source = nil
	return err
}

// normalize folds v into the bounds for wrap and clamp modes.
func normalize(cfg Config, v int) int {
	return Apply(cfg.Range, v, 0, cfg.Min, cfg.Max)
}
