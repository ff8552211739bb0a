package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"knobd/gpio"
	"knobd/rotary"
)

// ============================================================================
// Knob registry
// ============================================================================
// One rotary.Tracker per configured knob, each with its own signal source.
// Trackers run their listeners on the source's delivery goroutine, so the
// listeners registered here only do non-blocking work: update metrics and
// hand a KnobChanged to the daemon loop.
// ============================================================================

var errEventQueueFull = errors.New("daemon event queue full")

// Knob is one configured encoder and the resources it owns.
type Knob struct {
	Name    string
	Source  string
	Tracker *rotary.Tracker

	// closers release source resources (pins) after the tracker detaches.
	closers []io.Closer
}

// Info snapshots the knob for replies and broadcasts.
func (k *Knob) Info() KnobInfo {
	return KnobInfo{
		Name:   k.Name,
		Source: k.Source,
		Value:  k.Tracker.Value(),
		Config: k.Tracker.Config(),
		Stats:  k.Tracker.Stats(),
	}
}

// Close detaches the tracker, then releases source resources.
func (k *Knob) Close() error {
	err := k.Tracker.Close()
	for _, c := range k.closers {
		err = errors.Join(err, c.Close())
	}
	return err
}

// Registry holds the knobs in configuration order.
type Registry struct {
	knobs  []*Knob
	byName map[string]*Knob
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Knob)}
}

// Add registers k. Names are unique.
func (r *Registry) Add(k *Knob) error {
	if _, dup := r.byName[k.Name]; dup {
		return fmt.Errorf("knob %q already registered", k.Name)
	}
	r.knobs = append(r.knobs, k)
	r.byName[k.Name] = k
	return nil
}

// Get looks a knob up by name.
func (r *Registry) Get(name string) (*Knob, error) {
	k, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownKnob, name)
	}
	return k, nil
}

// All returns the knobs in configuration order.
func (r *Registry) All() []*Knob { return r.knobs }

// Snapshot returns every knob's info in configuration order.
func (r *Registry) Snapshot() []KnobInfo {
	out := make([]KnobInfo, 0, len(r.knobs))
	for _, k := range r.knobs {
		out = append(out, k.Info())
	}
	return out
}

// Close closes every knob, continuing past errors.
func (r *Registry) Close() error {
	var err error
	for _, k := range r.knobs {
		if cerr := k.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close knob %s: %w", k.Name, cerr))
		}
	}
	return err
}

// newKnob builds the tracker for kc and registers the publishing and metrics
// listeners. It does not attach a source.
func newKnob(kc KnobConfig, events chan<- Event, metrics *Metrics, logger *slog.Logger) (*Knob, error) {
	knobLogger := logger.With("knob", kc.Name)

	opts := []rotary.Option{
		rotary.WithName(kc.Name),
		rotary.WithLogger(logger),
		rotary.WithFaultHandler(func(f *rotary.ListenerFault) {
			metrics.Faults.WithLabelValues(f.Tracker).Inc()
			if errors.Is(f, errEventQueueFull) {
				metrics.EventsDropped.WithLabelValues(f.Tracker).Inc()
				knobLogger.Warn("dropping change notification", "error", f)
				return
			}
			knobLogger.Error("listener fault", "listener", uint64(f.Listener), "error", f)
		}),
	}
	if kc.Initial != nil {
		opts = append(opts, rotary.WithValue(*kc.Initial))
	}

	t, err := rotary.New(kc.Rotary(), opts...)
	if err != nil {
		return nil, fmt.Errorf("knob %s: %w", kc.Name, err)
	}

	metrics.trackKnob(kc.Name, t)
	t.AddListener(metricsListener(kc.Name, t, metrics))
	t.AddListener(publishListener(kc.Name, t, events))

	return &Knob{Name: kc.Name, Source: kc.source(), Tracker: t}, nil
}

func metricsListener(name string, t *rotary.Tracker, m *Metrics) rotary.Listener {
	value := m.Value.WithLabelValues(name)
	changes := m.Changes.WithLabelValues(name)
	return func() error {
		value.Set(float64(t.Value()))
		changes.Inc()
		return nil
	}
}

// publishListener forwards each change to the daemon loop without blocking
// the edge that produced it.
func publishListener(name string, t *rotary.Tracker, events chan<- Event) rotary.Listener {
	return func() error {
		select {
		case events <- KnobChanged{Knob: name, Value: t.Value(), At: time.Now()}:
			return nil
		default:
			return errEventQueueFull
		}
	}
}

// attachSource opens the configured source for k and starts delivery.
func attachSource(k *Knob, kc KnobConfig, gpioCfg GPIOConfig, logger *slog.Logger) error {
	switch kc.source() {
	case SourceNone:
		logger.Info("knob has no signal source", "knob", k.Name)
		return nil

	case SourceSerial:
		src := NewSerialSource(kc.Serial, logger.With("knob", k.Name))
		if err := k.Tracker.Attach(src); err != nil {
			return fmt.Errorf("knob %s: attach serial source: %w", k.Name, err)
		}
		return nil

	case SourceGPIO:
		sys := gpio.Sysfs{Root: gpioCfg.Root}
		a, err := sys.OpenInput(kc.PinA, kc.ActiveLow)
		if err != nil {
			return fmt.Errorf("knob %s: open pin_a: %w", k.Name, err)
		}
		b, err := sys.OpenInput(kc.PinB, kc.ActiveLow)
		if err != nil {
			a.Close()
			return fmt.Errorf("knob %s: open pin_b: %w", k.Name, err)
		}
		k.closers = append(k.closers, a, b)
		if err := k.Tracker.Attach(gpio.NewEdgeSource(a, b, logger.With("knob", k.Name))); err != nil {
			return fmt.Errorf("knob %s: attach gpio source: %w", k.Name, err)
		}
		logger.Info("knob attached to gpio", "knob", k.Name, "pin_a", kc.PinA, "pin_b", kc.PinB, "active_low", kc.ActiveLow)
		return nil

	default:
		return fmt.Errorf("knob %s: unknown source %q", k.Name, kc.Source)
	}
}

// buildRegistry creates and attaches every configured knob. On error the
// knobs built so far are closed.
func buildRegistry(cfg Config, events chan<- Event, metrics *Metrics, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()
	fail := func(err error) (*Registry, error) {
		if cerr := reg.Close(); cerr != nil {
			logger.Warn("cleanup after failed startup", "error", cerr)
		}
		return nil, err
	}

	for _, kc := range cfg.Knobs {
		if _, err := reg.Get(kc.Name); err == nil {
			return fail(fmt.Errorf("knob %q configured twice", kc.Name))
		}
		k, err := newKnob(kc, events, metrics, logger)
		if err != nil {
			return fail(err)
		}
		if err := reg.Add(k); err != nil {
			return fail(err)
		}
		if err := attachSource(k, kc, cfg.GPIO, logger); err != nil {
			return fail(err)
		}
	}
	return reg, nil
}
