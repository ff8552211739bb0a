package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ============================================================================
// Central daemon loop
// ============================================================================
//
// The loop is the only goroutine that acts on IPC and websocket requests.
// Encoder motion never passes through here to be applied: trackers update
// themselves on their source goroutines and the loop only sees the resulting
// KnobChanged events, which it turns into state broadcasts.
//
// ============================================================================

// StateBroadcast is a marker interface for externally visible state changes.
type StateBroadcast interface {
	broadcastMarker()
}

// Origins of a value change.
const (
	originEncoder = "encoder"
	originIPC     = "ipc"
)

// BroadcastValueChanged reports a knob's new value.
type BroadcastValueChanged struct {
	Knob   string
	Value  int
	Origin string
	At     time.Time
}

func (BroadcastValueChanged) broadcastMarker() {}

// BroadcastKnobConfigured reports a knob after a successful configure.
type BroadcastKnobConfigured struct {
	Info KnobInfo
	At   time.Time
}

func (BroadcastKnobConfigured) broadcastMarker() {}

// runDaemon consumes events until ctx is canceled or events is closed.
// broadcasts may be nil when no state hub is running.
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	reg *Registry,
	metrics *Metrics,
	broadcasts chan<- StateBroadcast,
	logger *slog.Logger,
) {
	emit := func(b StateBroadcast) {
		if broadcasts == nil {
			return
		}
		select {
		case broadcasts <- b:
		default:
			logger.Warn("state broadcast queue full, dropping", "broadcast", b)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			handleEvent(ev, reg, metrics, emit, logger)
		}
	}
}

func handleEvent(ev Event, reg *Registry, metrics *Metrics, emit func(StateBroadcast), logger *slog.Logger) {
	switch ev := ev.(type) {
	case KnobChanged:
		logger.Debug("knob changed", "knob", ev.Knob, "value", ev.Value)
		emit(BroadcastValueChanged{Knob: ev.Knob, Value: ev.Value, Origin: originEncoder, At: ev.At})

	case GetKnobValue:
		k, err := reg.Get(ev.Knob)
		if err != nil {
			replyKnob(ev.Reply, KnobReply{Err: err})
			return
		}
		replyKnob(ev.Reply, KnobReply{Info: k.Info()})

	case SetKnobValue:
		k, err := reg.Get(ev.Knob)
		if err != nil {
			replyKnob(ev.Reply, KnobReply{Err: err})
			return
		}
		k.Tracker.ResetValue(ev.Value)
		info := k.Info()
		metrics.Value.WithLabelValues(k.Name).Set(float64(info.Value))
		logger.Info("knob value set", "knob", k.Name, "requested", ev.Value, "value", info.Value)
		emit(BroadcastValueChanged{Knob: k.Name, Value: info.Value, Origin: originIPC, At: time.Now()})
		replyKnob(ev.Reply, KnobReply{Info: info})

	case ConfigureKnob:
		k, err := reg.Get(ev.Knob)
		if err != nil {
			replyKnob(ev.Reply, KnobReply{Err: err})
			return
		}
		if err := k.Tracker.Configure(ev.Update); err != nil {
			logger.Warn("knob configure rejected", "knob", k.Name, "error", err)
			replyKnob(ev.Reply, KnobReply{Err: err})
			return
		}
		info := k.Info()
		metrics.Value.WithLabelValues(k.Name).Set(float64(info.Value))
		logger.Info("knob configured", "knob", k.Name, "value", info.Value,
			"min", info.Config.Min, "max", info.Config.Max, "step", info.Config.Step,
			"range", info.Config.Range.String())
		emit(BroadcastKnobConfigured{Info: info, At: time.Now()})
		replyKnob(ev.Reply, KnobReply{Info: info})

	case RequestStateSnapshot:
		snap := StateSnapshot{Knobs: reg.Snapshot(), At: time.Now()}
		if ev.Reply == nil {
			return
		}
		select {
		case ev.Reply <- snap:
		default:
			logger.Warn("state snapshot reply dropped")
		}

	default:
		logger.Warn("daemon ignoring unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

// replyKnob never blocks the loop; requesters use a buffered channel.
func replyKnob(reply chan<- KnobReply, r KnobReply) {
	if reply == nil {
		return
	}
	select {
	case reply <- r:
	default:
	}
}
