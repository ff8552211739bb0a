package main

import "time"

const (
	defaultIPCSocket   = "/tmp/knobd.sock"
	defaultHTTPAddr    = ":3001"
	defaultWSPath      = "/ws"
	defaultMetricsPath = "/metrics"
	defaultGPIORoot    = "/sys/class/gpio"

	defaultSerialBaud          = 115200
	defaultSerialReadTimeoutMS = 100

	// eventQueueSize bounds the daemon event channel. Knob listeners drop
	// change notifications rather than block an edge when it is full.
	eventQueueSize = 64

	// broadcastQueueSize bounds the daemon-to-broadcaster channel.
	broadcastQueueSize = 64

	// snapshotTimeout bounds IPC and websocket round-trips through the daemon.
	snapshotTimeout = time.Second

	shutdownTimeout = 3 * time.Second
)
