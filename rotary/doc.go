// Package rotary decodes rotary-encoder quadrature signals.
//
// A Decoder walks a Gray-code state table and reports a direction only when
// a complete, legal detent has been traversed, so contact bounce and skipped
// samples never produce motion. A Tracker owns a Decoder plus a
// configuration (bounds, step, reversal, range mode, half-step and signal
// inversion), keeps the resulting value and notifies listeners once per
// accepted change.
//
// The package performs no pin I/O. A Source (see package gpio) delivers
// two-bit samples to Tracker.OnEdge.
package rotary
