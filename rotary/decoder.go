package rotary

// Decoder turns a stream of quadrature samples into direction events.
//
// Only legal Gray-code paths complete a detent; a bounced or skipped sample
// sends the decoder back to rest without reporting motion. Decoder is not
// safe for concurrent use; Tracker serializes access to it.
type Decoder struct {
	state    State
	halfStep bool
	table    *table
}

// NewDecoder returns a decoder at rest using the full-step or half-step table.
func NewDecoder(halfStep bool) *Decoder {
	d := &Decoder{}
	d.SetHalfStep(halfStep)
	return d
}

// Advance feeds one sample and returns the direction completed by it, if any.
// Samples are masked to two bits.
func (d *Decoder) Advance(s Sample) Direction {
	tr := d.table[d.state&7][s&sampleMask]
	d.state = tr.next
	return tr.dir
}

// Reset returns the decoder to rest.
func (d *Decoder) Reset() {
	d.state = StateRest
}

// SetHalfStep selects the transition table and resets to rest.
func (d *Decoder) SetHalfStep(halfStep bool) {
	d.halfStep = halfStep
	if halfStep {
		d.table = &halfStepTable
	} else {
		d.table = &fullStepTable
	}
	d.state = StateRest
}

// State reports the current internal state.
func (d *Decoder) State() State { return d.state }

// HalfStep reports whether the half-step table is active.
func (d *Decoder) HalfStep() bool { return d.halfStep }
