package rotary

import "math"

// Config is the full tracker configuration. It is replaced as a unit; see
// Update for partial changes.
type Config struct {
	Min      int       `yaml:"min" json:"min"`
	Max      int       `yaml:"max" json:"max"`
	Step     int       `yaml:"step" json:"step"`
	Reverse  bool      `yaml:"reverse" json:"reverse"`
	Range    RangeMode `yaml:"range" json:"range"`
	// HalfStep reports two events per detent. Its direction tags follow the
	// full-step table (samples 2,0,1,3 are clockwise in both modes), which is
	// the reverse of the classic half-step table this decoder derives from.
	HalfStep bool      `yaml:"half_step" json:"half_step"`
	Invert   bool      `yaml:"invert" json:"invert"`
}

// DefaultConfig returns the defaults: bounds 0..10, step 1, unbounded,
// full-step, no reversal, no inversion.
func DefaultConfig() Config {
	return Config{
		Min:   0,
		Max:   10,
		Step:  1,
		Range: RangeUnbounded,
	}
}

// Validate checks the configuration invariants. Errors wrap
// ErrInvalidConfiguration.
func (c Config) Validate() error {
	if c.Min > c.Max {
		return invalidf("min (%d) must be <= max (%d)", c.Min, c.Max)
	}
	if c.Step <= 0 {
		return invalidf("step must be > 0, got %d", c.Step)
	}
	switch c.Range {
	case RangeUnbounded, RangeClamp:
	case RangeWrap:
		// max-min+1 must be a positive int.
		if c.Min <= 0 && c.Max >= math.MaxInt+c.Min {
			return invalidf("wrap range %d..%d is too wide", c.Min, c.Max)
		}
	default:
		return invalidf("unknown range mode %d", uint8(c.Range))
	}
	return nil
}

// Update is a partial configuration change. Nil fields are left unchanged.
// Value re-seeds the tracked value without notifying listeners.
type Update struct {
	Value    *int       `json:"value,omitempty"`
	Min      *int       `json:"min,omitempty"`
	Max      *int       `json:"max,omitempty"`
	Step     *int       `json:"step,omitempty"`
	Reverse  *bool      `json:"reverse,omitempty"`
	Range    *RangeMode `json:"range,omitempty"`
	HalfStep *bool      `json:"half_step,omitempty"`
	Invert   *bool      `json:"invert,omitempty"`
}

// apply returns c with the non-nil fields of u applied.
func (u Update) apply(c Config) Config {
	if u.Min != nil {
		c.Min = *u.Min
	}
	if u.Max != nil {
		c.Max = *u.Max
	}
	if u.Step != nil {
		c.Step = *u.Step
	}
	if u.Reverse != nil {
		c.Reverse = *u.Reverse
	}
	if u.Range != nil {
		c.Range = *u.Range
	}
	if u.HalfStep != nil {
		c.HalfStep = *u.HalfStep
	}
	if u.Invert != nil {
		c.Invert = *u.Invert
	}
	return c
}

// Ptr returns a pointer to v; handy for building an Update.
func Ptr[T any](v T) *T { return &v }
