package rotary

// State is the decoder's position inside one quadrature cycle.
type State uint8

const (
	StateRest State = iota
	StateCW1
	StateCW2
	StateCW3
	StateCCW1
	StateCCW2
	StateCCW3
	StateIllegal
)

func (s State) String() string {
	switch s {
	case StateRest:
		return "rest"
	case StateCW1:
		return "cw1"
	case StateCW2:
		return "cw2"
	case StateCW3:
		return "cw3"
	case StateCCW1:
		return "ccw1"
	case StateCCW2:
		return "ccw2"
	case StateCCW3:
		return "ccw3"
	case StateIllegal:
		return "illegal"
	default:
		return "unknown"
	}
}

// Direction is the motion reported by a single decoder step.
type Direction uint8

const (
	DirNone Direction = iota
	DirClockwise
	DirCounterClockwise
)

func (d Direction) String() string {
	switch d {
	case DirClockwise:
		return "cw"
	case DirCounterClockwise:
		return "ccw"
	default:
		return "none"
	}
}

// Sample is the instantaneous level of the two quadrature lines:
// bit 1 is line A (CLK), bit 0 is line B (DT).
type Sample uint8

const sampleMask Sample = 0x03

// NewSample packs two line levels into a Sample.
func NewSample(a, b bool) Sample {
	var s Sample
	if a {
		s |= 0x02
	}
	if b {
		s |= 0x01
	}
	return s
}

// Invert complements both lines.
func (s Sample) Invert() Sample {
	return ^s & sampleMask
}

// transition is one table cell: the next state and the direction completed by
// entering it. dir is non-zero only on the edge that finishes a detent.
type transition struct {
	next State
	dir  Direction
}

type table [8][4]transition

func to(s State) transition { return transition{next: s} }

func cw(s State) transition { return transition{next: s, dir: DirClockwise} }

func ccw(s State) transition { return transition{next: s, dir: DirCounterClockwise} }

// fullStepTable emits one event per detent, on the return to rest after three
// intermediate states. Columns are samples 00, 01, 10, 11.
var fullStepTable = table{
	StateRest:    {to(StateRest), to(StateCCW1), to(StateCW1), to(StateRest)},
	StateCW1:     {to(StateCW2), to(StateRest), to(StateCW1), to(StateRest)},
	StateCW2:     {to(StateCW2), to(StateCW3), to(StateCW1), to(StateRest)},
	StateCW3:     {to(StateCW2), to(StateCW3), to(StateRest), cw(StateRest)},
	StateCCW1:    {to(StateCCW2), to(StateCCW1), to(StateRest), to(StateRest)},
	StateCCW2:    {to(StateCCW2), to(StateCCW1), to(StateCCW3), to(StateRest)},
	StateCCW3:    {to(StateCCW2), to(StateRest), to(StateCCW3), ccw(StateRest)},
	StateIllegal: {to(StateRest), to(StateRest), to(StateRest), to(StateRest)},
}

// halfStepTable emits one event at each half of a detent (lines 00 and 11).
// The CW3 slot doubles as the "both lines low" resting point for either
// direction. Direction tags follow the full-step convention: 11 -> 10 -> 00
// is clockwise in both tables.
var halfStepTable = table{
	StateRest:    {to(StateCW3), to(StateCW2), to(StateCW1), to(StateRest)},
	StateCW1:     {cw(StateCW3), to(StateRest), to(StateCW1), to(StateRest)},
	StateCW2:     {ccw(StateCW3), to(StateCW2), to(StateRest), to(StateRest)},
	StateCW3:     {to(StateCW3), to(StateCCW2), to(StateCCW1), to(StateRest)},
	StateCCW1:    {to(StateCW3), to(StateCW2), to(StateCCW1), ccw(StateRest)},
	StateCCW2:    {to(StateCW3), to(StateCCW2), to(StateCW3), cw(StateRest)},
	StateCCW3:    {to(StateRest), to(StateRest), to(StateRest), to(StateRest)},
	StateIllegal: {to(StateRest), to(StateRest), to(StateRest), to(StateRest)},
}
