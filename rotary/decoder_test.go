package rotary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// One detent starting and ending with both lines high.
var (
	cwDetent  = []Sample{0b10, 0b00, 0b01, 0b11}
	ccwDetent = []Sample{0b01, 0b00, 0b10, 0b11}
)

func advanceAll(d *Decoder, samples []Sample) []Direction {
	out := make([]Direction, 0, len(samples))
	for _, s := range samples {
		out = append(out, d.Advance(s))
	}
	return out
}

func countDir(dirs []Direction, want Direction) int {
	n := 0
	for _, d := range dirs {
		if d == want {
			n++
		}
	}
	return n
}

func TestDecoder_FullStepClockwiseDetent(t *testing.T) {
	d := NewDecoder(false)
	wantStates := []State{StateCW1, StateCW2, StateCW3, StateRest}

	for i, s := range cwDetent {
		dir := d.Advance(s)
		assert.Equal(t, wantStates[i], d.State(), "state after sample %d", i)
		if i < len(cwDetent)-1 {
			assert.Equal(t, DirNone, dir, "sample %d", i)
		} else {
			assert.Equal(t, DirClockwise, dir)
		}
	}
}

func TestDecoder_FullStepCounterClockwiseDetent(t *testing.T) {
	d := NewDecoder(false)
	dirs := advanceAll(d, ccwDetent)

	assert.Equal(t, 1, countDir(dirs, DirCounterClockwise))
	assert.Equal(t, 0, countDir(dirs, DirClockwise))
	assert.Equal(t, DirCounterClockwise, dirs[len(dirs)-1])
	assert.Equal(t, StateRest, d.State())
}

func TestDecoder_RepeatedDetents(t *testing.T) {
	d := NewDecoder(false)
	var dirs []Direction
	for i := 0; i < 5; i++ {
		dirs = append(dirs, advanceAll(d, cwDetent)...)
	}
	for i := 0; i < 3; i++ {
		dirs = append(dirs, advanceAll(d, ccwDetent)...)
	}
	assert.Equal(t, 5, countDir(dirs, DirClockwise))
	assert.Equal(t, 3, countDir(dirs, DirCounterClockwise))
}

func TestDecoder_OnlyCanonicalPathsEmit(t *testing.T) {
	// Every 4-sample sequence from rest: only the two canonical detents may
	// produce an event, and each produces exactly one.
	emitting := 0
	for code := 0; code < 256; code++ {
		seq := []Sample{
			Sample(code>>6) & 3,
			Sample(code>>4) & 3,
			Sample(code>>2) & 3,
			Sample(code) & 3,
		}
		dirs := advanceAll(NewDecoder(false), seq)
		events := countDir(dirs, DirClockwise) + countDir(dirs, DirCounterClockwise)

		switch {
		case assert.ObjectsAreEqual(seq, cwDetent):
			assert.Equal(t, []Direction{DirNone, DirNone, DirNone, DirClockwise}, dirs)
			emitting++
		case assert.ObjectsAreEqual(seq, ccwDetent):
			assert.Equal(t, []Direction{DirNone, DirNone, DirNone, DirCounterClockwise}, dirs)
			emitting++
		default:
			assert.Zero(t, events, "sequence %v emitted %v", seq, dirs)
		}
	}
	assert.Equal(t, 2, emitting)
}

func TestDecoder_SkippedSampleCollapsesToRest(t *testing.T) {
	tests := []struct {
		name string
		seq  []Sample
	}{
		{"cw1 skips to 01", []Sample{0b10, 0b01}},
		{"cw1 jumps back to 11", []Sample{0b10, 0b11}},
		{"cw2 jumps to 11", []Sample{0b10, 0b00, 0b11}},
		{"ccw1 skips to 10", []Sample{0b01, 0b10}},
		{"ccw2 jumps to 11", []Sample{0b01, 0b00, 0b11}},
		{"ccw3 skips to 01", []Sample{0b01, 0b00, 0b10, 0b01}},
		{"cw3 skips to 10", []Sample{0b10, 0b00, 0b01, 0b10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(false)
			dirs := advanceAll(d, tt.seq)
			assert.Equal(t, DirNone, dirs[len(dirs)-1])
			assert.Equal(t, StateRest, d.State())
			assert.Zero(t, countDir(dirs, DirClockwise)+countDir(dirs, DirCounterClockwise))
		})
	}
}

func TestDecoder_BounceWithinDetentStillCountsOnce(t *testing.T) {
	d := NewDecoder(false)
	// Contact bounce between CW1 and CW2 before completing the detent.
	seq := []Sample{0b10, 0b00, 0b10, 0b00, 0b01, 0b00, 0b01, 0b11}
	dirs := advanceAll(d, seq)
	assert.Equal(t, 1, countDir(dirs, DirClockwise))
	assert.Equal(t, 0, countDir(dirs, DirCounterClockwise))
}

func TestDecoder_IllegalStateReturnsToRest(t *testing.T) {
	for _, half := range []bool{false, true} {
		for s := Sample(0); s < 4; s++ {
			d := NewDecoder(half)
			d.state = StateIllegal
			assert.Equal(t, DirNone, d.Advance(s))
			assert.Equal(t, StateRest, d.State())
		}
	}
}

func TestDecoder_TablesAreTotal(t *testing.T) {
	for _, tbl := range []*table{&fullStepTable, &halfStepTable} {
		for st := range tbl {
			for s := range tbl[st] {
				tr := tbl[st][s]
				assert.LessOrEqual(t, uint8(tr.next), uint8(StateIllegal))
				assert.LessOrEqual(t, uint8(tr.dir), uint8(DirCounterClockwise))
			}
		}
	}
}

func TestDecoder_FullStepTableTagsOneTransitionPerDirection(t *testing.T) {
	var cwCells, ccwCells int
	for st := range fullStepTable {
		for s := range fullStepTable[st] {
			switch fullStepTable[st][s].dir {
			case DirClockwise:
				cwCells++
				assert.Equal(t, StateRest, fullStepTable[st][s].next)
			case DirCounterClockwise:
				ccwCells++
				assert.Equal(t, StateRest, fullStepTable[st][s].next)
			}
		}
	}
	assert.Equal(t, 1, cwCells)
	assert.Equal(t, 1, ccwCells)
}

func TestDecoder_HalfStepEmitsTwicePerDetent(t *testing.T) {
	d := NewDecoder(true)
	dirs := advanceAll(d, cwDetent)
	assert.Equal(t, []Direction{DirNone, DirClockwise, DirNone, DirClockwise}, dirs)

	dirs = advanceAll(d, ccwDetent)
	assert.Equal(t, []Direction{DirNone, DirCounterClockwise, DirNone, DirCounterClockwise}, dirs)
	assert.Equal(t, StateRest, d.State())
}

func TestDecoder_HalfStepAgreesWithFullStepDirection(t *testing.T) {
	for _, seq := range [][]Sample{cwDetent, ccwDetent} {
		full := advanceAll(NewDecoder(false), seq)
		half := advanceAll(NewDecoder(true), seq)
		assert.Equal(t, full[len(full)-1], half[len(half)-1], "sequence %v", seq)
	}
}

func TestDecoder_SetHalfStepResets(t *testing.T) {
	d := NewDecoder(false)
	d.Advance(0b10)
	d.Advance(0b00)
	require.Equal(t, StateCW2, d.State())

	d.SetHalfStep(true)
	assert.True(t, d.HalfStep())
	assert.Equal(t, StateRest, d.State())

	d.Advance(0b10)
	d.Reset()
	assert.Equal(t, StateRest, d.State())
}

func TestDecoder_MasksSamples(t *testing.T) {
	d := NewDecoder(false)
	dirs := advanceAll(d, []Sample{0xF2, 0xF0, 0xF1, 0xF3})
	assert.Equal(t, DirClockwise, dirs[3])
}

func TestSample_NewAndInvert(t *testing.T) {
	assert.Equal(t, Sample(0b11), NewSample(true, true))
	assert.Equal(t, Sample(0b10), NewSample(true, false))
	assert.Equal(t, Sample(0b01), NewSample(false, true))
	assert.Equal(t, Sample(0b00), NewSample(false, false))

	assert.Equal(t, Sample(0b00), Sample(0b11).Invert())
	assert.Equal(t, Sample(0b01), Sample(0b10).Invert())
	for s := Sample(0); s < 4; s++ {
		assert.Equal(t, s, s.Invert().Invert())
	}
}

func TestStateAndDirectionStrings(t *testing.T) {
	assert.Equal(t, "rest", StateRest.String())
	assert.Equal(t, "illegal", StateIllegal.String())
	assert.Equal(t, "cw", DirClockwise.String())
	assert.Equal(t, "ccw", DirCounterClockwise.String())
	assert.Equal(t, "none", DirNone.String())
}
