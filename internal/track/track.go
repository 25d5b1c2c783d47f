package track

import (
	"github.com/ChuLiYu/pacemaker/internal/geo"
	"github.com/ChuLiYu/pacemaker/pkg/types"
)

// Track is an ordered sequence of accepted samples. Every element satisfies
// the acceptance predicate relative to its immediate predecessor.
//
// The zero value is an empty track ready to use. Track is not safe for
// concurrent use; the run session owns it exclusively.
type Track struct {
	points   []types.PositionSample
	lengthKm float64
}

// Add validates sample against the last accepted point and appends it when
// accepted. It returns the verdict and the distance added in kilometers.
func (t *Track) Add(sample types.PositionSample) (Reason, float64) {
	prev := t.Last()
	reason := Verdict(sample, prev)
	if reason != ReasonAccepted {
		return reason, 0
	}

	added := 0.0
	if prev != nil {
		added = geo.Distance(*prev, sample)
	}
	t.points = append(t.points, sample)
	t.lengthKm += added
	return reason, added
}

// Last returns the last accepted sample, or nil for an empty track.
func (t *Track) Last() *types.PositionSample {
	if len(t.points) == 0 {
		return nil
	}
	last := t.points[len(t.points)-1]
	return &last
}

// Len returns the number of accepted samples.
func (t *Track) Len() int {
	return len(t.points)
}

// LengthKm returns the accumulated path length.
func (t *Track) LengthKm() float64 {
	return t.lengthKm
}

// Points returns a copy of the accepted samples in order.
func (t *Track) Points() []types.PositionSample {
	out := make([]types.PositionSample, len(t.points))
	copy(out, t.points)
	return out
}

// Reset clears the track for a new run.
func (t *Track) Reset() {
	t.points = nil
	t.lengthKm = 0
}
