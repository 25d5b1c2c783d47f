// Package track filters raw position samples into a trustworthy track.
//
// The validator is stateless per call; callers thread the last accepted sample
// through successive calls, which makes building a track a left fold over the
// raw stream.
package track

import (
	"github.com/ChuLiYu/pacemaker/internal/geo"
	"github.com/ChuLiYu/pacemaker/pkg/types"
)

const (
	// MaxAccuracyMeters is the worst accuracy radius still trusted.
	MaxAccuracyMeters = 20.0
	// MinDisplacementMeters is the smallest movement counted as real.
	MinDisplacementMeters = 2.0
	// MaxSpeedKmh is the fastest plausible running speed.
	MaxSpeedKmh = 50.0
)

// Reason explains the outcome of a validation.
type Reason string

const (
	ReasonAccepted    Reason = "accepted"
	ReasonLowAccuracy Reason = "low_accuracy"
	ReasonJitter      Reason = "jitter"
	ReasonTooFast     Reason = "too_fast"
	ReasonOutOfBounds Reason = "out_of_bounds"
)

// Verdict evaluates the rejection rules in order; the first match wins.
// prev is nil when nothing has been accepted yet.
func Verdict(sample types.PositionSample, prev *types.PositionSample) Reason {
	if sample.Latitude < -90 || sample.Latitude > 90 || sample.Longitude < -180 || sample.Longitude > 180 {
		return ReasonOutOfBounds
	}

	if sample.Accuracy != nil && *sample.Accuracy > MaxAccuracyMeters {
		return ReasonLowAccuracy
	}

	// The first trustworthy fix anchors the track.
	if prev == nil {
		return ReasonAccepted
	}

	distanceKm := geo.Distance(*prev, sample)
	if distanceKm*1000 < MinDisplacementMeters {
		return ReasonJitter
	}

	// A non-positive time delta cannot be evaluated and is not a reason to reject.
	deltaSeconds := float64(sample.Timestamp-prev.Timestamp) / 1000
	if deltaSeconds > 0 {
		speedKmh := distanceKm / deltaSeconds * 3600
		if speedKmh > MaxSpeedKmh {
			return ReasonTooFast
		}
	}

	return ReasonAccepted
}

// Accept reports whether sample should extend a track whose last accepted
// sample is prev.
func Accept(sample types.PositionSample, prev *types.PositionSample) bool {
	return Verdict(sample, prev) == ReasonAccepted
}

// Filter folds a raw stream into its accepted subset.
func Filter(raw []types.PositionSample) []types.PositionSample {
	var t Track
	for _, s := range raw {
		t.Add(s)
	}
	return t.Points()
}
