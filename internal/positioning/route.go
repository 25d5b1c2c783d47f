package positioning

import (
	"math"
	"time"

	"github.com/ChuLiYu/pacemaker/internal/geo"
	"github.com/ChuLiYu/pacemaker/pkg/types"
)

// Route describes a synthetic straight-line run used when no GPX file is given.
type Route struct {
	StartLat     float64       // starting latitude
	StartLon     float64       // starting longitude
	BearingDeg   float64       // direction of travel, 0 = north
	DistanceKm   float64       // total distance
	PaceMinPerKm float64       // constant pace
	Interval     time.Duration // time between fixes
	Start        time.Time     // timestamp of the first fix
	NoisyEvery   int           // every Nth fix reports 35 m accuracy; 0 disables
}

// DefaultRoute is a 5 km run at 5:00/km with a fix every 5 seconds.
func DefaultRoute(start time.Time) Route {
	return Route{
		StartLat:     40.7812,
		StartLon:     -73.9665,
		BearingDeg:   0,
		DistanceKm:   5,
		PaceMinPerKm: 5,
		Interval:     5 * time.Second,
		Start:        start,
		NoisyEvery:   13,
	}
}

// Samples generates the fixes for the route. The last fix lands at or just
// past the full distance.
func (r Route) Samples() []types.PositionSample {
	if r.DistanceKm <= 0 || r.PaceMinPerKm <= 0 || r.Interval <= 0 {
		return nil
	}

	speedKmPerSec := 1 / (r.PaceMinPerKm * 60)
	stepKm := speedKmPerSec * r.Interval.Seconds()
	steps := int(math.Ceil(r.DistanceKm / stepKm))

	bearing := r.BearingDeg * math.Pi / 180
	kmPerDegLat := geo.EarthRadiusKm * math.Pi / 180
	kmPerDegLon := kmPerDegLat * math.Cos(r.StartLat*math.Pi/180)

	out := make([]types.PositionSample, 0, steps+2)
	total := 0.0
	// the projection drifts slightly from stepKm, so keep stepping until the
	// measured length covers the distance
	for i := 0; i <= steps || total < r.DistanceKm; i++ {
		d := float64(i) * stepKm
		accuracy := 5.0
		if r.NoisyEvery > 0 && i > 0 && i%r.NoisyEvery == 0 {
			accuracy = 35
		}
		sample := types.PositionSample{
			Latitude:  r.StartLat + d*math.Cos(bearing)/kmPerDegLat,
			Longitude: r.StartLon + d*math.Sin(bearing)/kmPerDegLon,
			Timestamp: r.Start.Add(time.Duration(i) * r.Interval).UnixMilli(),
			Accuracy:  types.Accuracy(accuracy),
		}
		if i > 0 {
			total += geo.Distance(out[i-1], sample)
		}
		out = append(out, sample)
	}
	return out
}
