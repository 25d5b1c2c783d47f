// Package gpx reads recorded runs for replay and writes validated tracks.
package gpx

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ChuLiYu/pacemaker/pkg/types"
)

// ErrNoPoints is returned when a file has no track points to replay.
var ErrNoPoints = errors.New("gpx: no track points")

// Parse reads and parses a GPX file
func Parse(filename string) (*GPX, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return ParseReader(file)
}

// ParseReader parses GPX from an io.Reader
func ParseReader(r io.Reader) (*GPX, error) {
	decoder := xml.NewDecoder(r)

	var g GPX
	if err := decoder.Decode(&g); err != nil {
		return nil, fmt.Errorf("failed to parse GPX: %w", err)
	}

	if g.XMLNS == "" {
		g.XMLNS = Namespace
	}
	if g.Version == "" {
		g.Version = "1.1"
	}
	return &g, nil
}

// Write saves GPX data to a file
func (g *GPX) Write(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := g.WriteToWriter(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WriteToWriter writes GPX data to an io.Writer
func (g *GPX) WriteToWriter(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}

	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(g); err != nil {
		return fmt.Errorf("failed to encode GPX: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// FlattenPoints returns all points from all tracks and segments in order
func (g *GPX) FlattenPoints() []Point {
	var points []Point
	for _, track := range g.Tracks {
		for _, segment := range track.Segments {
			points = append(points, segment.Points...)
		}
	}
	return points
}

// Samples converts the track points into position samples.
//
// Points without a timestamp are spaced `step` apart starting at start, so
// route files drawn by hand can still be replayed. Accuracy is unknown for
// every sample, which the validator treats as trusted.
func (g *GPX) Samples(start time.Time, step time.Duration) ([]types.PositionSample, error) {
	points := g.FlattenPoints()
	if len(points) == 0 {
		return nil, ErrNoPoints
	}

	out := make([]types.PositionSample, 0, len(points))
	for i, p := range points {
		ts := start.Add(time.Duration(i) * step)
		if p.Time != nil && !p.Time.IsZero() {
			ts = *p.Time
		}
		out = append(out, types.PositionSample{
			Latitude:  p.Lat,
			Longitude: p.Lon,
			Timestamp: ts.UnixMilli(),
		})
	}
	return out, nil
}

// FromSamples builds a single-track GPX document from position samples.
func FromSamples(name string, samples []types.PositionSample) *GPX {
	seg := TrackSegment{Points: make([]Point, 0, len(samples))}
	for _, s := range samples {
		ts := s.Time().UTC()
		seg.Points = append(seg.Points, Point{Lat: s.Latitude, Lon: s.Longitude, Time: &ts})
	}

	g := &GPX{
		Version: "1.1",
		Creator: Creator,
		XMLNS:   Namespace,
		Tracks: []Track{{
			Name:     name,
			Type:     "running",
			Segments: []TrackSegment{seg},
		}},
	}
	if len(samples) > 0 {
		first := samples[0].Time().UTC()
		g.Metadata = &Metadata{Name: name, Time: &first}
	}
	return g
}
