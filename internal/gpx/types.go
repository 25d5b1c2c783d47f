package gpx

import (
	"encoding/xml"
	"time"
)

// Namespace is the GPX 1.1 schema namespace.
const Namespace = "http://www.topografix.com/GPX/1/1"

// Creator is written into exported files.
const Creator = "pacemaker"

// Point represents a GPS track point
type Point struct {
	Lat       float64    `xml:"lat,attr"`
	Lon       float64    `xml:"lon,attr"`
	Elevation *float64   `xml:"ele,omitempty"`
	Time      *time.Time `xml:"time,omitempty"`
}

// Track represents a GPX track with segments
type Track struct {
	Name     string         `xml:"name,omitempty"`
	Type     string         `xml:"type,omitempty"`
	Segments []TrackSegment `xml:"trkseg"`
}

// TrackSegment represents a track segment
type TrackSegment struct {
	Points []Point `xml:"trkpt"`
}

// GPX represents the parts of a GPX file used for replay and export
type GPX struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	XMLNS   string   `xml:"xmlns,attr,omitempty"`

	Metadata *Metadata `xml:"metadata,omitempty"`
	Tracks   []Track   `xml:"trk"`
}

// Metadata represents GPX metadata
type Metadata struct {
	Name string     `xml:"name,omitempty"`
	Desc string     `xml:"desc,omitempty"`
	Time *time.Time `xml:"time,omitempty"`
}
