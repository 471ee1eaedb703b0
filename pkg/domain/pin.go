package domain

import (
	"fmt"
	"strings"
	"time"
)

//Point encapsulates a WGS84 coordinate
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

//NewPoint creates a new point instance to encapsulate the provided coordinate
func NewPoint(lat, lng float64) Point {
	return Point{Lat: lat, Lng: lng}
}

//Valid returns true if the point is a plausible WGS84 coordinate
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

//Severity is the evaluated accessibility rating of a pin. The empty value means absent.
type Severity string

const (
	SeverityGood   Severity = "good"
	SeverityMedium Severity = "medium"
	SeverityBad    Severity = "bad"

	//DefaultSeverity is preselected whenever a new draft is started
	DefaultSeverity = SeverityMedium
)

//Severities lists the known ratings from best to worst
var Severities = []Severity{SeverityGood, SeverityMedium, SeverityBad}

//ParseSeverity accepts a known rating or the empty string
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	switch sev {
	case "", SeverityGood, SeverityMedium, SeverityBad:
		return sev, nil
	}
	return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidPin, s)
}

//Pin is a single accessibility report at a coordinate. Pins are never mutated after creation.
type Pin struct {
	ID                string    `json:"id"`
	Lat               float64   `json:"lat"`
	Lng               float64   `json:"lng"`
	Category          string    `json:"category"`
	ProblemID         string    `json:"problemId"`
	ProblemLabel      string    `json:"problemLabel"`
	Glyph             string    `json:"glyph"`
	Severity          Severity  `json:"severity,omitempty"`
	Comment           string    `json:"comment"`
	AuthorID          string    `json:"authorId"`
	AuthorDisplayName string    `json:"authorDisplayName"`
	CreatedAt         time.Time `json:"createdAt"`
}

//Location returns the coordinate the pin was dropped at
func (p Pin) Location() Point {
	return Point{Lat: p.Lat, Lng: p.Lng}
}

//NewPin holds the caller supplied fields of a pin that is about to be created
type NewPin struct {
	Location     Point    `json:"location"`
	Category     string   `json:"category"`
	ProblemID    string   `json:"problemId,omitempty"`
	ProblemLabel string   `json:"problemLabel,omitempty"`
	Severity     Severity `json:"severity,omitempty"`
	Comment      string   `json:"comment,omitempty"`
}

//PinQuery narrows a snapshot. The zero value selects every pin.
type PinQuery struct {
	AuthorID string
}

//Key returns a stable identifier for the query, suitable as a map key
func (q PinQuery) Key() string {
	return "author=" + q.AuthorID
}

//Matches returns true if the pin belongs to the result set of the query
func (q PinQuery) Matches(p Pin) bool {
	return q.AuthorID == "" || q.AuthorID == p.AuthorID
}

//Identity is an authenticated user
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

//FirstName returns the first word of the display name
func (i Identity) FirstName() string {
	fields := strings.Fields(i.DisplayName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

//Route is a straight two-point line from the viewer to a pin
type Route struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

//Line returns the route as a [lat,lng] polyline
func (r Route) Line() [][2]float64 {
	return [][2]float64{{r.From.Lat, r.From.Lng}, {r.To.Lat, r.To.Lng}}
}
