package marker

import (
	"fmt"
	"html"

	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/catalog"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

const (
	//ClassName is the css class every marker is rendered with
	ClassName = "custom-marker"

	//FallbackColor is used for pins whose category is no longer in the catalog
	FallbackColor = "#7f8c8d"

	size = 35
)

//Descriptor is everything a map library needs to render a pin as a round div icon
type Descriptor struct {
	Glyph     string `json:"glyph"`
	Color     string `json:"color"`
	ClassName string `json:"className"`
	HTML      string `json:"html"`
	Size      [2]int `json:"iconSize"`
	Anchor    [2]int `json:"iconAnchor"`
}

var severityColors = map[domain.Severity]string{
	domain.SeverityGood:   "#2ecc71",
	domain.SeverityMedium: "#f39c12",
	domain.SeverityBad:    "#e74c3c",
}

//New returns a marker descriptor with the glyph centred on a filled circle
func New(glyph, color string) Descriptor {
	body := fmt.Sprintf(
		`<div style="background-color: %s; color: white; border-radius: 50%%; width: %dpx; height: %dpx; `+
			`display: flex; align-items: center; justify-content: center; font-size: 20px; `+
			`border: 2px solid white; box-shadow: 0 2px 5px rgba(0,0,0,0.3);">%s</div>`,
		html.EscapeString(color), size, size, html.EscapeString(glyph),
	)

	return Descriptor{
		Glyph:     glyph,
		Color:     color,
		ClassName: ClassName,
		HTML:      body,
		Size:      [2]int{size, size},
		Anchor:    [2]int{size / 2, size},
	}
}

//SeverityColor returns the colour of a rating, and false for an absent or unknown one
func SeverityColor(sev domain.Severity) (string, bool) {
	color, ok := severityColors[sev]
	return color, ok
}

//ForPin colours the marker by severity when the pin has one, otherwise by its category
func ForPin(pin domain.Pin, c *catalog.Catalog) Descriptor {
	if color, ok := SeverityColor(pin.Severity); ok {
		return New(pin.Glyph, color)
	}

	if cat, ok := c.Category(pin.Category); ok {
		return New(pin.Glyph, cat.Color)
	}

	return New(pin.Glyph, FallbackColor)
}

//Legend holds one descriptor per problem of every category plus one per severity
type Legend struct {
	Problems   map[string]map[string]Descriptor `json:"problems"`
	Severities map[domain.Severity]string       `json:"severities"`
}

//NewLegend builds the legend for a catalog
func NewLegend(c *catalog.Catalog) Legend {
	legend := Legend{
		Problems:   map[string]map[string]Descriptor{},
		Severities: map[domain.Severity]string{},
	}

	for _, cat := range c.Categories() {
		problems := map[string]Descriptor{}
		for _, p := range cat.Problems {
			problems[p.ID] = New(p.Glyph, cat.Color)
		}
		legend.Problems[cat.Key] = problems
	}

	for sev, color := range severityColors {
		legend.Severities[sev] = color
	}

	return legend
}
