package context

import (
	gocontext "context"
	"errors"
	"fmt"
	"strings"

	ngsi "github.com/iot-for-tillgenglighet/ngsi-ld-golang/pkg/ngsi-ld"

	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

const (
	//EntityType is the NGSI-LD type pins are exposed as
	EntityType = "AccessibilityReport"
	//EntityIDPrefix is prepended to pin ids to form NGSI-LD entity ids
	EntityIDPrefix = "urn:ngsi-ld:AccessibilityReport:"

	defaultContext = "https://schema.lab.fiware.org/ld/context"
)

//PinSource provides the pins to expose
type PinSource interface {
	Snapshot(ctx gocontext.Context, query domain.PinQuery) ([]domain.Pin, error)
}

type property struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

type point struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

//AccessibilityReport is the NGSI-LD representation of a pin
type AccessibilityReport struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Location    property  `json:"location"`
	Category    property  `json:"category"`
	Problem     property  `json:"problem"`
	Severity    *property `json:"severity,omitempty"`
	Comment     *property `json:"comment,omitempty"`
	DateCreated property  `json:"dateCreated"`
	Context     []string  `json:"@context"`
}

//NewAccessibilityReport converts a pin into its NGSI-LD entity
func NewAccessibilityReport(pin domain.Pin) *AccessibilityReport {
	report := &AccessibilityReport{
		ID:   EntityIDPrefix + pin.ID,
		Type: EntityType,
		Location: property{
			Type:  "GeoProperty",
			Value: point{Type: "Point", Coordinates: [2]float64{pin.Lng, pin.Lat}},
		},
		Category:    property{Type: "Property", Value: pin.Category},
		Problem:     property{Type: "Property", Value: pin.ProblemLabel},
		DateCreated: property{Type: "Property", Value: map[string]string{"@type": "DateTime", "@value": pin.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z")}},
		Context:     []string{defaultContext},
	}

	if pin.Severity != "" {
		report.Severity = &property{Type: "Property", Value: string(pin.Severity)}
	}

	if pin.Comment != "" {
		report.Comment = &property{Type: "Property", Value: pin.Comment}
	}

	return report
}

type contextSource struct {
	pins PinSource
}

//CreateSource instantiates and returns a read only Fiware ContextSource that wraps the provided pin source
func CreateSource(pins PinSource) ngsi.ContextSource {
	return &contextSource{pins: pins}
}

func (cs *contextSource) CreateEntity(typeName, entityID string, req ngsi.Request) error {
	return errors.New("pins can only be created through the accessmap api")
}

func (cs *contextSource) GetEntities(query ngsi.Query, callback ngsi.QueryEntitiesCallback) error {
	pins, err := cs.pins.Snapshot(gocontext.Background(), domain.PinQuery{})
	if err != nil {
		return err
	}

	for _, pin := range pins {
		err = callback(NewAccessibilityReport(pin))
		if err != nil {
			break
		}
	}

	return err
}

func (cs *contextSource) RetrieveEntity(entityID string, req ngsi.Request) (ngsi.Entity, error) {
	id := strings.TrimPrefix(entityID, EntityIDPrefix)

	pins, err := cs.pins.Snapshot(gocontext.Background(), domain.PinQuery{})
	if err != nil {
		return nil, err
	}

	for _, pin := range pins {
		if pin.ID == id {
			return NewAccessibilityReport(pin), nil
		}
	}

	return nil, fmt.Errorf("no entity with id %s found", entityID)
}

func (cs contextSource) ProvidesAttribute(attributeName string) bool {
	switch attributeName {
	case "location", "category", "problem", "severity", "comment", "dateCreated":
		return true
	}
	return false
}

func (cs contextSource) ProvidesEntitiesWithMatchingID(entityID string) bool {
	return strings.HasPrefix(entityID, EntityIDPrefix)
}

func (cs contextSource) ProvidesType(typeName string) bool {
	return typeName == EntityType
}

func (cs contextSource) UpdateEntityAttributes(entityID string, req ngsi.Request) error {
	return errors.New("UpdateEntityAttributes is not supported by this service")
}
