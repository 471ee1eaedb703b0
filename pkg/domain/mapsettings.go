package domain

//DefaultCenter is where the map opens when the viewer has not been located yet
var DefaultCenter = Point{Lat: -5.915, Lng: -35.263}

//DefaultZoom is the zoom level the map opens at
const DefaultZoom = 13

//MapSettings describes the background tile source, the initial viewport and the delete
//policy the server enforces, so that clients offer delete controls by the same rule
type MapSettings struct {
	TileURL      string       `json:"tileUrl"`
	Attribution  string       `json:"attribution"`
	Center       Point        `json:"center"`
	Zoom         int          `json:"zoom"`
	DeletePolicy DeletePolicy `json:"deletePolicy"`
}

//NewMapSettings returns settings for a tile source using the default viewport
func NewMapSettings(tileURL, attribution string) MapSettings {
	return MapSettings{
		TileURL:      tileURL,
		Attribution:  attribution,
		Center:       DefaultCenter,
		Zoom:         DefaultZoom,
		DeletePolicy: DeleteOwnPins,
	}
}
