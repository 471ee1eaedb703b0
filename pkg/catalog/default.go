package catalog

//Default returns the stock catalog of the four disability categories
func Default() *Catalog {
	c, err := New(
		Category{
			Key: "mobility", Title: "Mobility", Color: "#e74c3c", Glyph: "♿",
			Problems: []Problem{
				{ID: "ramp", Label: "Missing Ramp", Glyph: "↘️"},
				{ID: "sidewalk", Label: "Uneven Sidewalk", Glyph: "🚧"},
				{ID: "narrow", Label: "Narrow Passage", Glyph: "↔️"},
				{ID: "parking", Label: "Improper Parking", Glyph: "🚫"},
			},
		},
		Category{
			Key: "visual", Title: "Visual", Color: "#f1c40f", Glyph: "👁️",
			Problems: []Problem{
				{ID: "tactile", Label: "Missing Tactile Paving", Glyph: "🟦"},
				{ID: "obstacle", Label: "Overhanging Obstacle", Glyph: "⚠️"},
				{ID: "signal", Label: "Silent Traffic Signal", Glyph: "🔇"},
			},
		},
		Category{
			Key: "hearing", Title: "Hearing", Color: "#3498db", Glyph: "👂",
			Problems: []Problem{
				{ID: "notice", Label: "No Visual Notice", Glyph: "👀"},
				{ID: "interpreter", Label: "No Interpreter", Glyph: "👋"},
			},
		},
		Category{
			Key: "cognitive", Title: "Cognitive", Color: "#9b59b6", Glyph: "🧠",
			Problems: []Problem{
				{ID: "signage", Label: "Confusing Signage", Glyph: "❓"},
				{ID: "noise", Label: "Noise Pollution", Glyph: "📢"},
			},
		},
	)

	if err != nil {
		panic(err)
	}

	return c
}
