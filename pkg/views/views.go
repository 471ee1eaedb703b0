package views

import (
	"context"
	"time"

	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/catalog"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/marker"
)

//MenuEntry is one navigation target on the home screen
type MenuEntry struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

//HomeView is the menu shown to a signed in user
type HomeView struct {
	Greeting string      `json:"greeting"`
	Tagline  string      `json:"tagline"`
	Menu     []MenuEntry `json:"menu"`
}

//Home greets the user by first name
func Home(identity domain.Identity) HomeView {
	greeting := "Hello!"
	if first := identity.FirstName(); first != "" {
		greeting = "Hello, " + first + "!"
	}

	return HomeView{
		Greeting: greeting,
		Tagline:  "Shall we map today?",
		Menu: []MenuEntry{
			{Path: "/map", Title: "Open Map", Subtitle: "Add or view reports"},
			{Path: "/history", Title: "My Contributions", Subtitle: "See what I have posted"},
			{Path: "/tutorial", Title: "How does it work?", Subtitle: "Quick tutorial"},
		},
	}
}

//TutorialStep is a numbered instruction
type TutorialStep struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Text   string `json:"text"`
}

//TutorialView is the static how-to page
type TutorialView struct {
	Title   string         `json:"title"`
	Steps   []TutorialStep `json:"steps"`
	Closing string         `json:"closing"`
}

//Tutorial returns the how-to steps, naming the categories of the catalog
func Tutorial(c *catalog.Catalog) TutorialView {
	categories := c.Categories()

	titles := ""
	for i, cat := range categories {
		switch {
		case i == 0:
		case i == len(categories)-1:
			titles += " or "
		default:
			titles += ", "
		}
		titles += cat.Title
	}

	return TutorialView{
		Title: "How to use the accessibility map",
		Steps: []TutorialStep{
			{Number: 1, Title: "Open the map", Text: "Tap the blue button on the home screen to see your city."},
			{Number: 2, Title: "Choose a category", Text: "Pick whether the barrier is " + titles + " at the top."},
			{Number: 3, Title: "Mark the spot", Text: "Tap the exact place on the map where the barrier is."},
		},
		Closing: "Done! You helped make the city more accessible.",
	}
}

//LandingView is the copy shown to signed out visitors
type LandingView struct {
	Title   string `json:"title"`
	Tagline string `json:"tagline"`
	Action  string `json:"action"`
}

//Landing returns the sign in page copy
func Landing() LandingView {
	return LandingView{
		Title:   "Accessibility Map ♿",
		Tagline: "Mapping the accessibility of the city.",
		Action:  "Sign in",
	}
}

//PinDeleter removes pins on behalf of the viewer
type PinDeleter interface {
	DeletePin(ctx context.Context, id string) error
}

//HistoryRow is one contribution in the history list
type HistoryRow struct {
	ID      string    `json:"id"`
	Color   string    `json:"color"`
	Glyph   string    `json:"glyph"`
	Label   string    `json:"label"`
	Date    string    `json:"date"`
	Created time.Time `json:"createdAt"`
}

//History lists the contributions of a single user
type History struct {
	catalog *catalog.Catalog
	pins    PinDeleter
	owner   string
	rows    []HistoryRow
}

//NewHistory creates an empty history for the identity
func NewHistory(c *catalog.Catalog, pins PinDeleter, identity domain.Identity) *History {
	return &History{catalog: c, pins: pins, owner: identity.ID}
}

//Apply replaces the rows with the owner's pins from a snapshot, keeping snapshot order
func (h *History) Apply(snapshot []domain.Pin) {
	rows := make([]HistoryRow, 0, len(snapshot))

	for _, pin := range snapshot {
		if pin.AuthorID != h.owner {
			continue
		}

		m := marker.ForPin(pin, h.catalog)
		rows = append(rows, HistoryRow{
			ID:      pin.ID,
			Color:   m.Color,
			Glyph:   pin.Glyph,
			Label:   pin.ProblemLabel,
			Date:    pin.CreatedAt.Format("2006-01-02"),
			Created: pin.CreatedAt,
		})
	}

	h.rows = rows
}

//Rows returns the current rows, newest first
func (h *History) Rows() []HistoryRow {
	return append([]HistoryRow(nil), h.rows...)
}

//Empty returns true when the owner has no contributions
func (h *History) Empty() bool {
	return len(h.rows) == 0
}

//EmptyMessage is shown instead of an empty list
const EmptyMessage = "You have not marked anything on the map yet."

//Delete removes one of the listed pins. The row disappears with the next snapshot.
func (h *History) Delete(ctx context.Context, id string) error {
	for _, row := range h.rows {
		if row.ID == id {
			return h.pins.DeletePin(ctx, id)
		}
	}
	return domain.NewWriteError("delete", domain.ErrNotFound)
}
