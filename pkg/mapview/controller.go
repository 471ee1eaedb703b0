package mapview

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/catalog"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/marker"
)

//PinWriter sends pin writes to the store
type PinWriter interface {
	CreatePin(ctx context.Context, draft domain.NewPin) error
	DeletePin(ctx context.Context, id string) error
}

//Locator answers where the device currently is
type Locator interface {
	Locate(ctx context.Context) (domain.Point, error)
}

//IdentitySource returns the signed in identity, or nil
type IdentitySource interface {
	Identity() *domain.Identity
}

//ErrNoDraft is returned by Submit when there is nothing to submit
var ErrNoDraft = errors.New("no draft pin to submit")

//Marker is a rendered pin with its popup contents
type Marker struct {
	Pin           domain.Pin        `json:"pin"`
	Icon          marker.Descriptor `json:"icon"`
	CategoryTitle string            `json:"categoryTitle"`
	AuthorName    string            `json:"authorName"`
	CanDelete     bool              `json:"canDelete"`
}

//Controller drives a map view: it feeds user input through Reduce and performs the writes,
//geolocation queries and snapshot updates that go with it
type Controller struct {
	catalog  *catalog.Catalog
	pins     PinWriter
	locator  Locator
	identity IdentitySource
	policy   domain.DeletePolicy

	mu       sync.Mutex
	state    State
	snapshot []domain.Pin
}

//NewController creates a controller in the initial state. A nil locator means the device cannot be located.
func NewController(c *catalog.Catalog, pins PinWriter, locator Locator, identity IdentitySource, policy domain.DeletePolicy) *Controller {
	return &Controller{
		catalog:  c,
		pins:     pins,
		locator:  locator,
		identity: identity,
		policy:   policy,
		state:    Initial(c),
	}
}

//State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

//Dispatch applies an action and returns the resulting state
func (c *Controller) Dispatch(a Action) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = Reduce(c.catalog, c.state, a)
	return c.state
}

//Click places a draft at the clicked coordinate
func (c *Controller) Click(at domain.Point) State {
	return c.Dispatch(Click{At: at})
}

//Submit sends the draft. The new pin shows up with a later snapshot, not through this call.
func (c *Controller) Submit(ctx context.Context) error {
	authenticated := c.identity.Identity() != nil

	c.mu.Lock()
	if c.state.Phase != Drafting {
		c.mu.Unlock()
		return ErrNoDraft
	}

	c.state = Reduce(c.catalog, c.state, Submit{Authenticated: authenticated})
	if !authenticated {
		c.mu.Unlock()
		return domain.ErrAuthRequired
	}

	draft, _ := c.state.NewPin()
	c.mu.Unlock()

	err := c.pins.CreatePin(ctx, draft)

	if err != nil {
		log.Infof("Failed to submit pin: %s", err.Error())
		c.Dispatch(SubmitFailed{Err: err})
		return err
	}

	c.Dispatch(SubmitSucceeded{})
	return nil
}

func asGeolocationError(err error) error {
	var geoErr *domain.GeolocationError
	if errors.As(err, &geoErr) {
		return err
	}
	return &domain.GeolocationError{Reason: domain.GeolocationUnavailable, Err: err}
}

//Locate returns the device position, failing with a *domain.GeolocationError
func (c *Controller) Locate(ctx context.Context) (domain.Point, error) {
	if c.locator == nil {
		return domain.Point{}, &domain.GeolocationError{Reason: domain.GeolocationUnsupported}
	}

	position, err := c.locator.Locate(ctx)
	if err != nil {
		return domain.Point{}, asGeolocationError(err)
	}

	return position, nil
}

//TraceRoute draws a straight line from the device to the pin. On failure the previous route stays.
func (c *Controller) TraceRoute(ctx context.Context, target domain.Pin) error {
	position, err := c.Locate(ctx)
	if err != nil {
		c.Dispatch(RouteFailed{Err: err})
		return err
	}

	c.Dispatch(RouteTraced{Route: domain.Route{From: position, To: target.Location()}})
	return nil
}

//DeletePin removes a pin the viewer is allowed to delete
func (c *Controller) DeletePin(ctx context.Context, pin domain.Pin) error {
	identity := c.identity.Identity()

	err := domain.ErrAuthRequired
	if identity != nil {
		if c.policy.Allows(identity, pin) {
			err = c.pins.DeletePin(ctx, pin.ID)
		} else {
			err = domain.NewWriteError("delete", domain.ErrForbidden)
		}
	}

	if err != nil {
		c.Dispatch(ShowError{Err: err})
	}

	return err
}

//Apply replaces the pins with a newer snapshot
func (c *Controller) Apply(snapshot []domain.Pin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = append([]domain.Pin(nil), snapshot...)
}

//Follow applies every snapshot from the channel until it is closed or ctx is done
func (c *Controller) Follow(ctx context.Context, snapshots <-chan []domain.Pin) {
	for {
		select {
		case <-ctx.Done():
			return
		case pins, ok := <-snapshots:
			if !ok {
				return
			}
			c.Apply(pins)
		}
	}
}

//Snapshot returns the pins of the latest snapshot
func (c *Controller) Snapshot() []domain.Pin {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Pin(nil), c.snapshot...)
}

//Markers renders the latest snapshot. The delete control is only offered where the viewer may use it.
func (c *Controller) Markers() []Marker {
	identity := c.identity.Identity()
	pins := c.Snapshot()

	markers := make([]Marker, 0, len(pins))
	for _, pin := range pins {
		m := Marker{
			Pin:        pin,
			Icon:       marker.ForPin(pin, c.catalog),
			AuthorName: "Anonymous",
			CanDelete:  c.policy.Allows(identity, pin),
		}

		if cat, ok := c.catalog.Category(pin.Category); ok {
			m.CategoryTitle = cat.Title
		}

		if first := (domain.Identity{DisplayName: pin.AuthorDisplayName}).FirstName(); first != "" {
			m.AuthorName = first
		}

		markers = append(markers, m)
	}

	return markers
}
