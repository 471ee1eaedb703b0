package mapview_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/database"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/pinstore"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/catalog"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/mapview"
)

func TestMain(m *testing.M) {
	log.SetFormatter(&log.JSONFormatter{})
	os.Exit(m.Run())
}

type staticIdentity struct {
	identity *domain.Identity
}

func (s staticIdentity) Identity() *domain.Identity {
	return s.identity
}

//hubWriter writes straight into a hub as the given viewer
type hubWriter struct {
	hub    *pinstore.Hub
	viewer staticIdentity
	writes int
}

func (w *hubWriter) CreatePin(ctx context.Context, draft domain.NewPin) error {
	w.writes++
	_, err := w.hub.Create(ctx, w.viewer.identity, draft)
	return err
}

func (w *hubWriter) DeletePin(ctx context.Context, id string) error {
	w.writes++
	return w.hub.Delete(ctx, w.viewer.identity, id)
}

type fakeLocator struct {
	position domain.Point
	err      error
}

func (l fakeLocator) Locate(ctx context.Context) (domain.Point, error) {
	return l.position, l.err
}

var user = &domain.Identity{ID: "U", DisplayName: "Ana Souza"}

func newHub(t *testing.T) *pinstore.Hub {
	db, err := database.NewDatabaseConnection(database.NewSQLiteConnector())
	require.NoError(t, err)
	hub := pinstore.NewHub(db, catalog.Default())
	t.Cleanup(hub.Close)
	return hub
}

func nextSnapshot(t *testing.T, sub *pinstore.Subscription) []domain.Pin {
	select {
	case pins := <-sub.Snapshots():
		return pins
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a snapshot.")
	}
	return nil
}

func TestSubmitReportScenario(t *testing.T) {
	hub := newHub(t)
	viewer := staticIdentity{identity: user}
	writer := &hubWriter{hub: hub, viewer: viewer}
	ctrl := mapview.NewController(hub.Catalog(), writer, nil, viewer, domain.DeleteOwnPins)

	sub, err := hub.Subscribe(context.Background(), domain.PinQuery{})
	require.NoError(t, err)
	defer sub.Close()
	require.Empty(t, nextSnapshot(t, sub))

	ctrl.Click(domain.NewPoint(-5.900, -35.200))
	ctrl.Dispatch(mapview.SelectCategory{Key: "mobility"})

	problem, ok := hub.Catalog().ProblemByLabel("mobility", "Missing Ramp")
	require.True(t, ok)
	ctrl.Dispatch(mapview.SelectProblem{ID: problem.ID})
	ctrl.Dispatch(mapview.SelectSeverity{Severity: domain.SeverityBad})

	require.NoError(t, ctrl.Submit(context.Background()))

	state := ctrl.State()
	assert.Equal(t, mapview.Idle, state.Phase)
	assert.Nil(t, state.Draft)

	pins := nextSnapshot(t, sub)
	require.Len(t, pins, 1)
	assert.Equal(t, -5.900, pins[0].Lat)
	assert.Equal(t, -35.200, pins[0].Lng)
	assert.Equal(t, domain.SeverityBad, pins[0].Severity)
	assert.Equal(t, "U", pins[0].AuthorID)
	assert.Equal(t, "Missing Ramp", pins[0].ProblemLabel)
}

func TestAnonymousSubmitNeverWrites(t *testing.T) {
	hub := newHub(t)
	writer := &hubWriter{hub: hub}
	ctrl := mapview.NewController(hub.Catalog(), writer, nil, staticIdentity{}, domain.DeleteOwnPins)

	ctrl.Click(domain.NewPoint(-5.9, -35.2))
	err := ctrl.Submit(context.Background())

	assert.True(t, errors.Is(err, domain.ErrAuthRequired))
	assert.Equal(t, 0, writer.writes)
	assert.Equal(t, mapview.Drafting, ctrl.State().Phase)
	assert.True(t, errors.Is(ctrl.State().Err, domain.ErrAuthRequired))
}

func TestSubmitWithoutDraft(t *testing.T) {
	hub := newHub(t)
	ctrl := mapview.NewController(hub.Catalog(), &hubWriter{hub: hub}, nil, staticIdentity{identity: user}, domain.DeleteOwnPins)

	assert.Equal(t, mapview.ErrNoDraft, ctrl.Submit(context.Background()))
}

type failingWriter struct{}

func (failingWriter) CreatePin(ctx context.Context, draft domain.NewPin) error {
	return domain.NewWriteError("create", errors.New("network down"))
}

func (failingWriter) DeletePin(ctx context.Context, id string) error {
	return domain.NewWriteError("delete", errors.New("network down"))
}

func TestFailedSubmitKeepsDraft(t *testing.T) {
	ctrl := mapview.NewController(catalog.Default(), failingWriter{}, nil, staticIdentity{identity: user}, domain.DeleteOwnPins)

	ctrl.Click(domain.NewPoint(-5.9, -35.2))
	ctrl.Dispatch(mapview.SetComment{Text: "no ramp at the entrance"})

	err := ctrl.Submit(context.Background())

	var writeErr *domain.WriteError
	require.True(t, errors.As(err, &writeErr))

	state := ctrl.State()
	assert.Equal(t, mapview.Drafting, state.Phase)
	require.NotNil(t, state.Draft)
	assert.Equal(t, "no ramp at the entrance", state.Draft.Comment)
	assert.Equal(t, err, state.Err)
}

func TestTraceRoute(t *testing.T) {
	here := domain.NewPoint(-5.91, -35.26)
	target := domain.Pin{ID: "p1", Lat: -5.9, Lng: -35.2}
	ctrl := mapview.NewController(catalog.Default(), failingWriter{}, fakeLocator{position: here}, staticIdentity{}, domain.DeleteOwnPins)

	require.NoError(t, ctrl.TraceRoute(context.Background(), target))

	route := ctrl.State().Route
	require.NotNil(t, route)
	assert.Equal(t, [][2]float64{{-5.91, -35.26}, {-5.9, -35.2}}, route.Line())
}

func TestTraceRouteWithGeolocationDenied(t *testing.T) {
	denied := fakeLocator{err: &domain.GeolocationError{Reason: domain.GeolocationDenied}}
	ctrl := mapview.NewController(catalog.Default(), failingWriter{}, denied, staticIdentity{}, domain.DeleteOwnPins)

	err := ctrl.TraceRoute(context.Background(), domain.Pin{ID: "p1"})

	var geoErr *domain.GeolocationError
	require.True(t, errors.As(err, &geoErr))
	assert.Equal(t, domain.GeolocationDenied, geoErr.Reason)
	assert.Nil(t, ctrl.State().Route)
	assert.Equal(t, err, ctrl.State().Err)
}

func TestTraceRouteFailureKeepsPreviousRoute(t *testing.T) {
	locator := &switchableLocator{position: domain.NewPoint(1, 1)}
	ctrl := mapview.NewController(catalog.Default(), failingWriter{}, locator, staticIdentity{}, domain.DeleteOwnPins)

	require.NoError(t, ctrl.TraceRoute(context.Background(), domain.Pin{Lat: 2, Lng: 2}))
	previous := *ctrl.State().Route

	locator.err = errors.New("timeout")
	err := ctrl.TraceRoute(context.Background(), domain.Pin{Lat: 3, Lng: 3})

	var geoErr *domain.GeolocationError
	require.True(t, errors.As(err, &geoErr))
	assert.Equal(t, domain.GeolocationUnavailable, geoErr.Reason)
	assert.Equal(t, previous, *ctrl.State().Route)
}

type switchableLocator struct {
	position domain.Point
	err      error
}

func (l *switchableLocator) Locate(ctx context.Context) (domain.Point, error) {
	return l.position, l.err
}

func TestLocateWithoutGeolocation(t *testing.T) {
	ctrl := mapview.NewController(catalog.Default(), failingWriter{}, nil, staticIdentity{}, domain.DeleteOwnPins)

	_, err := ctrl.Locate(context.Background())

	var geoErr *domain.GeolocationError
	require.True(t, errors.As(err, &geoErr))
	assert.Equal(t, domain.GeolocationUnsupported, geoErr.Reason)
}

func TestMarkersOfferDeleteOnOwnPinsOnly(t *testing.T) {
	ctrl := mapview.NewController(catalog.Default(), failingWriter{}, nil, staticIdentity{identity: user}, domain.DeleteOwnPins)

	ctrl.Apply([]domain.Pin{
		{ID: "mine", AuthorID: "U", AuthorDisplayName: "Ana Souza", Category: "mobility", Glyph: "↘️", Severity: domain.SeverityBad},
		{ID: "theirs", AuthorID: "V", Category: "visual", Glyph: "🔇"},
	})

	markers := ctrl.Markers()
	require.Len(t, markers, 2)

	assert.True(t, markers[0].CanDelete)
	assert.Equal(t, "Ana", markers[0].AuthorName)
	assert.Equal(t, "Mobility", markers[0].CategoryTitle)
	assert.Equal(t, "#e74c3c", markers[0].Icon.Color)

	assert.False(t, markers[1].CanDelete)
	assert.Equal(t, "Anonymous", markers[1].AuthorName)
	assert.Equal(t, "#f1c40f", markers[1].Icon.Color)

	anyone := mapview.NewController(catalog.Default(), failingWriter{}, nil, staticIdentity{identity: user}, domain.DeleteAnyPin)
	anyone.Apply(ctrl.Snapshot())
	assert.True(t, anyone.Markers()[1].CanDelete)
}

func TestDeletePin(t *testing.T) {
	hub := newHub(t)
	owner := &hubWriter{hub: hub, viewer: staticIdentity{identity: user}}
	ctrl := mapview.NewController(hub.Catalog(), owner, nil, owner.viewer, domain.DeleteOwnPins)

	pin, err := hub.Create(context.Background(), user, domain.NewPin{
		Location: domain.NewPoint(-5.9, -35.2), Category: "visual", ProblemID: "signal",
	})
	require.NoError(t, err)

	other := &domain.Identity{ID: "V"}
	stranger := mapview.NewController(hub.Catalog(), &hubWriter{hub: hub, viewer: staticIdentity{identity: other}}, nil, staticIdentity{identity: other}, domain.DeleteOwnPins)

	err = stranger.DeletePin(context.Background(), pin)
	assert.True(t, errors.Is(err, domain.ErrForbidden))
	assert.NotNil(t, stranger.State().Err)

	require.NoError(t, ctrl.DeletePin(context.Background(), pin))

	pins, err := hub.Snapshot(context.Background(), domain.PinQuery{})
	require.NoError(t, err)
	assert.Empty(t, pins)
}

func TestFollowAppliesLatestSnapshot(t *testing.T) {
	ctrl := mapview.NewController(catalog.Default(), failingWriter{}, nil, staticIdentity{}, domain.DeleteOwnPins)

	snapshots := make(chan []domain.Pin, 2)
	snapshots <- []domain.Pin{{ID: "a"}, {ID: "b"}}
	snapshots <- []domain.Pin{{ID: "b"}}
	close(snapshots)

	ctrl.Follow(context.Background(), snapshots)

	pins := ctrl.Snapshot()
	require.Len(t, pins, 1)
	assert.Equal(t, "b", pins[0].ID)
}
