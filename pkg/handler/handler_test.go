package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/auth"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/database"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/pinstore"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/ratelimit"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/catalog"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

func TestMain(m *testing.M) {
	log.SetFormatter(&log.JSONFormatter{})
	os.Exit(m.Run())
}

type testEnv struct {
	server *httptest.Server
	db     database.Datastore
	hub    *pinstore.Hub
	auth   *auth.Authenticator
}

func newTestEnv(t *testing.T, createLimit int) *testEnv {
	db, err := database.NewDatabaseConnection(database.NewSQLiteConnector())
	require.NoError(t, err)

	a, err := auth.New(db, "test-secret", time.Hour)
	require.NoError(t, err)

	hub := pinstore.NewHub(db, catalog.Default())

	server := httptest.NewServer(NewRouter(Services{
		Hub:           hub,
		Auth:          a,
		CreateLimiter: ratelimit.NewMemoryLimiter(createLimit, time.Hour),
		Map:           domain.NewMapSettings("https://tiles.test/{z}/{x}/{y}.png", "test"),
	}))

	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})

	return &testEnv{server: server, db: db, hub: hub, auth: a}
}

func (e *testEnv) register(t *testing.T, name, email string) (domain.Identity, string) {
	identity, err := e.auth.Register(name, email, "secret123")
	require.NoError(t, err)
	token, err := e.auth.Issue(identity)
	require.NoError(t, err)
	return identity, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}

	req, err := http.NewRequest(method, e.server.URL+path, &payload)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func ramp(lat, lng float64) domain.NewPin {
	return domain.NewPin{
		Location:  domain.NewPoint(lat, lng),
		Category:  "mobility",
		ProblemID: "ramp",
		Severity:  domain.SeverityBad,
	}
}

func TestCatalogAndMarkers(t *testing.T) {
	env := newTestEnv(t, 10)

	categories := []catalog.Category{}
	resp := env.do(t, http.MethodGet, "/api/catalog", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &categories)
	assert.Len(t, categories, 4)
	assert.Equal(t, "mobility", categories[0].Key)

	legend := map[string]interface{}{}
	resp = env.do(t, http.MethodGet, "/api/markers", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &legend)
	assert.Contains(t, legend, "problems")

	settings := domain.MapSettings{}
	resp = env.do(t, http.MethodGet, "/api/map", "", nil)
	decode(t, resp, &settings)
	assert.Equal(t, domain.DefaultZoom, settings.Zoom)
	assert.Equal(t, domain.DefaultCenter, settings.Center)
	assert.Equal(t, domain.DeleteOwnPins, settings.DeletePolicy)
}

func TestRegisterSignInAndMe(t *testing.T) {
	env := newTestEnv(t, 10)

	resp := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Ana Souza", "email": "ana@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Ana Again", "email": "ana@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "ana@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "ana@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	session := SessionResponse{}
	decode(t, resp, &session)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "Ana Souza", session.Identity.DisplayName)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	me := domain.Identity{}
	resp = env.do(t, http.MethodGet, "/api/auth/me", session.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &me)
	assert.Equal(t, session.Identity.ID, me.ID)
	assert.Equal(t, "ana@example.com", me.Email)

	resp = env.do(t, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/auth/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreatePinRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, 10)

	resp := env.do(t, http.MethodPost, "/api/pins", "", ramp(-5.9, -35.2))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, env.db.GetPinCount())
}

func TestCreateAndListPins(t *testing.T) {
	env := newTestEnv(t, 10)
	ana, token := env.register(t, "Ana Souza", "ana@example.com")

	resp := env.do(t, http.MethodPost, "/api/pins", token, ramp(-5.9, -35.2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := domain.Pin{}
	decode(t, resp, &created)
	assert.Equal(t, ana.ID, created.AuthorID)
	assert.Equal(t, "Missing Ramp", created.ProblemLabel)

	pins := []domain.Pin{}
	resp = env.do(t, http.MethodGet, "/api/pins", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &pins)
	require.Len(t, pins, 1)
	assert.Equal(t, created.ID, pins[0].ID)
	assert.Equal(t, domain.SeverityBad, pins[0].Severity)
}

func TestListOwnPins(t *testing.T) {
	env := newTestEnv(t, 10)
	_, anaToken := env.register(t, "Ana Souza", "ana@example.com")
	_, brunoToken := env.register(t, "Bruno Lima", "bruno@example.com")

	env.do(t, http.MethodPost, "/api/pins", anaToken, ramp(-5.9, -35.2))
	env.do(t, http.MethodPost, "/api/pins", brunoToken, ramp(-5.8, -35.1))

	pins := []domain.Pin{}
	resp := env.do(t, http.MethodGet, "/api/pins?author=me", brunoToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &pins)
	require.Len(t, pins, 1)
	assert.Equal(t, -5.8, pins[0].Lat)

	resp = env.do(t, http.MethodGet, "/api/pins?author=me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/pins?author=someone", anaToken, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateInvalidPin(t *testing.T) {
	env := newTestEnv(t, 10)
	_, token := env.register(t, "Ana Souza", "ana@example.com")

	draft := ramp(-5.9, -35.2)
	draft.ProblemID = "signal"

	resp := env.do(t, http.MethodPost, "/api/pins", token, draft)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeletePin(t *testing.T) {
	env := newTestEnv(t, 10)
	_, anaToken := env.register(t, "Ana Souza", "ana@example.com")
	_, brunoToken := env.register(t, "Bruno Lima", "bruno@example.com")

	created := domain.Pin{}
	decode(t, env.do(t, http.MethodPost, "/api/pins", anaToken, ramp(-5.9, -35.2)), &created)

	resp := env.do(t, http.MethodDelete, "/api/pins/"+created.ID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/pins/"+created.ID, brunoToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/pins/"+created.ID, anaToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/pins/"+created.ID, anaToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateIsRateLimited(t *testing.T) {
	env := newTestEnv(t, 1)
	_, token := env.register(t, "Ana Souza", "ana@example.com")

	resp := env.do(t, http.MethodPost, "/api/pins", token, ramp(-5.9, -35.2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/pins", token, ramp(-5.8, -35.1))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 1, env.db.GetPinCount())
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, rd *bufio.Reader) sseEvent {
	event := sseEvent{}
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)

		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if event.name != "" {
				return event
			}
		case strings.HasPrefix(line, "event: "):
			event.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			event.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func readSnapshot(t *testing.T, rd *bufio.Reader) []domain.Pin {
	for {
		event := readEvent(t, rd)
		if event.name != EventSnapshot {
			continue
		}
		pins := []domain.Pin{}
		require.NoError(t, json.Unmarshal([]byte(event.data), &pins))
		return pins
	}
}

func openStream(t *testing.T, env *testEnv, token string) *bufio.Reader {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/pins/stream", nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	return bufio.NewReader(resp.Body)
}

func TestStreamConvergesAcrossViewers(t *testing.T) {
	env := newTestEnv(t, 10)
	ana, anaToken := env.register(t, "Ana Souza", "ana@example.com")

	viewerA := openStream(t, env, anaToken)
	viewerB := openStream(t, env, "")

	assert.Empty(t, readSnapshot(t, viewerA))
	assert.Empty(t, readSnapshot(t, viewerB))

	created := domain.Pin{}
	decode(t, env.do(t, http.MethodPost, "/api/pins", anaToken, ramp(-5.9, -35.2)), &created)

	pins := readSnapshot(t, viewerB)
	require.Len(t, pins, 1)
	assert.Equal(t, ana.ID, pins[0].AuthorID)

	resp := env.do(t, http.MethodDelete, "/api/pins/"+created.ID, anaToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Empty(t, readSnapshot(t, viewerB))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 10)

	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStaleTokenStillReadsPublicMap(t *testing.T) {
	env := newTestEnv(t, 10)

	resp := env.do(t, http.MethodGet, "/api/pins", "expired-or-forged", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/pins", "expired-or-forged", ramp(-5.9, -35.2))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, env.db.GetPinCount())
}

func TestCORSCredentialsOnlyForListedOrigins(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	request := func(options cors.Options, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/pins", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		cors.New(options).Handler(ok).ServeHTTP(w, req)
		return w
	}

	listed := corsOptions([]string{"http://localhost:3000"})
	assert.True(t, listed.AllowCredentials)

	w := request(listed, "http://localhost:3000")
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = request(listed, "http://evil.test")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	wildcard := corsOptions(nil)
	assert.False(t, wildcard.AllowCredentials)

	w = request(wildcard, "http://evil.test")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}
