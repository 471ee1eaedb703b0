package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/database"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

func newAuthenticator(t *testing.T) *Authenticator {
	db, err := database.NewDatabaseConnection(database.NewSQLiteConnector())
	require.NoError(t, err)

	a, err := New(db, "test-secret", time.Hour)
	require.NoError(t, err)
	return a
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := New(nil, "", time.Hour)
	assert.Error(t, err)
}

func TestRegisterAndSignIn(t *testing.T) {
	a := newAuthenticator(t)

	registered, err := a.Register("Ana Souza", "Ana@Example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", registered.Email)

	identity, token, err := a.SignIn("ana@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, identity.ID)

	verified, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, verified.ID)
	assert.Equal(t, "Ana Souza", verified.DisplayName)

	looked, err := a.Lookup(registered.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", looked.Email)
}

func TestRegisterValidation(t *testing.T) {
	a := newAuthenticator(t)

	_, err := a.Register("", "a@b.c", "secret1")
	assert.True(t, errors.Is(err, ErrInvalidRegistration))
	_, err = a.Register("Ana", "not-an-email", "secret1")
	assert.True(t, errors.Is(err, ErrInvalidRegistration))
	_, err = a.Register("Ana", "a@b.c", "123")
	assert.True(t, errors.Is(err, ErrInvalidRegistration))

	_, err = a.Register("Ana", "a@b.c", "secret1")
	require.NoError(t, err)
	_, err = a.Register("Other Ana", "a@b.c", "secret2")
	assert.True(t, errors.Is(err, ErrEmailTaken))
}

func TestSignInFailuresAreSignInErrors(t *testing.T) {
	a := newAuthenticator(t)
	_, err := a.Register("Ana", "a@b.c", "secret1")
	require.NoError(t, err)

	_, _, err = a.SignIn("a@b.c", "wrong")
	var signInErr *domain.SignInError
	assert.True(t, errors.As(err, &signInErr))
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	_, _, err = a.SignIn("nobody@b.c", "secret1")
	assert.True(t, errors.As(err, &signInErr))
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	a := newAuthenticator(t)
	identity := domain.Identity{ID: "u1", DisplayName: "Ana"}

	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := a.Issue(identity)
	require.NoError(t, err)

	_, err = a.Verify(expired)
	assert.True(t, errors.Is(err, ErrInvalidToken))

	other := newAuthenticator(t)
	other.secret = []byte("another-secret")
	foreign, err := other.Issue(identity)
	require.NoError(t, err)

	_, err = a.Verify(foreign)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}

func TestMiddleware(t *testing.T) {
	a := newAuthenticator(t)
	token, err := a.Issue(domain.Identity{ID: "u1", DisplayName: "Ana"})
	require.NoError(t, err)

	var seen *domain.Identity
	handler := a.Middleware(RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = IdentityFromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "u1", seen.ID)

	req = httptest.NewRequest(http.MethodGet, "/?access_token="+token, nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBadTokenIsTreatedAsAnonymous(t *testing.T) {
	a := newAuthenticator(t)

	called := false
	var seen *domain.Identity
	public := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		seen = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "stale"})
	w := httptest.NewRecorder()
	public.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
	assert.Nil(t, seen)
}

func TestTokenIsNotReadFromQuery(t *testing.T) {
	a := newAuthenticator(t)
	token, err := a.Issue(domain.Identity{ID: "u1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/?access_token="+token, nil)
	assert.Equal(t, "", TokenFromRequest(req))
}
