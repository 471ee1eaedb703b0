package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/catalog"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

//Client talks to the accessmap api on behalf of a single viewer and acts as their identity provider
type Client struct {
	baseURL string
	http    *http.Client

	mu        sync.Mutex
	token     string
	identity  *domain.Identity
	resolved  bool
	listeners map[int]func(*domain.Identity)
	nextID    int
}

//Option configures a Client
type Option func(*Client)

//WithHTTPClient replaces the default http client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

//New creates a client for the api served at baseURL
func New(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		listeners: map[int]func(*domain.Identity){},
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

type errorResponse struct {
	Error string `json:"error"`
}

//StatusError is a non successful api response
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api responded %d: %s", e.StatusCode, e.Message)
}

//Unwrap maps the status code back onto the domain error it was produced from
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return domain.ErrAuthRequired
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusBadRequest:
		return domain.ErrInvalidPin
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, err
		}
		payload = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return readStatusError(resp)
	}

	if result == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

func readStatusError(resp *http.Response) error {
	msg := errorResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil || msg.Error == "" {
		msg.Error = http.StatusText(resp.StatusCode)
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg.Error}
}

//writeFailure turns a failed create or delete into the error reported to the viewer
func writeFailure(op string, err error) error {
	if errors.Is(err, domain.ErrAuthRequired) {
		return domain.ErrAuthRequired
	}
	return domain.NewWriteError(op, err)
}

//Token returns the current session token, or the empty string when signed out
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

//Identity returns the signed in identity, or nil
func (c *Client) Identity() *domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.identity == nil {
		return nil
	}
	identity := *c.identity
	return &identity
}

//OnSessionChange registers fn to be called with the identity, or nil, whenever the session changes.
//If the session state is already known fn is called right away. The returned func unregisters fn.
func (c *Client) OnSessionChange(fn func(*domain.Identity)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	resolved := c.resolved
	c.mu.Unlock()

	if resolved {
		fn(c.Identity())
	}

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) setSession(token string, identity *domain.Identity) {
	c.mu.Lock()
	c.token = token
	c.identity = identity
	c.resolved = true

	listeners := make([]func(*domain.Identity), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		if identity == nil {
			fn(nil)
			continue
		}
		copied := *identity
		fn(&copied)
	}
}

//Register creates an account. It does not sign in.
func (c *Client) Register(ctx context.Context, name, email, password string) (domain.Identity, error) {
	identity := domain.Identity{}
	err := c.do(ctx, http.MethodPost, "/api/auth/register", map[string]string{
		"name": name, "email": email, "password": password,
	}, &identity)
	return identity, err
}

type sessionResponse struct {
	Token    string          `json:"token"`
	Identity domain.Identity `json:"identity"`
}

//SignIn exchanges credentials for a session. Failures are returned as *domain.SignInError.
func (c *Client) SignIn(ctx context.Context, email, password string) (domain.Identity, error) {
	session := sessionResponse{}
	err := c.do(ctx, http.MethodPost, "/api/auth/signin", map[string]string{
		"email": email, "password": password,
	}, &session)
	if err != nil {
		return domain.Identity{}, &domain.SignInError{Err: err}
	}

	c.setSession(session.Token, &session.Identity)
	log.Infof("Signed in as %s", session.Identity.ID)

	return session.Identity, nil
}

//SignOut ends the session locally and on the server
func (c *Client) SignOut(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/signout", nil, nil)
	c.setSession("", nil)
	return err
}

//RestoreSession resumes a session from a previously issued token. Listeners are notified
//in either case: with the identity when the token is still good, otherwise with nil.
func (c *Client) RestoreSession(ctx context.Context, token string) error {
	if token == "" {
		c.setSession("", nil)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/auth/me", nil)
	if err != nil {
		c.setSession("", nil)
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.setSession("", nil)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setSession("", nil)
		return readStatusError(resp)
	}

	identity := domain.Identity{}
	if err = json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		c.setSession("", nil)
		return err
	}

	c.setSession(token, &identity)
	return nil
}

//Catalog fetches the category catalog the server validates pins against
func (c *Client) Catalog(ctx context.Context) (*catalog.Catalog, error) {
	categories := []catalog.Category{}
	if err := c.do(ctx, http.MethodGet, "/api/catalog", nil, &categories); err != nil {
		return nil, err
	}
	return catalog.New(categories...)
}

//MapSettings fetches the tile source, the initial viewport and the server's delete policy
func (c *Client) MapSettings(ctx context.Context) (domain.MapSettings, error) {
	settings := domain.MapSettings{}
	if err := c.do(ctx, http.MethodGet, "/api/map", nil, &settings); err != nil {
		return settings, err
	}

	policy, err := domain.ParseDeletePolicy(string(settings.DeletePolicy))
	if err != nil {
		return settings, err
	}
	settings.DeletePolicy = policy

	return settings, nil
}

func (c *Client) pinsPath(path string, query domain.PinQuery) (string, error) {
	if query.AuthorID == "" {
		return path, nil
	}

	identity := c.Identity()
	if identity == nil {
		return "", domain.ErrAuthRequired
	}
	if identity.ID != query.AuthorID {
		return "", fmt.Errorf("only the pins of the signed in user can be selected")
	}

	return path + "?" + url.Values{"author": []string{"me"}}.Encode(), nil
}

//Pins fetches a one off snapshot
func (c *Client) Pins(ctx context.Context, query domain.PinQuery) ([]domain.Pin, error) {
	path, err := c.pinsPath("/api/pins", query)
	if err != nil {
		return nil, err
	}

	pins := []domain.Pin{}
	err = c.do(ctx, http.MethodGet, path, nil, &pins)
	return pins, err
}

//CreatePin submits a new pin. The pin becomes visible through the next snapshot.
func (c *Client) CreatePin(ctx context.Context, draft domain.NewPin) error {
	if c.Identity() == nil {
		return domain.ErrAuthRequired
	}

	if err := c.do(ctx, http.MethodPost, "/api/pins", draft, nil); err != nil {
		return writeFailure("create", err)
	}
	return nil
}

//DeletePin removes a pin. The pin disappears with the next snapshot.
func (c *Client) DeletePin(ctx context.Context, id string) error {
	if c.Identity() == nil {
		return domain.ErrAuthRequired
	}

	if err := c.do(ctx, http.MethodDelete, "/api/pins/"+url.PathEscape(id), nil, nil); err != nil {
		return writeFailure("delete", err)
	}
	return nil
}
