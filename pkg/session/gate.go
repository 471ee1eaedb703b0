package session

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
)

//Provider is the identity provider the gate follows
type Provider interface {
	OnSessionChange(fn func(*domain.Identity)) func()
	SignIn(ctx context.Context, email, password string) (domain.Identity, error)
	SignOut(ctx context.Context) error
}

//State of the gate
type State int

const (
	//Pending means the provider has not reported the session yet
	Pending State = iota
	Anonymous
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	}
	return "pending"
}

//View is the top level view mounted for a state
type View int

const (
	ViewLoading View = iota
	ViewSignIn
	ViewHome
)

//Gate decides which top level view is mounted. The provider's notifications are the only
//thing that moves it, it never remembers an identity on its own.
type Gate struct {
	provider Provider

	mu          sync.Mutex
	state       State
	identity    *domain.Identity
	unsubscribe func()
	listeners   []chan State
}

//NewGate creates a gate in the Pending state
func NewGate(provider Provider) *Gate {
	return &Gate{provider: provider}
}

//Start subscribes to the provider. Calling it on a started gate does nothing.
func (g *Gate) Start() {
	g.mu.Lock()
	if g.unsubscribe != nil {
		g.mu.Unlock()
		return
	}
	// placeholder so that a notification delivered during registration sees a started gate
	g.unsubscribe = func() {}
	g.mu.Unlock()

	unsubscribe := g.provider.OnSessionChange(g.onSessionChange)

	g.mu.Lock()
	g.unsubscribe = unsubscribe
	g.mu.Unlock()
}

//Stop unsubscribes from the provider and closes every Changes channel
func (g *Gate) Stop() {
	g.mu.Lock()
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	listeners := g.listeners
	g.listeners = nil
	g.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	for _, ch := range listeners {
		close(ch)
	}
}

func (g *Gate) onSessionChange(identity *domain.Identity) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.unsubscribe == nil {
		return
	}

	if identity == nil {
		g.state, g.identity = Anonymous, nil
	} else {
		copied := *identity
		g.state, g.identity = Authenticated, &copied
	}

	log.Debugf("Session is now %s", g.state)

	for _, ch := range g.listeners {
		select {
		case <-ch:
		default:
		}
		ch <- g.state
	}
}

//State returns the current state
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

//Identity returns the authenticated identity, or nil
func (g *Gate) Identity() *domain.Identity {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.identity == nil {
		return nil
	}
	identity := *g.identity
	return &identity
}

//View returns the view to mount. While the provider is still restoring the session a loading
//view is shown, never the sign in view.
func (g *Gate) View() View {
	switch g.State() {
	case Anonymous:
		return ViewSignIn
	case Authenticated:
		return ViewHome
	}
	return ViewLoading
}

//Changes returns a channel that receives the latest state after every notification.
//Unread states are replaced by newer ones. The channel is closed by Stop.
func (g *Gate) Changes() <-chan State {
	ch := make(chan State, 1)

	g.mu.Lock()
	g.listeners = append(g.listeners, ch)
	g.mu.Unlock()

	return ch
}

//SignIn asks the provider for a session. The gate itself moves when the provider reports it.
//Failures are returned as *domain.SignInError and leave the state unchanged.
func (g *Gate) SignIn(ctx context.Context, email, password string) error {
	_, err := g.provider.SignIn(ctx, email, password)
	if err == nil {
		return nil
	}

	var signInErr *domain.SignInError
	if errors.As(err, &signInErr) {
		return err
	}
	return &domain.SignInError{Err: err}
}

//SignOut ends the session with the provider
func (g *Gate) SignOut(ctx context.Context) error {
	return g.provider.SignOut(ctx)
}
