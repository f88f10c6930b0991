// Package session tracks whether the client is signed in and who the user
// is, and notifies subscribers on every change.
package session

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/atinyakov/studydeck/internal/client/api"
	"github.com/atinyakov/studydeck/internal/client/transport"
	"github.com/atinyakov/studydeck/internal/models"
	"go.uber.org/zap"
)

// State is the authentication state of the session.
type State int

const (
	// StateInitializing is the state before Init has completed.
	StateInitializing State = iota
	// StateAuthenticated means the identity is known.
	StateAuthenticated
	// StateUnauthenticated means there is no usable session.
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of the session at one point in time.
type Snapshot struct {
	State    State
	Identity *models.Identity
	// Err is the user-facing message of the last failed login or register.
	Err string
}

// AuthClient is the subset of the auth API the provider uses.
type AuthClient interface {
	Me(ctx context.Context) (*models.Identity, error)
	Login(ctx context.Context, email, password string) (*api.AuthResponse, error)
	Register(ctx context.Context, email, password, displayName string) (*api.AuthResponse, error)
	Logout(ctx context.Context) error
}

// Credentials stores the access token.
type Credentials interface {
	Set(token string) error
	Clear() error
}

// ExpiryNotifier reports failed session renewals.
type ExpiryNotifier interface {
	OnSessionExpired(fn func(error))
}

// Provider is the session state machine. It is safe for concurrent use and
// never holds its lock across network calls.
type Provider struct {
	api   AuthClient
	creds Credentials
	log   *zap.Logger

	mu        sync.Mutex
	state     State
	identity  *models.Identity
	lastErr   string
	seq       uint64
	listeners map[int]func(Snapshot)
	nextID    int
}

// NewProvider returns a provider in StateInitializing.
func NewProvider(client AuthClient, creds Credentials, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		api:       client,
		creds:     creds,
		log:       log,
		listeners: make(map[int]func(Snapshot)),
	}
}

// Watch moves the session to StateUnauthenticated whenever n reports a
// failed renewal. The credential is cleared only when the server refused it.
func (p *Provider) Watch(n ExpiryNotifier) {
	n.OnSessionExpired(p.expire)
}

// Init resolves StateInitializing by asking the server who the current
// credential belongs to. Failures are not returned: any error means
// unauthenticated. A transition made while the call was in flight wins.
func (p *Provider) Init(ctx context.Context) {
	seq := p.currentSeq()

	id, err := p.api.Me(ctx)
	if err != nil {
		p.log.Debug("session check failed", zap.Error(err))
		p.transitionIf(seq, StateUnauthenticated, nil, "")
		return
	}
	p.transitionIf(seq, StateAuthenticated, id, "")
}

// Login signs in. On failure the session becomes unauthenticated, LastError
// holds a user-facing message and the error is returned.
func (p *Provider) Login(ctx context.Context, email, password string) error {
	res, err := p.api.Login(ctx, email, password)
	return p.signedIn(res, err)
}

// Register creates an account and signs in, like Login.
func (p *Provider) Register(ctx context.Context, email, password, displayName string) error {
	res, err := p.api.Register(ctx, email, password, displayName)
	return p.signedIn(res, err)
}

// Logout ends the session. The server call is best effort; the credential
// and identity are always cleared.
func (p *Provider) Logout(ctx context.Context) error {
	if err := p.api.Logout(ctx); err != nil {
		p.log.Warn("logout request failed", zap.Error(err))
	}
	err := p.creds.Clear()
	p.transition(StateUnauthenticated, nil, "")
	return err
}

// State returns the current state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Identity returns a copy of the signed-in identity, or nil.
func (p *Provider) Identity() *models.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyIdentity(p.identity)
}

// LastError returns the message of the last failed login or register.
func (p *Provider) LastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Snapshot returns the current session.
func (p *Provider) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Subscribe registers fn to be called with a snapshot after every
// transition and returns a function that unregisters it.
func (p *Provider) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *Provider) signedIn(res *api.AuthResponse, err error) error {
	if err != nil {
		p.transition(StateUnauthenticated, nil, UserMessage(err))
		return err
	}
	if res.AccessToken != "" {
		if err := p.creds.Set(res.AccessToken); err != nil {
			p.log.Warn("failed to persist access token", zap.Error(err))
		}
	}
	p.transition(StateAuthenticated, &res.User, "")
	return nil
}

func (p *Provider) expire(err error) {
	p.log.Info("session expired", zap.Error(err))
	var refreshErr *transport.RefreshError
	if errors.As(err, &refreshErr) && refreshErr.Rejected() {
		if cerr := p.creds.Clear(); cerr != nil {
			p.log.Warn("failed to clear credential", zap.Error(cerr))
		}
	}
	p.transition(StateUnauthenticated, nil, "")
}

func (p *Provider) currentSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

func (p *Provider) transition(state State, id *models.Identity, errMsg string) {
	p.mu.Lock()
	p.apply(state, id, errMsg)
	snap, listeners := p.snapshotLocked(), p.listenersLocked()
	p.mu.Unlock()
	notify(listeners, snap)
}

func (p *Provider) transitionIf(seq uint64, state State, id *models.Identity, errMsg string) {
	p.mu.Lock()
	if p.seq != seq {
		p.mu.Unlock()
		return
	}
	p.apply(state, id, errMsg)
	snap, listeners := p.snapshotLocked(), p.listenersLocked()
	p.mu.Unlock()
	notify(listeners, snap)
}

func (p *Provider) apply(state State, id *models.Identity, errMsg string) {
	p.seq++
	p.state = state
	p.identity = copyIdentity(id)
	p.lastErr = errMsg
}

func (p *Provider) snapshotLocked() Snapshot {
	return Snapshot{State: p.state, Identity: copyIdentity(p.identity), Err: p.lastErr}
}

func (p *Provider) listenersLocked() []func(Snapshot) {
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		out = append(out, p.listeners[id])
	}
	return out
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}

func copyIdentity(id *models.Identity) *models.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

// UserMessage turns an auth failure into a message fit for a form.
func UserMessage(err error) string {
	var apiErr *transport.APIError
	if errors.As(err, &apiErr) {
		if len(apiErr.Fields) > 0 {
			parts := make([]string, 0, len(apiErr.Fields))
			for _, f := range apiErr.Fields {
				parts = append(parts, f.Field+": "+f.Message)
			}
			return strings.Join(parts, "; ")
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
	}
	var refreshErr *transport.RefreshError
	if errors.As(err, &refreshErr) {
		return "your session has expired, please sign in again"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "the request was cancelled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return "unable to reach the server"
	}
	return err.Error()
}
