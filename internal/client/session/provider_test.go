package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/atinyakov/studydeck/internal/apierror"
	"github.com/atinyakov/studydeck/internal/client/api"
	"github.com/atinyakov/studydeck/internal/client/credstore"
	"github.com/atinyakov/studydeck/internal/client/transport"
	"github.com/atinyakov/studydeck/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ada = models.Identity{
	ID:          uuid.MustParse("3b9e2c1d-7f6a-4d5e-8c4b-2a1f0e9d8c7b"),
	Email:       "ada@example.com",
	Role:        models.RoleStudent,
	DisplayName: "Ada",
}

// fakeAuth implements AuthClient.
type fakeAuth struct {
	me        *models.Identity
	meErr     error
	res       *api.AuthResponse
	err       error
	logoutErr error
	logouts   int
}

func (f *fakeAuth) Me(context.Context) (*models.Identity, error) { return f.me, f.meErr }

func (f *fakeAuth) Login(context.Context, string, string) (*api.AuthResponse, error) {
	return f.res, f.err
}

func (f *fakeAuth) Register(context.Context, string, string, string) (*api.AuthResponse, error) {
	return f.res, f.err
}

func (f *fakeAuth) Logout(context.Context) error {
	f.logouts++
	return f.logoutErr
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.State)
	}
	return out
}

func TestProvider_Init(t *testing.T) {
	tests := []struct {
		name     string
		auth     *fakeAuth
		state    State
		identity *models.Identity
	}{
		{
			name:     "valid credential",
			auth:     &fakeAuth{me: &ada},
			state:    StateAuthenticated,
			identity: &ada,
		},
		{
			name:  "rejected credential",
			auth:  &fakeAuth{meErr: &transport.RefreshError{Err: errors.New("401")}},
			state: StateUnauthenticated,
		},
		{
			name:  "server unreachable",
			auth:  &fakeAuth{meErr: errors.New("dial tcp: connection refused")},
			state: StateUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(tt.auth, credstore.New(nil), nil)
			require.Equal(t, StateInitializing, p.State())

			rec := &recorder{}
			p.Subscribe(rec.record)
			p.Init(context.Background())

			assert.Equal(t, tt.state, p.State())
			assert.Equal(t, tt.identity, p.Identity())
			assert.Empty(t, p.LastError(), "init failures are silent")
			assert.Equal(t, []State{tt.state}, rec.states())
		})
	}
}

func TestProvider_Login(t *testing.T) {
	store := credstore.New(nil)
	p := NewProvider(&fakeAuth{res: &api.AuthResponse{User: ada, AccessToken: "tok"}}, store, nil)

	require.NoError(t, p.Login(context.Background(), "ada@example.com", "password1"))

	assert.Equal(t, StateAuthenticated, p.State())
	assert.Equal(t, &ada, p.Identity())
	assert.Equal(t, "tok", store.Get())
}

func TestProvider_LoginWithoutToken(t *testing.T) {
	store := credstore.New(nil)
	require.NoError(t, store.Set("existing"))
	p := NewProvider(&fakeAuth{res: &api.AuthResponse{User: ada}}, store, nil)

	require.NoError(t, p.Register(context.Background(), "ada@example.com", "password1", "Ada"))

	assert.Equal(t, StateAuthenticated, p.State())
	assert.Equal(t, "existing", store.Get())
}

func TestProvider_LoginFailure(t *testing.T) {
	loginErr := &transport.APIError{Status: http.StatusUnauthorized, Code: apierror.CodeInvalidCredentials, Message: "invalid email or password"}
	p := NewProvider(&fakeAuth{err: loginErr}, credstore.New(nil), nil)
	rec := &recorder{}
	p.Subscribe(rec.record)

	err := p.Login(context.Background(), "ada@example.com", "wrong")

	assert.ErrorIs(t, err, loginErr)
	assert.Equal(t, StateUnauthenticated, p.State())
	assert.Nil(t, p.Identity())
	assert.Equal(t, "invalid email or password", p.LastError())
	require.Len(t, rec.snaps, 1)
	assert.Equal(t, "invalid email or password", rec.snaps[0].Err)
}

func TestProvider_RegisterValidationMessage(t *testing.T) {
	regErr := &transport.APIError{
		Status: http.StatusBadRequest,
		Code:   apierror.CodeValidation,
		Fields: []apierror.Field{{Field: "password", Message: "must be at least 8 characters"}},
	}
	p := NewProvider(&fakeAuth{err: regErr}, credstore.New(nil), nil)

	require.Error(t, p.Register(context.Background(), "ada@example.com", "short", ""))
	assert.Equal(t, "password: must be at least 8 characters", p.LastError())
}

func TestProvider_Logout(t *testing.T) {
	store := credstore.New(nil)
	auth := &fakeAuth{res: &api.AuthResponse{User: ada, AccessToken: "tok"}, logoutErr: errors.New("network down")}
	p := NewProvider(auth, store, nil)
	require.NoError(t, p.Login(context.Background(), "ada@example.com", "password1"))

	require.NoError(t, p.Logout(context.Background()))

	assert.Equal(t, 1, auth.logouts)
	assert.Equal(t, StateUnauthenticated, p.State())
	assert.Nil(t, p.Identity())
	assert.Empty(t, store.Get())
}

func TestProvider_Unsubscribe(t *testing.T) {
	p := NewProvider(&fakeAuth{me: &ada}, credstore.New(nil), nil)
	var calls atomic.Int32
	unsubscribe := p.Subscribe(func(Snapshot) { calls.Add(1) })

	p.Init(context.Background())
	unsubscribe()
	require.NoError(t, p.Logout(context.Background()))

	assert.EqualValues(t, 1, calls.Load())
}

func TestProvider_SnapshotIsACopy(t *testing.T) {
	p := NewProvider(&fakeAuth{me: &ada}, credstore.New(nil), nil)
	p.Init(context.Background())

	snap := p.Snapshot()
	snap.Identity.DisplayName = "changed"

	assert.Equal(t, "Ada", p.Identity().DisplayName)
}

// blockingAuth holds Me until release is closed.
type blockingAuth struct {
	fakeAuth
	started chan struct{}
	release chan struct{}
}

func (b *blockingAuth) Me(ctx context.Context) (*models.Identity, error) {
	close(b.started)
	<-b.release
	return nil, errors.New("stale credential")
}

func TestProvider_LoginDuringInitWins(t *testing.T) {
	auth := &blockingAuth{
		fakeAuth: fakeAuth{res: &api.AuthResponse{User: ada, AccessToken: "tok"}},
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	p := NewProvider(auth, credstore.New(nil), nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Init(context.Background())
	}()
	<-auth.started
	require.NoError(t, p.Login(context.Background(), "ada@example.com", "password1"))
	close(auth.release)
	<-done

	assert.Equal(t, StateAuthenticated, p.State())
}

// sessionServer serves me and refresh. Tokens in valid are accepted until
// revoked is set; refresh answers with refreshToken, or 401 when it is
// empty or the session was revoked.
type sessionServer struct {
	valid        map[string]bool
	refreshToken string
	revoked      atomic.Bool
	refreshCalls atomic.Int32
}

func (s *sessionServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case transport.RefreshPath:
		s.refreshCalls.Add(1)
		if s.refreshToken == "" || s.revoked.Load() {
			apierror.Write(w, http.StatusUnauthorized, apierror.CodeInvalidSession, "session expired")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": s.refreshToken})
	case "/api/auth/me":
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !s.valid[token] || s.revoked.Load() {
			apierror.Write(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "token expired")
			return
		}
		_ = json.NewEncoder(w).Encode(ada)
	default:
		http.NotFound(w, r)
	}
}

func newWiredProvider(t *testing.T, s *sessionServer, token string) (*Provider, *credstore.Store) {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	store := credstore.New(nil)
	require.NoError(t, store.Set(token))
	tr, err := transport.New(transport.Config{BaseURL: srv.URL, Store: store})
	require.NoError(t, err)
	p := NewProvider(api.NewAuthAPI(tr), store, nil)
	p.Watch(tr)
	return p, store
}

func TestProvider_InitRenewsExpiredToken(t *testing.T) {
	s := &sessionServer{valid: map[string]bool{"T2": true}, refreshToken: "T2"}
	p, store := newWiredProvider(t, s, "T1")
	rec := &recorder{}
	p.Subscribe(rec.record)

	p.Init(context.Background())

	assert.Equal(t, StateAuthenticated, p.State())
	assert.Equal(t, &ada, p.Identity())
	assert.Equal(t, "T2", store.Get())
	assert.EqualValues(t, 1, s.refreshCalls.Load())
	assert.Equal(t, []State{StateAuthenticated}, rec.states())
}

func TestProvider_RejectedRefreshSignsOut(t *testing.T) {
	s := &sessionServer{valid: map[string]bool{"T1": true}, refreshToken: "T2"}
	p, store := newWiredProvider(t, s, "T1")
	p.Init(context.Background())
	require.Equal(t, StateAuthenticated, p.State())
	require.Zero(t, s.refreshCalls.Load())

	s.revoked.Store(true)
	p.Init(context.Background())

	assert.Equal(t, StateUnauthenticated, p.State())
	assert.Nil(t, p.Identity())
	assert.Empty(t, store.Get())
	assert.EqualValues(t, 1, s.refreshCalls.Load())
}

// brokenRefreshServer signs in with T1, refuses T1 on every other endpoint
// and drops the connection on refresh.
func brokenRefreshServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			_ = json.NewEncoder(w).Encode(api.AuthResponse{User: ada, AccessToken: "T1"})
		case transport.RefreshPath:
			conn, _, err := w.(http.Hijacker).Hijack()
			if err != nil {
				t.Errorf("hijack: %v", err)
				return
			}
			_ = conn.Close()
		default:
			apierror.Write(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "token expired")
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProvider_RefreshNetworkFailureSignsOutKeepsCredential(t *testing.T) {
	srv := brokenRefreshServer(t)
	store := credstore.New(nil)
	tr, err := transport.New(transport.Config{BaseURL: srv.URL, Store: store})
	require.NoError(t, err)
	p := NewProvider(api.NewAuthAPI(tr), store, nil)
	p.Watch(tr)
	rec := &recorder{}
	p.Subscribe(rec.record)

	require.NoError(t, p.Login(context.Background(), "ada@example.com", "password1"))
	require.Equal(t, StateAuthenticated, p.State())
	require.Equal(t, "T1", store.Get())

	err = tr.JSON(context.Background(), http.MethodGet, "/api/materials", nil, nil)

	var refreshErr *transport.RefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.False(t, refreshErr.Rejected())
	var urlErr *url.Error
	assert.ErrorAs(t, err, &urlErr, "unwraps to the network cause")

	assert.Equal(t, "T1", store.Get(), "credential is kept on a network failure")
	assert.Equal(t, StateUnauthenticated, p.State())
	assert.Nil(t, p.Identity())
	assert.Equal(t, []State{StateAuthenticated, StateUnauthenticated}, rec.states())
}

func TestProvider_ExpireClearsOnlyRejectedCredential(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		token string
	}{
		{
			name:  "refused by server",
			err:   &transport.RefreshError{Err: &transport.APIError{Status: http.StatusUnauthorized, Code: apierror.CodeInvalidSession}},
			token: "",
		},
		{
			name:  "server error",
			err:   &transport.RefreshError{Err: &transport.APIError{Status: http.StatusBadGateway}},
			token: "T1",
		},
		{
			name:  "network error",
			err:   &transport.RefreshError{Err: errors.New("connection reset")},
			token: "T1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := credstore.New(nil)
			p := NewProvider(&fakeAuth{res: &api.AuthResponse{User: ada, AccessToken: "T1"}}, store, nil)
			require.NoError(t, p.Login(context.Background(), "ada@example.com", "password1"))

			p.expire(tt.err)

			assert.Equal(t, StateUnauthenticated, p.State())
			assert.Nil(t, p.Identity())
			assert.Equal(t, tt.token, store.Get())
		})
	}
}
