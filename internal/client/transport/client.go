package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/atinyakov/studydeck/internal/client/credstore"
	"go.uber.org/zap"
)

// RefreshCookieName is the cookie the server keeps the refresh token in.
const RefreshCookieName = "refresh_token"

// HTTPOptions configures NewHTTPClient.
type HTTPOptions struct {
	// CAFile adds a PEM CA bundle to the system roots.
	CAFile string
	// Timeout bounds each round trip. Zero means 30s.
	Timeout time.Duration
	// Jar stores cookies. Nil means a fresh in-memory jar.
	Jar http.CookieJar
}

// NewHTTPClient builds the *http.Client shared by API calls and token
// refreshes. Both must use the same jar so the refresh cookie set at login
// is sent to the refresh endpoint.
func NewHTTPClient(opts HTTPOptions) (*http.Client, error) {
	jar := opts.Jar
	if jar == nil {
		j, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		jar = j
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rt := http.DefaultTransport.(*http.Transport).Clone()
	if opts.CAFile != "" {
		caCert, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA cert")
		}
		rt.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	return &http.Client{Transport: rt, Jar: jar, Timeout: timeout}, nil
}

// PersistentJar is a cookie jar that keeps the refresh cookie of one API
// origin in a Persister, so a later process can still renew its access
// token.
type PersistentJar struct {
	inner  *cookiejar.Jar
	origin *url.URL
	p      credstore.Persister
	log    *zap.Logger

	mu sync.Mutex
}

// NewPersistentJar returns a jar for baseURL seeded with the refresh cookie
// stored in p. A nil log means a no-op logger.
func NewPersistentJar(baseURL string, p credstore.Persister, log *zap.Logger) (*PersistentJar, error) {
	if log == nil {
		log = zap.NewNop()
	}
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	origin, err := url.Parse(strings.TrimRight(baseURL, "/") + RefreshPath)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	value, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("load refresh cookie: %w", err)
	}
	if value != "" {
		inner.SetCookies(origin, []*http.Cookie{{
			Name:     RefreshCookieName,
			Value:    value,
			Path:     "/api/auth",
			HttpOnly: true,
		}})
	}
	return &PersistentJar{inner: inner, origin: origin, p: p, log: log}, nil
}

// SetCookies implements http.CookieJar. A change of the refresh cookie is
// written through to the persister.
func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.inner.SetCookies(u, cookies)
	for _, c := range cookies {
		if c.Name == RefreshCookieName {
			if err := j.p.Save(j.refreshValue()); err != nil {
				j.log.Warn("failed to persist refresh cookie", zap.Error(err))
			}
			return
		}
	}
}

// Cookies implements http.CookieJar.
func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

func (j *PersistentJar) refreshValue() string {
	for _, c := range j.inner.Cookies(j.origin) {
		if c.Name == RefreshCookieName {
			return c.Value
		}
	}
	return ""
}
