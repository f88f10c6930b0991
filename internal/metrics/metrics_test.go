package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewServer(reg)

	m.ObserveRequest("POST", "/api/auth/login", 200, 10*time.Millisecond)
	m.ObserveRequest("POST", "/api/auth/login", 401, 5*time.Millisecond)
	m.AuthEvent("login", "ok")
	m.AuthEvent("login", "ok")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("POST", "/api/auth/login", "401")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.authEvents.WithLabelValues("login", "ok")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.requests))
}

func TestClient(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClient(reg)

	m.Refresh(true)
	m.Refresh(false)
	m.Queued()
	m.Queued()
	m.Replay(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.queued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replays.WithLabelValues("ok")))
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var s *Server
	var c *Client

	s.ObserveRequest("GET", "/", 200, time.Millisecond)
	s.AuthEvent("login", "ok")
	c.Refresh(true)
	c.Queued()
	c.Replay(false)
}
