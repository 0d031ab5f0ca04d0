// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vpn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// controlServer is a scripted gluetun control API: it tracks the VPN
// status set by PUTs and can be told to delay state visibility or fail.
type controlServer struct {
	mu        sync.Mutex
	status    string
	putCount  int
	getCount  int
	failPuts  bool
	stuckGets bool // GETs never report the PUT status
}

func (c *controlServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/vpn/status", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			c.putCount++
			if c.failPuts {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			var body struct {
				Status string `json:"status"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			c.status = body.Status
			outcome := "set to " + body.Status
			_ = json.NewEncoder(w).Encode(map[string]string{"outcome": outcome})
		case http.MethodGet:
			c.getCount++
			status := c.status
			if c.stuckGets {
				status = "starting"
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return mux
}

func newTestController(t *testing.T, srv *controlServer) *HTTPController {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return NewHTTPController(ts.URL, WithPollBudget(5, time.Millisecond))
}

func TestHTTPControllerRestartHappyPath(t *testing.T) {
	srv := &controlServer{status: "running"}
	ctrl := newTestController(t, srv)

	outcome, err := ctrl.Restart(context.Background())
	require.NoError(t, err)
	require.NotNil(t, outcome.StopDetail)
	assert.Equal(t, "set to stopped", *outcome.StopDetail)
	require.NotNil(t, outcome.StartDetail)
	assert.Equal(t, "set to running", *outcome.StartDetail)
	assert.Equal(t, 2, srv.putCount)
	assert.Equal(t, "running", srv.status)
}

func TestHTTPControllerRestartSurfacesHTTPStatus(t *testing.T) {
	srv := &controlServer{status: "running", failPuts: true}
	ctrl := newTestController(t, srv)

	_, err := ctrl.Restart(context.Background())
	var statusErr *UnexpectedStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestHTTPControllerRestartPollTimeout(t *testing.T) {
	srv := &controlServer{status: "running", stuckGets: true}
	ctrl := newTestController(t, srv)

	_, err := ctrl.Restart(context.Background())
	require.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, 5, srv.getCount, "poll budget must be exhausted")
}

func TestHTTPControllerUnreachableServer(t *testing.T) {
	ctrl := NewHTTPController("http://127.0.0.1:1", WithPollBudget(1, time.Millisecond),
		WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))

	_, err := ctrl.Restart(context.Background())
	require.ErrorIs(t, err, ErrHTTP)
}

func TestHTTPControllerContradictoryPutResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/vpn/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "running"})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	ctrl := NewHTTPController(ts.URL, WithPollBudget(1, time.Millisecond))
	_, err := ctrl.Restart(context.Background())

	var stateErr *UnexpectedStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "stopped", stateErr.Expected)
	assert.Equal(t, "running", stateErr.Actual)
}

func TestNormalizeControlAddr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"gluetun:8000", "http://gluetun:8000"},
		{"10.0.0.2", "http://10.0.0.2"},
		{"http://gluetun:8000", "http://gluetun:8000"},
		{"https://gluetun:8000", "https://gluetun:8000"},
		{"  gluetun:8000  ", "http://gluetun:8000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeControlAddr(tt.in), "input %q", tt.in)
	}
}
