package healthprobe

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthAlwaysOK(t *testing.T) {
	t.Parallel()

	checker := New()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	checker.Health()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.NotEmpty(t, resp.Uptime)
}

func TestReadyTransitions(t *testing.T) {
	t.Parallel()

	checker := New()

	get := func() int {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)
		rec := httptest.NewRecorder()
		checker.Ready()(rec, req)
		return rec.Code
	}

	// Not ready until marked.
	assert.Equal(t, http.StatusServiceUnavailable, get())

	checker.SetReady(true)
	assert.Equal(t, http.StatusOK, get())

	// Degraded flips readiness even while running.
	checker.SetDegraded(true)
	assert.Equal(t, http.StatusServiceUnavailable, get())

	checker.SetDegraded(false)
	assert.Equal(t, http.StatusOK, get())

	checker.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, get())
}
