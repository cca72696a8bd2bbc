package offline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamenotes/internal/bootstrap"
)

func TestAdminStatus(t *testing.T) {
	origin := newTestOrigin(t, scenarioFiles)
	svc := newTestService(t, testConfig(t, origin.URL), memStore(t), &switchNet{})
	require.NoError(t, svc.Start(context.Background()))

	rec := get(svc.Handler(), "/_offline/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "active", st.State)
	assert.Equal(t, "v1", st.Version)
	assert.Equal(t, PolicyStoreFirst, st.Policy)
	assert.Equal(t, "gamenotes-v1", st.Controlling)
	assert.Equal(t, []string{"gamenotes-v1"}, st.Generations)
	assert.Equal(t, 3, st.Entries)
}

func TestAdminActivate(t *testing.T) {
	origin := newTestOrigin(t, scenarioFiles)
	st := memStore(t)

	v1 := newTestService(t, testConfig(t, origin.URL), st, &switchNet{})
	require.NoError(t, v1.Start(context.Background()))
	v1.Close()

	v2 := newTestService(t, testConfig(t, origin.URL, withVersion("v2")), st, &switchNet{})
	h := v2.Handler()

	req := httptest.NewRequest(http.MethodPost, "/_offline/activate", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, v2.Start(context.Background()))
	require.Equal(t, StateWaiting, v2.State())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_offline/activate", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StateActive, v2.State())
	assert.Equal(t, []string{"gamenotes-v2"}, generationNames(t, st))
}

func TestAdminHealthAndMetrics(t *testing.T) {
	origin := newTestOrigin(t, scenarioFiles)
	svc := newTestService(t, testConfig(t, origin.URL), memStore(t), &switchNet{})
	require.NoError(t, svc.Start(context.Background()))
	h := svc.Handler()

	_ = get(h, "/app.js", nil)

	rec := get(h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(h, "/_offline/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "offline_requests_total")
}

func TestAdminBootstrap(t *testing.T) {
	origin := newTestOrigin(t, scenarioFiles)
	origin.set("/src/services/path.js", "export {}")
	origin.set("/src/main.js", "export {}")
	net := &switchNet{}
	cfg := testConfig(t, origin.URL, func(c *Config) {
		c.Manifest.Entries = append(c.Manifest.Entries, "./src/services/path.js")
		c.Bootstrap.Modules = []string{"./src/services/path.js", "./src/main.js"}
	})
	svc := newTestService(t, cfg, memStore(t), net)
	require.NoError(t, svc.Start(context.Background()))
	h := svc.Handler()

	rec := get(h, "/_offline/bootstrap", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rep bootstrap.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Len(t, rep.Modules, 2)
	assert.False(t, rep.Failed())

	// main.js was cached on the first run; a module never seen falls back.
	net.down.Store(true)
	rec = get(h, "/_offline/bootstrap", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	svc.cfg.Bootstrap.Modules = []string{"./src/services/path.js", "./src/pages/StatsPage.js", "./src/main.js"}
	rec = get(h, "/_offline/bootstrap", http.Header{"Accept": {"text/html"}})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "location.reload()")
	assert.Contains(t, rec.Body.String(), "StatsPage.js")

	rec = get(h, "/_offline/bootstrap", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, []string{"./src/main.js"}, rep.Skipped)
}
