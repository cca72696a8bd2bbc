package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func moduleServer(t *testing.T, missing ...string) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []string
	)
	gone := map[string]bool{}
	for _, m := range missing {
		gone[m] = true
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path)
		mu.Unlock()
		if gone[r.URL.Path] {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte("export {}"))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), seen...)
	}
}

func TestParseFailureMode(t *testing.T) {
	m, err := ParseFailureMode("")
	require.NoError(t, err)
	assert.Equal(t, Abort, m)

	m, err = ParseFailureMode(" Continue ")
	require.NoError(t, err)
	assert.Equal(t, Continue, m)

	_, err = ParseFailureMode("retry")
	assert.Error(t, err)
}

func TestLoadInOrder(t *testing.T) {
	srv, seen := moduleServer(t)
	l := &Loader{
		Client:     srv.Client(),
		BaseURL:    srv.URL,
		BasePrefix: "/gamenotes",
		Modules:    []string{"./src/services/path.js", "./src/services/storage.js", "./src/main.js"},
		Logger:     zerolog.Nop(),
	}
	rep, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.Failed())
	assert.Equal(t, []string{
		"/gamenotes/src/services/path.js",
		"/gamenotes/src/services/storage.js",
		"/gamenotes/src/main.js",
	}, seen())
}

func TestLoadAbortStopsAtFirstFailure(t *testing.T) {
	srv, seen := moduleServer(t, "/b.js")
	l := &Loader{
		Client:  srv.Client(),
		BaseURL: srv.URL,
		Modules: []string{"a.js", "b.js", "c.js"},
		Mode:    Abort,
		Logger:  zerolog.Nop(),
	}
	rep, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Failed())
	assert.Equal(t, []string{"/a.js", "/b.js"}, seen())
	assert.Equal(t, []string{"c.js"}, rep.Skipped)
	assert.Contains(t, rep.FirstError(), "b.js")
}

func TestLoadContinuePastFailure(t *testing.T) {
	srv, seen := moduleServer(t, "/b.js")
	l := &Loader{
		Client:  srv.Client(),
		BaseURL: srv.URL,
		Modules: []string{"a.js", "b.js", "c.js"},
		Mode:    Continue,
		Logger:  zerolog.Nop(),
	}
	rep, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Failed())
	assert.Len(t, seen(), 3)
	assert.Empty(t, rep.Skipped)
	require.Len(t, rep.Modules, 3)
	assert.True(t, rep.Modules[2].OK)
	assert.Equal(t, http.StatusNotFound, rep.Modules[1].Status)
}

func TestLoadDegradedResponseFails(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Stub", "1")
		_, _ = w.Write([]byte("// stub"))
	})
	l := &Loader{
		Client:   &http.Client{Transport: HandlerTransport{Handler: h}},
		BaseURL:  "http://offline.local",
		Modules:  []string{"a.js"},
		Logger:   zerolog.Nop(),
		Degraded: func(r *http.Response) bool { return r.Header.Get("X-Stub") != "" },
	}
	rep, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Failed())
	assert.Equal(t, "served an offline fallback", rep.Modules[0].Error)
}

func TestHandlerTransportPresentsServerRequest(t *testing.T) {
	var gotURI, gotHost string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI, gotHost = r.RequestURI, r.Host
		assert.False(t, r.URL.IsAbs())
	})
	c := &http.Client{Transport: HandlerTransport{Handler: h}}
	resp, err := c.Get("http://offline.local/src/main.js?v=2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "/src/main.js?v=2", gotURI)
	assert.Equal(t, "offline.local", gotHost)
}

func TestRenderErrorPanel(t *testing.T) {
	rec := httptest.NewRecorder()
	RenderErrorPanel(rec, http.StatusServiceUnavailable, "Check the connection <and> reload.", "main.js: unexpected status 404")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	body := rec.Body.String()
	assert.Contains(t, body, "location.reload()")
	assert.Contains(t, body, "Check the connection &lt;and&gt; reload.")
	assert.Contains(t, body, "main.js: unexpected status 404")
}
