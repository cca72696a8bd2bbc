package offline

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"gamenotes/internal/store"
)

// testOrigin is a site origin whose files can change between requests.
type testOrigin struct {
	*httptest.Server

	mu      sync.Mutex
	files   map[string]string
	hits    map[string]int
	methods []string
}

func newTestOrigin(t *testing.T, files map[string]string) *testOrigin {
	t.Helper()
	o := &testOrigin{files: map[string]string{}, hits: map[string]int{}}
	for k, v := range files {
		o.files[k] = v
	}
	o.Server = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.Close)
	return o
}

func (o *testOrigin) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.hits[r.URL.Path]++
	o.methods = append(o.methods, r.Method)
	body, ok := o.files[r.URL.RequestURI()]
	if !ok {
		body, ok = o.files[r.URL.Path]
	}
	o.mu.Unlock()

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(r.URL.Path))
	_, _ = w.Write([]byte(body))
}

func contentTypeFor(p string) string {
	switch path.Ext(p) {
	case ".js":
		return "application/javascript"
	case ".css":
		return "text/css"
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case "", ".html":
		return "text/html; charset=utf-8"
	}
	return "text/plain"
}

func (o *testOrigin) set(p, body string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.files[p] = body
}

func (o *testOrigin) hitCount(p string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[p]
}

func (o *testOrigin) seenMethods() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.methods...)
}

var errNetworkDown = errors.New("network down")

// switchNet fails every round trip while down.
type switchNet struct {
	down atomic.Bool
}

func (n *switchNet) RoundTrip(r *http.Request) (*http.Response, error) {
	if n.down.Load() {
		return nil, errNetworkDown
	}
	return http.DefaultTransport.RoundTrip(r)
}

var scenarioFiles = map[string]string{
	"/":           "<html>directory root</html>",
	"/index.html": "<html>app shell</html>",
	"/app.js":     "console.log('app')",
}

func testConfig(t *testing.T, origin string, mutate ...func(*Config)) Config {
	t.Helper()
	var cfg Config
	cfg.Server.Origin = origin
	cfg.Proxy.Version = "v1"
	cfg.Manifest.Entries = []string{"./", "./index.html", "./app.js"}
	for _, m := range mutate {
		m(&cfg)
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func memStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestService(t *testing.T, cfg Config, st store.Store, net *switchNet) *Service {
	t.Helper()
	svc, err := NewService(cfg, st, WithHTTPClient(&http.Client{Transport: net}))
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func get(h http.Handler, target string, hdr http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func navigate(h http.Handler, target string) *httptest.ResponseRecorder {
	return get(h, target, http.Header{
		"Sec-Fetch-Mode": {"navigate"},
		"Accept":         {"text/html,application/xhtml+xml"},
	})
}

func generationNames(t *testing.T, st store.Store) []string {
	t.Helper()
	gens, err := st.Generations()
	require.NoError(t, err)
	out := make([]string, 0, len(gens))
	for _, g := range gens {
		out = append(out, g.Name)
	}
	return out
}
