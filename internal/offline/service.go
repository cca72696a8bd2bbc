package offline

import (
	"context"
	"errors"
	"hash/crc32"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"gamenotes/internal/basepath"
	"gamenotes/internal/metrics"
	"gamenotes/internal/store"
)

type Service struct {
	cfg Config
	log zerolog.Logger

	httpClient  *http.Client
	store       store.Store
	passthrough *httputil.ReverseProxy

	mu        sync.RWMutex
	state     State
	current   store.Generation // controls requests; nil until something is installed
	installed store.Generation // generation owned by this version
	install   InstallReport
	rootKey   RequestKey

	ready     chan struct{}
	readyOnce sync.Once

	stopCh    chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once
	wg        sync.WaitGroup

	writeErrLog *rateLimitedLogger
	stats       *statsCollector
}

type Option func(*Service)

// WithLogger sets the service logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "offline").Logger() }
}

// WithHTTPClient replaces the client used for every network fetch. Its
// transport is shared with the pass-through proxy.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// NewService builds a proxy for a validated config over st. Nothing is
// fetched until Start.
func NewService(cfg Config, st store.Store, opts ...Option) (*Service, error) {
	if !cfg.validated {
		return nil, ErrNotValidated
	}

	s := &Service{
		cfg:         cfg,
		log:         zerolog.Nop(),
		httpClient:  &http.Client{Timeout: cfg.networkTimeout},
		store:       st,
		state:       StateInstalling,
		ready:       make(chan struct{}),
		stopCh:      make(chan struct{}),
		writeErrLog: newRateLimitedLogger(1 * time.Minute),
		stats:       newStatsCollector(),
	}
	for _, o := range opts {
		o(s)
	}

	root, err := url.Parse(basepath.Join(cfg.basePrefix, cfg.Manifest.RootDocument))
	if err != nil {
		return nil, err
	}
	_, s.rootKey, _ = s.target(root)

	s.passthrough = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if !pr.In.URL.IsAbs() || s.isLocalHost(pr.In.URL.Host) {
				pr.SetURL(cfg.originURL)
			} else {
				pr.Out.Host = pr.In.URL.Host
			}
			pr.SetXForwarded()
		},
		Transport: s.httpClient.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			requestLogger(r, s.log).Warn().Err(err).Str("url", r.URL.String()).Msg("pass-through failed")
			setOutcomeHeaders(w.Header(), OutcomeBadGateway)
			metrics.RecordRequest(OutcomeBadGateway)
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
	}
	return s, nil
}

// Close stops the background loops. The store belongs to the caller.
func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) handle(w http.ResponseWriter, r *http.Request) {
	if reason := s.passthroughReason(r); reason != "" {
		s.proxyPass(w, r, reason)
		return
	}

	gen := s.controlling()
	if gen == nil {
		s.proxyPass(w, r, OutcomeUncontrolled)
		return
	}

	target, key, sameOrigin := s.target(r.URL)
	if target == nil {
		s.serveFallback(w, r, r.URL)
		return
	}

	if isNavigation(r) {
		s.serveNavigation(w, r, gen, target, key, sameOrigin)
		return
	}
	switch s.cfg.policy {
	case PolicyNetworkFirst:
		s.serveNetworkFirst(w, r, gen, target, key, sameOrigin)
	default:
		s.serveStoreFirst(w, r, gen, target, key, sameOrigin)
	}
}

func (s *Service) serveStoreFirst(w http.ResponseWriter, r *http.Request, gen store.Generation, target *url.URL, key RequestKey, sameOrigin bool) {
	if ent, ok := s.lookup(gen, key); ok {
		s.respond(w, r, ent, OutcomeHit)
		return
	}

	ent, basic, err := s.fetch(r.Context(), target, r.Header, sameOrigin)
	if err != nil {
		requestLogger(r, s.log).Debug().Err(err).Str("key", key.String()).Msg("network failed, no stored copy")
		s.serveFallback(w, r, target)
		return
	}
	if s.shouldStore(ent, basic) {
		s.put(gen, key, ent)
		s.respond(w, r, ent, OutcomeMiss)
		return
	}
	s.respond(w, r, ent, OutcomeNetwork)
}

func (s *Service) serveNetworkFirst(w http.ResponseWriter, r *http.Request, gen store.Generation, target *url.URL, key RequestKey, sameOrigin bool) {
	ent, basic, err := s.fetch(r.Context(), target, r.Header, sameOrigin)
	if err == nil {
		if s.shouldStore(ent, basic) {
			s.put(gen, key, ent)
		}
		s.respond(w, r, ent, OutcomeNetwork)
		return
	}

	requestLogger(r, s.log).Debug().Err(err).Str("key", key.String()).Msg("network failed, trying store")
	if cached, ok := s.lookup(gen, key); ok {
		s.respond(w, r, cached, OutcomeHit)
		return
	}
	s.serveFallback(w, r, target)
}

// serveNavigation goes to the network first under every policy. Offline, any
// navigation resolves to the root document so the app shell still loads.
func (s *Service) serveNavigation(w http.ResponseWriter, r *http.Request, gen store.Generation, target *url.URL, key RequestKey, sameOrigin bool) {
	ent, basic, err := s.fetch(r.Context(), target, r.Header, sameOrigin)
	if err == nil {
		if s.shouldStore(ent, basic) {
			s.put(gen, key, ent)
		}
		s.respond(w, r, ent, OutcomeNetwork)
		return
	}

	if root, ok := s.lookup(gen, s.rootKey); ok {
		s.respond(w, r, root, OutcomeNavigationFallback)
		return
	}
	// Degraded install without a root document.
	if cached, ok := s.lookup(gen, key); ok {
		s.respond(w, r, cached, OutcomeHit)
		return
	}
	s.serveFallback(w, r, target)
}

func (s *Service) serveFallback(w http.ResponseWriter, r *http.Request, target *url.URL) {
	kind := resourceKind(target.Path, r.Header.Get("Sec-Fetch-Dest"))
	metrics.RecordFallback(string(kind))
	s.respond(w, r, fallbackEntry(kind), OutcomeFallback)
}

// shouldStore applies the write rule of the configured policy. Store-first
// only keeps same-origin 200s; network-first keeps every 200.
func (s *Service) shouldStore(ent store.Entry, basic bool) bool {
	if ent.Status != http.StatusOK || !shareable(ent.Header) {
		return false
	}
	if s.cfg.policy == PolicyStoreFirst {
		return basic
	}
	return true
}

func (s *Service) controlling() store.Generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Service) lookup(gen store.Generation, key RequestKey) (store.Entry, bool) {
	ent, ok, err := gen.Get(key.String())
	if err != nil {
		metrics.RecordStoreError("get")
		s.writeErrLog.Event(s.log.Warn()).Err(err).Str("generation", gen.Name()).Msg("store read failed")
		return store.Entry{}, false
	}
	return ent, ok
}

// put is best effort; a failed write never changes the response.
func (s *Service) put(gen store.Generation, key RequestKey, ent store.Entry) {
	err := gen.Put(key.String(), ent)
	if errors.Is(err, store.ErrGenerationDeleted) {
		// the request started before cleanup removed its generation
		s.log.Debug().Str("generation", gen.Name()).Str("key", key.String()).Msg("store write after cleanup dropped")
		return
	}
	if err != nil {
		metrics.RecordStoreError("put")
		s.writeErrLog.Event(s.log.Warn()).Err(err).Str("generation", gen.Name()).Str("key", key.String()).Msg("store write failed")
	}
}

// target resolves a request or manifest URL. Same-origin URLs are fetched
// from the configured origin and keyed by path and query; anything else is
// fetched as is and keyed by its full URL. A nil target means the URL cannot
// be fetched.
func (s *Service) target(u *url.URL) (*url.URL, RequestKey, bool) {
	if u.IsAbs() && !s.isLocalHost(u.Host) {
		t := *u
		t.Scheme = strings.ToLower(t.Scheme)
		t.Host = strings.ToLower(t.Host)
		t.Fragment, t.RawFragment = "", ""
		return &t, RequestKey{Method: http.MethodGet, URL: t.String()}, false
	}

	uri := u.EscapedPath()
	if uri == "" {
		uri = "/"
	}
	if u.RawQuery != "" {
		uri += "?" + u.RawQuery
	}
	t, err := url.Parse(s.cfg.Server.Origin + uri)
	if err != nil {
		return nil, RequestKey{}, true
	}
	return t, RequestKey{Method: http.MethodGet, URL: uri}, true
}

func (s *Service) isLocalHost(host string) bool {
	if host == "" {
		return true
	}
	if strings.EqualFold(host, s.cfg.originURL.Host) {
		return true
	}
	return s.cfg.publicURL != nil && strings.EqualFold(host, s.cfg.publicURL.Host)
}

// fetch performs a GET against the network. basic reports that the response
// came from the site origin, after redirects.
func (s *Service) fetch(ctx context.Context, target *url.URL, hdr http.Header, sameOrigin bool) (store.Entry, bool, error) {
	done := metrics.TimeNetworkFetch()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		done("error")
		return store.Entry{}, false, err
	}
	copyHeaders(req.Header, hdr)
	// Stored entries are shared by every client, so fetches are anonymous.
	for _, h := range credentialHeaders {
		req.Header.Del(h)
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		done("error")
		return store.Entry{}, false, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		done("error")
		return store.Entry{}, false, err
	}
	done("ok")

	ent := store.Entry{
		Status:   resp.StatusCode,
		Header:   cloneHeader(resp.Header),
		Body:     body,
		StoredAt: time.Now().Unix(),
		Hash32:   crc32.ChecksumIEEE(body),
	}
	ent.Header.Del("Content-Length")
	ent.Header.Del(HeaderOutcome)
	for _, h := range hopHeaders {
		ent.Header.Del(h)
	}

	basic := sameOrigin && resp.Request != nil && s.isLocalHost(resp.Request.URL.Host)
	return ent, basic, nil
}

func (s *Service) proxyPass(w http.ResponseWriter, r *http.Request, outcome string) {
	setOutcomeHeaders(w.Header(), outcome)
	metrics.RecordRequest(outcome)
	s.stats.Outcome(outcome)
	requestLogger(r, s.log).Debug().Str("outcome", outcome).Str("method", r.Method).Str("url", r.URL.String()).Msg("pass-through")
	s.passthrough.ServeHTTP(w, r)
}

func (s *Service) respond(w http.ResponseWriter, r *http.Request, ent store.Entry, outcome string) {
	writeEntry(w, ent, outcome)
	metrics.RecordRequest(outcome)
	s.stats.Outcome(outcome)
	switch outcome {
	case OutcomeHit, OutcomeMiss, OutcomeNetwork, OutcomeNavigationFallback:
		s.stats.Observe(len(ent.Body))
	}
	requestLogger(r, s.log).Debug().
		Str("outcome", outcome).
		Str("url", r.URL.String()).
		Int("status", ent.Status).
		Int("bytes", len(ent.Body)).
		Msg("served")
}

// requestLogger prefers the request-scoped logger installed by hlog.
func requestLogger(r *http.Request, fallback zerolog.Logger) *zerolog.Logger {
	l := hlog.FromRequest(r)
	if l.GetLevel() == zerolog.Disabled {
		return &fallback
	}
	return l
}

func writeEntry(w http.ResponseWriter, ent store.Entry, outcome string) {
	for k, vs := range ent.Header {
		if strings.EqualFold(k, HeaderOutcome) {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setOutcomeHeaders(w.Header(), outcome)
	w.WriteHeader(ent.Status)
	_, _ = w.Write(ent.Body)
}

func setOutcomeHeaders(h http.Header, outcome string) {
	if outcome != "" {
		h.Set(HeaderOutcome, outcome)
	}
	// Custom headers are unreadable from page scripts in a CORS context
	// unless exposed.
	ensureExposedHeader(h, HeaderOutcome)
}

func ensureExposedHeader(h http.Header, name string) {
	if name == "" {
		return
	}

	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}

	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}

var credentialHeaders = []string{"Cookie", "Authorization", "Proxy-Authorization"}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// shareable reports whether a response may be stored for every client.
func shareable(h http.Header) bool {
	if len(h.Values("Set-Cookie")) > 0 {
		return false
	}
	for _, v := range h.Values("Cache-Control") {
		for _, d := range strings.Split(v, ",") {
			d = strings.ToLower(strings.TrimSpace(d))
			if i := strings.IndexByte(d, '='); i >= 0 {
				d = strings.TrimSpace(d[:i])
			}
			if d == "private" || d == "no-store" {
				return false
			}
		}
	}
	return true
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") || isHopHeader(k) {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}
