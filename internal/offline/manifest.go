package offline

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gamenotes/internal/basepath"
)

// remoteManifest accepts both a bare array and {"entries": [...]}.
type remoteManifest struct {
	Entries []string `json:"entries"`
}

// manifestEntries returns the install list: the root document, the
// configured entries and the remote manifest's entries, resolved against the
// base path and deduplicated in order.
func (s *Service) manifestEntries(ctx context.Context) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(s.cfg.Manifest.Entries)+1)
	add := func(entry string) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return
		}
		resolved := basepath.Join(s.cfg.basePrefix, entry)
		if _, ok := seen[resolved]; ok {
			return
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
	}

	add(s.cfg.Manifest.RootDocument)
	for _, e := range s.cfg.Manifest.Entries {
		add(e)
	}

	if s.cfg.Manifest.URL == "" {
		return out
	}
	remote, err := s.fetchRemoteManifest(ctx, s.normalizeMaybeRelativeURL(s.cfg.Manifest.URL))
	if err != nil {
		s.log.Warn().Err(err).Str("url", s.cfg.Manifest.URL).Msg("remote manifest unavailable, installing configured entries only")
		return out
	}
	for _, e := range remote {
		add(e)
	}
	s.log.Debug().Int("remote", len(remote)).Int("total", len(out)).Msg("manifest resolved")
	return out
}

func (s *Service) normalizeMaybeRelativeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" || basepath.IsAbsolute(u) {
		return u
	}
	return s.cfg.Server.Origin + basepath.Join(s.cfg.basePrefix, u)
}

func (s *Service) fetchRemoteManifest(ctx context.Context, manifestURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	// A .gz URL may arrive already decoded by the transport, so trust the
	// magic bytes over the suffix.
	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		if body, err = io.ReadAll(gz); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
	}

	return parseManifest(body)
}

func parseManifest(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var list []string
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		return list, nil
	}
	var doc remoteManifest
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return doc.Entries, nil
}
