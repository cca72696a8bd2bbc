// Package bootstrap loads the application modules of a page in dependency
// order, the way the page bootstrap does in a browser, and renders the error
// panel shown when a required module could not be loaded.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"gamenotes/internal/basepath"
)

// FailureMode decides what the loader does after a module failed.
type FailureMode string

const (
	// Continue records the failure and loads the remaining modules.
	Continue FailureMode = "continue"
	// Abort stops at the first failed module.
	Abort FailureMode = "abort"
)

// ParseFailureMode accepts "continue" and "abort". Empty means abort.
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Abort:
		return Abort, nil
	case Continue:
		return Continue, nil
	default:
		return "", fmt.Errorf("unknown failure mode %q", s)
	}
}

// ModuleResult is the outcome of loading one module.
type ModuleResult struct {
	Module string `json:"module"`
	URL    string `json:"url"`
	Status int    `json:"status,omitempty"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type Report struct {
	Mode    FailureMode    `json:"mode"`
	Modules []ModuleResult `json:"modules"`
	// Skipped lists modules never requested because the loader aborted.
	Skipped []string `json:"skipped,omitempty"`
}

// Failed reports whether any module failed to load. A failed report cannot
// be recovered from without a reload.
func (r Report) Failed() bool {
	for _, m := range r.Modules {
		if !m.OK {
			return true
		}
	}
	return false
}

// FirstError describes the first failed module, or "" when none failed.
func (r Report) FirstError() string {
	for _, m := range r.Modules {
		if !m.OK {
			return fmt.Sprintf("%s: %s", m.Module, m.Error)
		}
	}
	return ""
}

// Loader requests Modules one at a time, in order, relative to BaseURL and
// the deployment prefix.
type Loader struct {
	Client     *http.Client
	BaseURL    string
	BasePrefix string
	Modules    []string
	Mode       FailureMode
	Logger     zerolog.Logger

	// Degraded, when set, marks a 2xx response as a failure. The proxy uses
	// it to reject synthesized offline stubs.
	Degraded func(*http.Response) bool
}

// Load runs the sequence. The error is non-nil only when the sequence could
// not run at all (bad base URL, cancelled context); module failures are
// reported through the Report.
func (l *Loader) Load(ctx context.Context) (Report, error) {
	base, err := url.Parse(l.BaseURL)
	if err != nil {
		return Report{}, fmt.Errorf("bootstrap: base url: %w", err)
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	mode := l.Mode
	if mode == "" {
		mode = Abort
	}

	rep := Report{Mode: mode, Modules: make([]ModuleResult, 0, len(l.Modules))}
	for i, mod := range l.Modules {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		res := l.loadOne(ctx, client, base, mod)
		rep.Modules = append(rep.Modules, res)
		if res.OK {
			l.Logger.Debug().Str("module", mod).Int("status", res.Status).Msg("module loaded")
			continue
		}
		l.Logger.Warn().Str("module", mod).Str("error", res.Error).Msg("module failed to load")
		if mode == Abort {
			rep.Skipped = append(rep.Skipped, l.Modules[i+1:]...)
			break
		}
	}
	return rep, nil
}

func (l *Loader) loadOne(ctx context.Context, client *http.Client, base *url.URL, mod string) ModuleResult {
	ref, err := url.Parse(basepath.Join(l.BasePrefix, mod))
	if err != nil {
		return ModuleResult{Module: mod, Error: err.Error()}
	}
	target := base.ResolveReference(ref)
	res := ModuleResult{Module: mod, URL: target.String()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Sec-Fetch-Dest", "script")
	req.Header.Set("Sec-Fetch-Mode", "cors")

	resp, err := client.Do(req)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	res.Status = resp.StatusCode
	switch {
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		res.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	case l.Degraded != nil && l.Degraded(resp):
		res.Error = "served an offline fallback"
	default:
		res.OK = true
	}
	return res
}
