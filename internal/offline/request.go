package offline

import (
	"net/http"
	"strings"
)

// isNavigation reports a top-level document load. Browsers mark those with
// Sec-Fetch-Mode; older clients only tell by asking for HTML.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// passthroughReason returns the outcome to report when r must bypass the
// store entirely, or "" when the proxy handles it.
func (s *Service) passthroughReason(r *http.Request) string {
	if r.Method != http.MethodGet {
		return OutcomeBypass
	}
	if sc := strings.ToLower(r.URL.Scheme); sc != "" && sc != "http" && sc != "https" {
		return OutcomeBypass
	}
	if strings.Contains(r.URL.Path, "/devtools/") {
		return OutcomeBypass
	}

	if rule := s.pickRule(r.URL.Path); rule != nil {
		if rule.Bypass {
			return OutcomeBypass
		}
		if hasAnyCookie(r, rule.BypassWhenCookies) {
			return OutcomeIgnoreByCookie
		}
	}
	return ""
}

func (s *Service) pickRule(path string) *Rule {
	for i := range s.cfg.Rules {
		r := &s.cfg.Rules[i]
		if r.Matches(path) {
			return r
		}
	}
	return nil
}

func hasAnyCookie(r *http.Request, names []string) bool {
	if len(names) == 0 {
		return false
	}
	need := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			need[n] = struct{}{}
		}
	}
	for _, c := range r.Cookies() {
		if _, ok := need[c.Name]; ok {
			return true
		}
	}
	return false
}
