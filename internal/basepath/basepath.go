// Package basepath works out the prefix a site is deployed under and joins
// resource paths onto it.
//
// A site served from a GitHub Pages project lives under /<repo>/, while a
// local server serves it from the root. Every root-relative resource path has
// to be rewritten with that prefix.
package basepath

import (
	"fmt"
	"net/url"
	"strings"
)

// Resolver returns the deployment prefix for a host and path. The result is
// either empty or starts with "/" and has no trailing slash.
type Resolver interface {
	Resolve(host, path string) string
}

// Static always resolves to the same prefix.
type Static string

func (s Static) Resolve(string, string) string { return Normalize(string(s)) }

// GitHubPages resolves to "/<first path segment>" on github.io hosts and to
// the empty prefix everywhere else.
type GitHubPages struct{}

func (GitHubPages) Resolve(host, path string) string {
	if !strings.Contains(host, "github.io") {
		return ""
	}
	segs := strings.Split(path, "/")
	if len(segs) < 2 || segs[1] == "" {
		return ""
	}
	return "/" + segs[1]
}

// Modes accepted by ForMode.
const (
	ModeAuto        = "auto"
	ModeStatic      = "static"
	ModeGitHubPages = "github-pages"
)

// ForMode picks a resolver. Auto uses the static prefix when one is given and
// GitHub Pages detection otherwise.
func ForMode(mode, prefix string) (Resolver, error) {
	switch mode {
	case ModeStatic:
		return Static(prefix), nil
	case ModeGitHubPages:
		return GitHubPages{}, nil
	case ModeAuto, "":
		if Normalize(prefix) != "" {
			return Static(prefix), nil
		}
		return GitHubPages{}, nil
	default:
		return nil, fmt.Errorf("unknown base path mode %q", mode)
	}
}

// FromURL resolves the prefix for a public site URL. An empty URL resolves
// with an empty host and path.
func FromURL(r Resolver, publicURL string) (string, error) {
	if publicURL == "" {
		return r.Resolve("", ""), nil
	}
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", fmt.Errorf("parse public url: %w", err)
	}
	return r.Resolve(u.Hostname(), u.Path), nil
}

// Normalize turns "x", "/x/" and "/x" into "/x", and "" or "/" into "".
func Normalize(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}

// IsAbsolute reports whether entry is an absolute http(s) URL, which is never
// rewritten.
func IsAbsolute(entry string) bool {
	return strings.HasPrefix(entry, "http://") || strings.HasPrefix(entry, "https://")
}

// Join places a relative resource path under base. "./" and "" become the
// base root ("<base>/"); leading "./" and "/" are dropped otherwise.
func Join(base, entry string) string {
	entry = strings.TrimSpace(entry)
	if IsAbsolute(entry) {
		return entry
	}
	entry = strings.TrimPrefix(entry, "./")
	entry = strings.TrimPrefix(entry, "/")
	if entry == "." {
		entry = ""
	}
	return Normalize(base) + "/" + entry
}
