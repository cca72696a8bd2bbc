package offline

import (
	"net/http"
	"path"
	"strings"
	"time"

	"gamenotes/internal/store"
)

// ResourceKind is the apparent type of a requested resource, used to pick
// an offline substitute.
type ResourceKind string

const (
	KindScript     ResourceKind = "script"
	KindStylesheet ResourceKind = "stylesheet"
	KindImage      ResourceKind = "image"
	KindOther      ResourceKind = "other"
)

var kindByExt = map[string]ResourceKind{
	".js":   KindScript,
	".mjs":  KindScript,
	".css":  KindStylesheet,
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".gif":  KindImage,
	".svg":  KindImage,
	".webp": KindImage,
	".ico":  KindImage,
}

// resourceKind decides by path extension first. Sec-Fetch-Dest only breaks
// the tie for extensionless or unknown paths.
func resourceKind(p, dest string) ResourceKind {
	if k, ok := kindByExt[strings.ToLower(path.Ext(p))]; ok {
		return k
	}
	switch strings.ToLower(dest) {
	case "script", "worker", "sharedworker":
		return KindScript
	case "style":
		return KindStylesheet
	case "image":
		return KindImage
	}
	return KindOther
}

const imagePlaceholder = `<svg width="400" height="300" xmlns="http://www.w3.org/2000/svg">` +
	`<text x="50%" y="50%" font-family="Arial" font-size="24" text-anchor="middle" dominant-baseline="middle" fill="#888">` +
	`Image unavailable offline</text></svg>`

type fallbackBody struct {
	contentType string
	body        string
}

var fallbacks = map[ResourceKind]fallbackBody{
	KindScript:     {"application/javascript; charset=utf-8", "// offline fallback\n"},
	KindStylesheet: {"text/css; charset=utf-8", "/* offline fallback */\n"},
	KindImage:      {"image/svg+xml", imagePlaceholder},
	KindOther:      {"text/plain; charset=utf-8", "Network unavailable. Reload the page when the connection is back.\n"},
}

func fallbackEntry(kind ResourceKind) store.Entry {
	fb, ok := fallbacks[kind]
	if !ok {
		fb = fallbacks[KindOther]
	}
	h := make(http.Header)
	h.Set("Content-Type", fb.contentType)
	h.Set("Cache-Control", "no-store")
	return store.Entry{
		Status:   http.StatusOK,
		Header:   h,
		Body:     []byte(fb.body),
		StoredAt: time.Now().Unix(),
	}
}
