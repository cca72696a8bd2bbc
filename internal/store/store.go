// Package store keeps named generations of cached HTTP responses.
//
// A generation is a versioned snapshot: the proxy creates one per application
// version, fills it during install and deletes it once a newer generation is
// current. Implementations must be safe for concurrent use.
package store

import (
	"bytes"
	"encoding/gob"
	"errors"
	"net/http"
	"strings"
	"time"
)

//go:generate mockgen -package=mock -source=store.go -destination=mock/store.go

var (
	// ErrInvalidName is returned for generation names that cannot be stored.
	ErrInvalidName = errors.New("store: invalid generation name")
	// ErrGenerationDeleted is returned by Put on a handle whose generation was
	// deleted after it was opened.
	ErrGenerationDeleted = errors.New("store: generation deleted")
)

// Entry is a cached response, stored by value.
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix seconds
	Hash32   uint32
}

// GenerationInfo describes a generation without opening it.
type GenerationInfo struct {
	Name      string
	CreatedAt time.Time
}

// Store holds every generation.
type Store interface {
	// Generations lists existing generations, oldest first.
	Generations() ([]GenerationInfo, error)
	// Open returns the named generation, creating it if absent.
	Open(name string) (Generation, error)
	// Delete removes a generation and all of its entries. It reports whether
	// the generation existed.
	Delete(name string) (bool, error)
	Close() error
}

// Generation is a single named set of request key to response entries.
type Generation interface {
	Name() string
	Get(key string) (Entry, bool, error)
	// Put stores ent under key, overwriting any previous entry. It fails with
	// ErrGenerationDeleted once the generation is gone.
	Put(key string, ent Entry) error
	Keys() ([]string, error)
	// Size returns the entry count and the encoded size in bytes.
	Size() (int, int64, error)
}

// keySep separates the generation name from the request key in flat keyspaces.
const keySep = "\x00"

func validName(name string) error {
	if strings.TrimSpace(name) == "" || strings.Contains(name, keySep) {
		return ErrInvalidName
	}
	return nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}

func init() {
	gob.Register(http.Header{})
}
