package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
)

// Tiered fronts a Store with an in-memory bigcache tier. Reads fill the tier,
// writes go through to the backing store, and deleting a generation purges its
// keys from memory.
type Tiered struct {
	Store
	ram *bigcache.BigCache

	// Reads and writes hold it shared and Delete exclusively, so a purge
	// never races a late fill of RAM.
	mu sync.RWMutex
}

// NewTiered wraps backing with a RAM tier limited to maxMB megabytes.
func NewTiered(backing Store, maxMB int) (*Tiered, error) {
	cfg := bigcache.DefaultConfig(24 * time.Hour)
	cfg.Shards = 64
	cfg.HardMaxCacheSize = maxMB
	cfg.MaxEntriesInWindow = 4096
	cfg.MaxEntrySize = 16 * 1024
	cfg.Verbose = false

	ram, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return &Tiered{Store: backing, ram: ram}, nil
}

func (t *Tiered) Open(name string) (Generation, error) {
	g, err := t.Store.Open(name)
	if err != nil {
		return nil, err
	}
	return &tieredGeneration{Generation: g, t: t, ram: t.ram, prefix: name + keySep}, nil
}

func (t *Tiered) Delete(name string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	existed, err := t.Store.Delete(name)
	if err != nil {
		return existed, err
	}
	t.purge(name + keySep)
	return existed, nil
}

func (t *Tiered) purge(prefix string) {
	var keys []string
	it := t.ram.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			continue
		}
		if strings.HasPrefix(info.Key(), prefix) {
			keys = append(keys, info.Key())
		}
	}
	for _, k := range keys {
		_ = t.ram.Delete(k)
	}
}

func (t *Tiered) Close() error {
	_ = t.ram.Close()
	return t.Store.Close()
}

type tieredGeneration struct {
	Generation
	t      *Tiered
	ram    *bigcache.BigCache
	prefix string
}

func (g *tieredGeneration) Get(key string) (Entry, bool, error) {
	g.t.mu.RLock()
	defer g.t.mu.RUnlock()
	if b, err := g.ram.Get(g.prefix + key); err == nil {
		var ent Entry
		if decodeGob(b, &ent) == nil {
			return ent, true, nil
		}
		_ = g.ram.Delete(g.prefix + key)
	}
	ent, ok, err := g.Generation.Get(key)
	if err != nil || !ok {
		return ent, ok, err
	}
	g.remember(key, ent)
	return ent, true, nil
}

func (g *tieredGeneration) Put(key string, ent Entry) error {
	g.t.mu.RLock()
	defer g.t.mu.RUnlock()
	if err := g.Generation.Put(key, ent); err != nil {
		return err
	}
	g.remember(key, ent)
	return nil
}

// remember is best-effort: entries larger than a shard are simply not kept in RAM.
func (g *tieredGeneration) remember(key string, ent Entry) {
	b, err := encodeGob(ent)
	if err != nil {
		return
	}
	_ = g.ram.Set(g.prefix+key, b)
}
