package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB keeps generations in a single leveldb database.
//
// Layout:
//
//	g:<name>          generation meta (creation time)
//	e:<name>\x00<key> gob-encoded Entry
type LevelDB struct {
	db *leveldb.DB

	// serializes generation creation, deletion and entry writes
	mu sync.Mutex
}

type genMeta struct {
	CreatedAt int64 // unix nanoseconds
}

// OpenLevelDB opens (or creates) a leveldb store at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// OpenMemory returns a leveldb store backed by memory only.
func OpenMemory() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func metaKey(name string) []byte { return []byte("g:" + name) }

func entryPrefix(name string) []byte { return []byte("e:" + name + keySep) }

func (l *LevelDB) Generations() ([]GenerationInfo, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte("g:")), nil)
	defer it.Release()

	var out []GenerationInfo
	for it.Next() {
		var meta genMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		out = append(out, GenerationInfo{
			Name:      string(it.Key()[len("g:"):]),
			CreatedAt: time.Unix(0, meta.CreatedAt),
		})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (l *LevelDB) Open(name string) (Generation, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ok, err := l.db.Has(metaKey(name), nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		b, err := encodeGob(genMeta{CreatedAt: time.Now().UnixNano()})
		if err != nil {
			return nil, err
		}
		if err := l.db.Put(metaKey(name), b, nil); err != nil {
			return nil, fmt.Errorf("create generation %s: %w", name, err)
		}
	}
	return &levelGeneration{l: l, db: l.db, name: name, prefix: entryPrefix(name)}, nil
}

func (l *LevelDB) Delete(name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	existed, err := l.db.Has(metaKey(name), nil)
	if err != nil {
		return false, err
	}

	batch := new(leveldb.Batch)
	it := l.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	batch.Delete(metaKey(name))
	if err := l.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	return existed, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelGeneration struct {
	l      *LevelDB
	db     *leveldb.DB
	name   string
	prefix []byte
}

func (g *levelGeneration) Name() string { return g.name }

func (g *levelGeneration) key(k string) []byte {
	out := make([]byte, 0, len(g.prefix)+len(k))
	out = append(out, g.prefix...)
	return append(out, k...)
}

func (g *levelGeneration) Get(key string) (Entry, bool, error) {
	b, err := g.db.Get(g.key(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var ent Entry
	if err := decodeGob(b, &ent); err != nil {
		return Entry{}, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return ent, true, nil
}

func (g *levelGeneration) Put(key string, ent Entry) error {
	b, err := encodeGob(ent)
	if err != nil {
		return err
	}
	g.l.mu.Lock()
	defer g.l.mu.Unlock()
	ok, err := g.db.Has(metaKey(g.name), nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrGenerationDeleted
	}
	return g.db.Put(g.key(key), b, nil)
}

func (g *levelGeneration) Keys() ([]string, error) {
	it := g.db.NewIterator(util.BytesPrefix(g.prefix), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(it.Key()[len(g.prefix):]))
	}
	return out, it.Error()
}

func (g *levelGeneration) Size() (int, int64, error) {
	it := g.db.NewIterator(util.BytesPrefix(g.prefix), nil)
	defer it.Release()
	var (
		n     int
		total int64
	)
	for it.Next() {
		n++
		total += int64(len(it.Value()))
	}
	return n, total, it.Error()
}
