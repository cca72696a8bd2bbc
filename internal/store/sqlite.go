package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLite keeps generations in two tables of a sqlite database.
type SQLite struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// OpenSQLite opens (or creates) the sqlite database at filename.
func OpenSQLite(filename string) (*SQLite, error) {
	if filename == "" {
		return nil, errors.New("sqlite: empty filename")
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS generations (
			name TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			generation TEXT NOT NULL,
			key TEXT NOT NULL,
			entry BLOB NOT NULL,
			PRIMARY KEY (generation, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
	}
	return &SQLite{db: db, writeMutex: &sync.Mutex{}}, nil
}

func (s *SQLite) Generations() ([]GenerationInfo, error) {
	rows, err := s.db.Query("SELECT name, created_at FROM generations ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GenerationInfo
	for rows.Next() {
		var (
			name    string
			created int64
		)
		if err := rows.Scan(&name, &created); err != nil {
			return nil, err
		}
		out = append(out, GenerationInfo{Name: name, CreatedAt: time.Unix(0, created)})
	}
	return out, rows.Err()
}

func (s *SQLite) Open(name string) (Generation, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO generations (name, created_at) VALUES (?, ?)",
		name, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("create generation %s: %w", name, err)
	}
	return &sqliteGeneration{s: s, name: name}, nil
}

func (s *SQLite) Delete(name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM entries WHERE generation = ?", name); err != nil {
		return false, err
	}
	res, err := tx.Exec("DELETE FROM generations WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqliteGeneration struct {
	s    *SQLite
	name string
}

func (g *sqliteGeneration) Name() string { return g.name }

func (g *sqliteGeneration) Get(key string) (Entry, bool, error) {
	var b []byte
	err := g.s.db.QueryRow("SELECT entry FROM entries WHERE generation = ? AND key = ?",
		g.name, key).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
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

func (g *sqliteGeneration) Put(key string, ent Entry) error {
	b, err := encodeGob(ent)
	if err != nil {
		return err
	}
	g.s.writeMutex.Lock()
	defer g.s.writeMutex.Unlock()
	res, err := g.s.db.Exec(`INSERT OR REPLACE INTO entries (generation, key, entry)
		SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM generations WHERE name = ?)`,
		g.name, key, b, g.name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrGenerationDeleted
	}
	return nil
}

func (g *sqliteGeneration) Keys() ([]string, error) {
	rows, err := g.s.db.Query("SELECT key FROM entries WHERE generation = ? ORDER BY key", g.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (g *sqliteGeneration) Size() (int, int64, error) {
	var (
		n     int
		total sql.NullInt64
	)
	err := g.s.db.QueryRow("SELECT COUNT(*), SUM(LENGTH(entry)) FROM entries WHERE generation = ?",
		g.name).Scan(&n, &total)
	if err != nil {
		return 0, 0, err
	}
	return n, total.Int64, nil
}
