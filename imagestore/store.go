// Package imagestore keeps compiled images in SQLite, addressed by the
// sha256 of their bytes.
package imagestore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/vela/vm"
	"github.com/chazu/vela/vm/dist"
)

var log = commonlog.GetLogger("vela.imagestore")

// ErrImageNotFound indicates the requested image doesn't exist.
var ErrImageNotFound = errors.New("image not found")

// Entry describes a stored image.
type Entry struct {
	Hash     string // hex sha256 of the image bytes
	Name     string
	Size     int
	Version  uint32
	Objects  int
	StoredAt time.Time
}

// Store is a SQLite-backed image store. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the store at path. ":memory:" gives a private
// in-memory store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS images (
		hash      TEXT PRIMARY KEY,
		name      TEXT NOT NULL,
		version   INTEGER NOT NULL,
		objects   INTEGER NOT NULL,
		data      BLOB NOT NULL,
		stored_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Put validates and stores image under name, returning its hash. Storing
// the same bytes again only updates the name.
func (s *Store) Put(ctx context.Context, name string, image []byte) (string, error) {
	p, err := vm.Load(image)
	if err != nil {
		return "", fmt.Errorf("refusing invalid image: %w", err)
	}
	sum := dist.HashImage(image)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO images (hash, name, version, objects, data, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET name = excluded.name`,
		hash, name, p.Header.Version, p.Len(), image, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("storing image %s: %w", name, err)
	}
	log.Infof("stored %s as %s (%d bytes)", name, hash[:12], len(image))
	return hash, nil
}

// PutProgram encodes p and stores it.
func (s *Store) PutProgram(ctx context.Context, name string, p *vm.Program) (string, error) {
	image, err := vm.EncodeProgram(p)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, name, image)
}

// Get returns the image bytes for hash. The bytes are re-hashed on read.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM images WHERE hash = ?", hash).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, hash)
		}
		return nil, fmt.Errorf("loading image %s: %w", hash, err)
	}
	sum := dist.HashImage(data)
	if got := hex.EncodeToString(sum[:]); got != hash {
		return nil, fmt.Errorf("image %s is corrupt: content hashes to %s", hash, got)
	}
	return data, nil
}

// GetProgram loads the program stored under hash.
func (s *Store) GetProgram(ctx context.Context, hash string) (*vm.Program, error) {
	data, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	return vm.Load(data)
}

// Lookup returns the most recently stored image with the given name.
func (s *Store) Lookup(ctx context.Context, name string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT hash, name, length(data), version, objects, stored_at
		 FROM images WHERE name = ? ORDER BY stored_at DESC, hash LIMIT 1`, name)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, name)
		}
		return nil, err
	}
	return e, nil
}

// List returns every stored image, ordered by name then hash.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, name, length(data), version, objects, stored_at
		 FROM images ORDER BY name, hash`)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Delete removes the image stored under hash.
func (s *Store) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM images WHERE hash = ?", hash)
	if err != nil {
		return fmt.Errorf("deleting image %s: %w", hash, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrImageNotFound, hash)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(r scanner) (*Entry, error) {
	var (
		e        Entry
		storedAt int64
	)
	if err := r.Scan(&e.Hash, &e.Name, &e.Size, &e.Version, &e.Objects, &storedAt); err != nil {
		return nil, err
	}
	e.StoredAt = time.Unix(storedAt, 0)
	return &e, nil
}
