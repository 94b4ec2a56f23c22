package vm

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chazu/tiervm/pkg/bytecode"

	_ "modernc.org/sqlite"
)

// ErrCacheMiss is returned by CodeCache.Get when no entry matches.
var ErrCacheMiss = errors.New("code cache miss")

// CodeCache persists compiled functions in SQLite so a restarted VM can
// skip recompiling code whose bytecode has not changed. Entries are keyed
// by function id, bytecode checksum and backend.
type CodeCache struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// OpenCodeCache opens (creating if needed) the cache database at path.
// The path ":memory:" gives a private in-memory cache.
func OpenCodeCache(path string) (*CodeCache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening code cache: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS compiled_functions (
		function_id INTEGER NOT NULL,
		checksum INTEGER NOT NULL,
		backend TEXT NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (function_id, checksum, backend)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &CodeCache{db: db, path: path}, nil
}

// Path returns the database path.
func (c *CodeCache) Path() string {
	return c.path
}

// Close closes the database.
func (c *CodeCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Put stores cf under the backend b it was requested for, replacing any
// entry with the same key. A native request that fell back to mock code
// is still keyed on b so later lookups for b find it.
func (c *CodeCache) Put(cf *CompiledFunction, b Backend) error {
	data, err := MarshalCompiledFunction(cf)
	if err != nil {
		return fmt.Errorf("encoding compiled function: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO compiled_functions (function_id, checksum, backend, data) VALUES (?, ?, ?, ?)",
		int64(cf.FunctionID), int64(cf.Checksum), b.String(), data,
	)
	if err != nil {
		return fmt.Errorf("saving compiled function: %w", err)
	}
	cacheLog.Debug("stored", "function", cf.FunctionID, "checksum", cf.Checksum, "bytes", len(data))
	return nil
}

// Get loads the entry for id compiled from bytecode with the given
// checksum on backend b.
func (c *CodeCache) Get(id bytecode.FunctionID, checksum uint32, b Backend) (*CompiledFunction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte
	err := c.db.QueryRow(
		"SELECT data FROM compiled_functions WHERE function_id = ? AND checksum = ? AND backend = ?",
		int64(id), int64(checksum), b.String(),
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("querying compiled function: %w", err)
	}
	return UnmarshalCompiledFunction(data)
}

// Invalidate removes every entry for id, whatever its checksum or backend.
func (c *CodeCache) Invalidate(id bytecode.FunctionID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.Exec("DELETE FROM compiled_functions WHERE function_id = ?", int64(id))
	if err != nil {
		return 0, fmt.Errorf("invalidating function %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		cacheLog.Debug("invalidated", "function", id, "entries", n)
	}
	return n, nil
}

// Len returns the number of cached entries.
func (c *CodeCache) Len() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM compiled_functions").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}
