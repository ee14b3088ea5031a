package catalog

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zeebo/blake3"
)

// Entry describes one published artifact.
type Entry struct {
	Key        string
	Path       string
	Size       int64
	Digest     string
	CompileDur time.Duration
	CompiledAt time.Time
	LoadedAt   *time.Time
	LoadCount  int
}

// Problem is a catalog entry whose file no longer matches.
type Problem struct {
	Key    string
	Path   string
	Reason string
}

// Catalog records published artifacts in SQLite.
type Catalog struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open database (see storage.OpenSQLite).
func New(db *sql.DB) *Catalog {
	return &Catalog{db: db, now: time.Now}
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Digest computes the BLAKE3 hash of a file.
func Digest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Record hashes the artifact at path and upserts it under key.
func (c *Catalog) Record(ctx context.Context, key, path string, compileDur time.Duration) error {
	digest, size, err := Digest(path)
	if err != nil {
		return err
	}

	now := c.now().UTC().Format(time.RFC3339Nano)
	_, err = c.db.ExecContext(ctx, `
INSERT INTO artifacts(key, path, size, digest, compile_ms, compiled_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  path = excluded.path,
  size = excluded.size,
  digest = excluded.digest,
  compile_ms = excluded.compile_ms,
  compiled_at = excluded.compiled_at;
`, key, path, size, digest, compileDur.Milliseconds(), now)
	if err != nil {
		return fmt.Errorf("record artifact: %w", err)
	}
	return nil
}

// MarkLoaded bumps the load counter of key. Unknown keys are ignored, so
// artifacts published by another process before the catalog existed load fine.
func (c *Catalog) MarkLoaded(ctx context.Context, key string) error {
	now := c.now().UTC().Format(time.RFC3339Nano)
	_, err := c.db.ExecContext(ctx, `
UPDATE artifacts SET loaded_at = ?, load_count = load_count + 1 WHERE key = ?;
`, now, key)
	if err != nil {
		return fmt.Errorf("mark artifact loaded: %w", err)
	}
	return nil
}

// Get returns the entry for key, nil if unknown.
func (c *Catalog) Get(ctx context.Context, key string) (*Entry, error) {
	row := c.db.QueryRowContext(ctx, `
SELECT key, path, size, digest, compile_ms, compiled_at, loaded_at, load_count
FROM artifacts WHERE key = ?;
`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return e, nil
}

// List returns all entries, newest first.
func (c *Catalog) List(ctx context.Context) ([]*Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT key, path, size, digest, compile_ms, compiled_at, loaded_at, load_count
FROM artifacts ORDER BY compiled_at DESC, key ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return out, nil
}

// Verify re-hashes every recorded artifact and reports missing or modified
// files.
func (c *Catalog) Verify(ctx context.Context) ([]Problem, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}

	var problems []Problem
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return problems, err
		}
		digest, size, err := Digest(e.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			problems = append(problems, Problem{Key: e.Key, Path: e.Path, Reason: "missing"})
		case err != nil:
			problems = append(problems, Problem{Key: e.Key, Path: e.Path, Reason: err.Error()})
		case digest != e.Digest:
			problems = append(problems, Problem{
				Key:    e.Key,
				Path:   e.Path,
				Reason: fmt.Sprintf("digest mismatch: expected %s, got %s (%d bytes)", e.Digest, digest, size),
			})
		}
	}
	return problems, nil
}

// Remove deletes the entry for key.
func (c *Catalog) Remove(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?;`, key); err != nil {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// Clear deletes every entry.
func (c *Catalog) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM artifacts;`); err != nil {
		return fmt.Errorf("clear catalog: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e           Entry
		compileMS   int64
		compiledAtS string
		loadedAtS   sql.NullString
	)
	if err := s.Scan(&e.Key, &e.Path, &e.Size, &e.Digest, &compileMS, &compiledAtS, &loadedAtS, &e.LoadCount); err != nil {
		return nil, err
	}
	e.CompileDur = time.Duration(compileMS) * time.Millisecond
	if t, err := time.Parse(time.RFC3339Nano, compiledAtS); err == nil {
		e.CompiledAt = t
	}
	if loadedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, loadedAtS.String); err == nil {
			e.LoadedAt = &t
		}
	}
	return &e, nil
}
