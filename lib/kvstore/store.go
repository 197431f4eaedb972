// Package kvstore persists scraped portal state between syncs as
// keyed JSON documents in a local sqlite database. Documents that are
// scoped to an academic term carry a `_<year>_<semester>` key suffix
// so that switching terms never mixes datasets.
package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"gakujo-backend/lib/kvstore/db"
	"gakujo-backend/lib/timezone"

	_ "modernc.org/sqlite"
)

type Config struct {
	File string `json:"file"`
}

func (config Config) OpenDB() (*sql.DB, error) {
	if config.File == "" {
		return nil, fmt.Errorf("a path was not specified")
	}

	_, statErr := os.Stat(config.File)
	isNewDb := os.IsNotExist(statErr)
	if isNewDb {
		f, err := os.Create(config.File)
		if err != nil {
			return nil, err
		}
		f.Close()
	}

	database, err := sql.Open("sqlite", config.File)
	if err != nil {
		return nil, err
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	database.SetMaxOpenConns(1)
	_, err = database.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	return database, nil
}

// OpenMemoryDB backs the store with an in-process database, used by
// tests and by one-shot CLI invocations that should leave no files.
func OpenMemoryDB() (*sql.DB, error) {
	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(1)
	return database, nil
}

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) (Store, error) {
	_, err := database.Exec(db.Schema)
	if err != nil {
		return Store{}, err
	}
	return Store{db: database}, nil
}

// TermKey scopes a document key to an academic term.
func TermKey(base string, schoolYear, semester int) string {
	return fmt.Sprintf("%s_%d_%d", base, schoolYear, semester)
}

// Load unmarshals the document at `key` into `out`. The boolean
// reports whether the document existed at all, so callers can tell "no
// prior sync" apart from an empty dataset.
func (s Store) Load(ctx context.Context, key string, out any) (bool, error) {
	var value string
	err := s.db.QueryRowContext(
		ctx,
		"SELECT value FROM documents WHERE key = ?",
		key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = json.Unmarshal([]byte(value), out)
	if err != nil {
		return false, fmt.Errorf("unmarshal document %q: %w", key, err)
	}
	return true, nil
}

func (s Store) Save(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal document %q: %w", key, err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO documents (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(encoded), timezone.Now().Unix(),
	)
	return err
}

func (s Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE key = ?", key)
	return err
}
