package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoDatabase is returned by every operation when the store runs without a pool.
var ErrNoDatabase = errors.New("store: no database configured")

type Store struct {
	db *pgxpool.Pool
}

// New returns a store backed by db. A nil pool yields a store whose
// operations fail with ErrNoDatabase.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Enabled reports whether the store has a database behind it.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}
