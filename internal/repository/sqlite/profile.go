package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/msomdec/chatgate/internal/domain"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ProfileStore implements domain.ProfileStore with one JSON document per
// principal in the profiles table.
type ProfileStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewProfileStore creates a new SQLite-backed ProfileStore.
func NewProfileStore(db *DB) *ProfileStore {
	return &ProfileStore{db: db.SqlDB, now: db.now}
}

func (s *ProfileStore) Get(ctx context.Context, id string) (domain.Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM profiles WHERE id = ?", id).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return domain.DecodeDocument([]byte(data))
}

// Create inserts the document under id. The primary key makes the insert
// atomic: a second create for the same id fails with ErrAlreadyExists.
func (s *ProfileStore) Create(ctx context.Context, id string, doc domain.Document) (domain.Document, error) {
	now := s.now()
	stored := domain.ResolveTimestamps(doc, now)
	data, err := domain.EncodeDocument(stored)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO profiles (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)",
		id, string(data), now, now,
	)
	if err != nil {
		if isPrimaryKeyConflict(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert profile: %w", err)
	}

	// Round-trip through the codec so callers see exactly what Get returns.
	return domain.DecodeDocument(data)
}

// Patch merges the given fields into the stored document inside a
// transaction.
func (s *ProfileStore) Patch(ctx context.Context, id string, patch domain.Patch) (domain.Document, error) {
	return s.Update(ctx, id, func(domain.Document) domain.Patch { return patch })
}

// Update computes the patch from the document read inside the transaction.
// The pool holds a single connection, so the read and the write cannot
// interleave with another writer.
func (s *ProfileStore) Update(ctx context.Context, id string, fn func(domain.Document) domain.Patch) (domain.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT data FROM profiles WHERE id = ?", id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}

	doc, err := domain.DecodeDocument([]byte(current))
	if err != nil {
		return nil, err
	}

	patch := fn(doc)
	if len(patch) == 0 {
		return doc, nil
	}

	now := s.now()
	data, err := domain.EncodeDocument(domain.ApplyPatch(doc, patch, now))
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE profiles SET data = ?, updated_at = ? WHERE id = ?",
		string(data), now, id,
	); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit profile update: %w", err)
	}

	return domain.DecodeDocument(data)
}

// isPrimaryKeyConflict reports whether err is a SQLite primary key or
// unique constraint violation.
func isPrimaryKeyConflict(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
