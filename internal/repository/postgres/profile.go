package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/msomdec/chatgate/internal/domain"
)

// ProfileStore implements domain.ProfileStore over a jsonb column. Server
// timestamps come from the database clock.
type ProfileStore struct {
	pool *pgxpool.Pool
}

func (s *ProfileStore) Get(ctx context.Context, id string) (domain.Document, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, "SELECT data FROM profiles WHERE id = $1", id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return domain.DecodeDocument(data)
}

// Create inserts the document with ON CONFLICT DO NOTHING, so exactly one
// of any number of concurrent creates for the same id wins.
func (s *ProfileStore) Create(ctx context.Context, id string, doc domain.Document) (domain.Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now, err := serverNow(ctx, tx)
	if err != nil {
		return nil, err
	}

	data, err := domain.EncodeDocument(domain.ResolveTimestamps(doc, now))
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO profiles (id, data, created_at, updated_at)
		 VALUES ($1, $2::jsonb, $3, $3)
		 ON CONFLICT (id) DO NOTHING`,
		id, string(data), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrAlreadyExists
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit profile create: %w", err)
	}
	return domain.DecodeDocument(data)
}

// Patch locks the row, merges the patch and writes the result back.
func (s *ProfileStore) Patch(ctx context.Context, id string, patch domain.Patch) (domain.Document, error) {
	return s.Update(ctx, id, func(domain.Document) domain.Patch { return patch })
}

// Update holds the row lock from the read until commit, so fn always sees
// the latest committed document.
func (s *ProfileStore) Update(ctx context.Context, id string, fn func(domain.Document) domain.Patch) (domain.Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		current []byte
		now     time.Time
	)
	err = tx.QueryRow(ctx,
		"SELECT data, now() FROM profiles WHERE id = $1 FOR UPDATE", id,
	).Scan(&current, &now)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query profile: %w", err)
	}

	doc, err := domain.DecodeDocument(current)
	if err != nil {
		return nil, err
	}

	patch := fn(doc)
	if len(patch) == 0 {
		return doc, nil
	}

	data, err := domain.EncodeDocument(domain.ApplyPatch(doc, patch, now.UTC()))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		"UPDATE profiles SET data = $1::jsonb, updated_at = $2 WHERE id = $3",
		string(data), now, id,
	); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit profile update: %w", err)
	}
	return domain.DecodeDocument(data)
}

func serverNow(ctx context.Context, tx pgx.Tx) (time.Time, error) {
	var now time.Time
	if err := tx.QueryRow(ctx, "SELECT now()").Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("read server clock: %w", err)
	}
	return now.UTC(), nil
}
