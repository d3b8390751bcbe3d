package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msomdec/chatgate/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "profile:"

	// maxPatchAttempts bounds optimistic-lock retries when a concurrent
	// writer touches the same key between WATCH and EXEC.
	maxPatchAttempts = 5
)

// DB wraps a Redis client.
type DB struct {
	Client *goredis.Client
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*DB, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &DB{Client: client}, nil
}

// Migrate is a no-op; Redis documents need no schema.
func (db *DB) Migrate(context.Context) error { return nil }

// Close closes the client.
func (db *DB) Close() error { return db.Client.Close() }

// Profiles returns the profile store backed by this client.
func (db *DB) Profiles() *ProfileStore {
	return &ProfileStore{client: db.Client}
}

// ProfileStore implements domain.ProfileStore with one JSON string per key.
// Server timestamps come from the Redis TIME command.
type ProfileStore struct {
	client *goredis.Client
}

func (s *ProfileStore) Get(ctx context.Context, id string) (domain.Document, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return domain.DecodeDocument(data)
}

// Create stores the document with SETNX, which is atomic per key.
func (s *ProfileStore) Create(ctx context.Context, id string, doc domain.Document) (domain.Document, error) {
	now, err := s.serverNow(ctx)
	if err != nil {
		return nil, err
	}

	data, err := domain.EncodeDocument(domain.ResolveTimestamps(doc, now))
	if err != nil {
		return nil, err
	}

	ok, err := s.client.SetNX(ctx, keyPrefix+id, data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx profile: %w", err)
	}
	if !ok {
		return nil, domain.ErrAlreadyExists
	}
	return domain.DecodeDocument(data)
}

// Patch merges the patch into the stored document.
func (s *ProfileStore) Patch(ctx context.Context, id string, patch domain.Patch) (domain.Document, error) {
	return s.Update(ctx, id, func(domain.Document) domain.Patch { return patch })
}

// Update runs fn and the write under WATCH. A concurrent write aborts the
// transaction and fn runs again against the newer document.
func (s *ProfileStore) Update(ctx context.Context, id string, fn func(domain.Document) domain.Patch) (domain.Document, error) {
	key := keyPrefix + id

	var out domain.Document
	txf := func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("get profile: %w", err)
		}

		doc, err := domain.DecodeDocument(current)
		if err != nil {
			return err
		}

		patch := fn(doc)
		if len(patch) == 0 {
			out = doc
			return nil
		}

		now, err := s.serverNow(ctx)
		if err != nil {
			return err
		}

		data, err := domain.EncodeDocument(domain.ApplyPatch(doc, patch, now))
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out, err = domain.DecodeDocument(data)
		return err
	}

	for range maxPatchAttempts {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("update profile: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("update profile: %w", goredis.TxFailedErr)
}

func (s *ProfileStore) serverNow(ctx context.Context) (time.Time, error) {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("read server clock: %w", err)
	}
	return now.UTC(), nil
}
