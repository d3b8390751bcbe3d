package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/msomdec/chatgate/internal/domain"
	"github.com/msomdec/chatgate/internal/repository/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProfileStore_CreateAndGet(t *testing.T) {
	store := newTestDB(t).Profiles()
	ctx := context.Background()

	created, err := store.Create(ctx, "abc123xyz", domain.NewProfileDocument("abc123xyz", "en"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := domain.DecodeProfile("abc123xyz", created)
	if !rec.CreatedAt.Valid() {
		t.Fatalf("expected createdAt to be assigned by the store, got %s", rec.CreatedAt.State)
	}

	got, err := store.Get(ctx, "abc123xyz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	fetched := domain.DecodeProfile("abc123xyz", got)
	if code, _ := fetched.OwnReferralCode.Get(); code != "ABC123" {
		t.Fatalf("expected ownReferralCode ABC123, got %q", code)
	}
	if a, b := rec.CreatedAt.Value, fetched.CreatedAt.Value; !a.Equal(b) {
		t.Fatalf("createdAt changed between create and get: %v vs %v", a, b)
	}
	if fetched.DisplayName.State != domain.FieldNull {
		t.Fatalf("expected explicit null displayName, got %s", fetched.DisplayName.State)
	}
}

func TestProfileStore_Get_NotFound(t *testing.T) {
	store := newTestDB(t).Profiles()

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProfileStore_Create_Duplicate(t *testing.T) {
	store := newTestDB(t).Profiles()
	ctx := context.Background()

	if _, err := store.Create(ctx, "dup", domain.Document{"id": "dup"}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := store.Create(ctx, "dup", domain.Document{"id": "dup", "onboardingComplete": true})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := store.Get(ctx, "dup")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := got["onboardingComplete"]; ok {
		t.Fatal("second create must not overwrite the first document")
	}
}

func TestProfileStore_Create_Concurrent(t *testing.T) {
	store := newTestDB(t).Profiles()
	ctx := context.Background()

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Create(ctx, "race", domain.NewProfileDocument("race", "en"))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrAlreadyExists) {
				t.Errorf("unexpected create error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly 1 successful create, got %d", successes)
	}
}

func TestProfileStore_Patch(t *testing.T) {
	store := newTestDB(t).Profiles()
	ctx := context.Background()

	if _, err := store.Create(ctx, "u1", domain.Document{"id": "u1", "onboardingComplete": true}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	patched, err := store.Patch(ctx, "u1", domain.Patch{
		domain.FieldReferralCount: int64(0),
		domain.FieldCreatedAt:     domain.ServerTimestamp,
		domain.FieldPremiumUntil:  nil,
	})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}

	rec := domain.DecodeProfile("u1", patched)
	if !rec.CreatedAt.Valid() {
		t.Fatalf("expected createdAt resolved by the store, got %s", rec.CreatedAt.State)
	}
	if n, ok := rec.ReferralCount.Get(); !ok || n != 0 {
		t.Fatalf("expected referralCount 0, got %d (%s)", n, rec.ReferralCount.State)
	}
	if rec.PremiumUntil.State != domain.FieldNull {
		t.Fatalf("expected explicit null premiumUntil, got %s", rec.PremiumUntil.State)
	}
	if !rec.IsOnboarded() {
		t.Fatal("patch must leave onboardingComplete untouched")
	}
}

func TestProfileStore_Patch_NotFound(t *testing.T) {
	store := newTestDB(t).Profiles()

	_, err := store.Patch(context.Background(), "ghost", domain.Patch{"referralCount": int64(0)})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProfileStore_Update_SeesEarlierWrites(t *testing.T) {
	store := newTestDB(t).Profiles()
	ctx := context.Background()

	if _, err := store.Create(ctx, "u1", domain.Document{"id": "u1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Every worker stamps createdAt only when it is still missing.
	const workers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		writes int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "u1", func(current domain.Document) domain.Patch {
				if domain.DecodeProfile("u1", current).CreatedAt.State != domain.FieldAbsent {
					return nil
				}
				mu.Lock()
				writes++
				mu.Unlock()
				return domain.Patch{domain.FieldCreatedAt: domain.ServerTimestamp}
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	if writes != 1 {
		t.Fatalf("expected createdAt to be stamped once, got %d writes", writes)
	}
}

func TestProfileStore_Update_EmptyPatchReturnsCurrent(t *testing.T) {
	store := newTestDB(t).Profiles()
	ctx := context.Background()

	if _, err := store.Create(ctx, "u1", domain.Document{"id": "u1", "displayName": "Rose"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	doc, err := store.Update(ctx, "u1", func(domain.Document) domain.Patch { return nil })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if doc[domain.FieldDisplayName] != "Rose" {
		t.Fatalf("expected the current document back, got %v", doc)
	}
}

func TestProfileStore_Update_NotFound(t *testing.T) {
	store := newTestDB(t).Profiles()

	_, err := store.Update(context.Background(), "ghost", func(domain.Document) domain.Patch {
		t.Fatal("fn must not run for a missing document")
		return nil
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
