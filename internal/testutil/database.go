// Package testutil provides test databases and fixtures for funnel sessions and sales.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/pinflow/internal/model"
	"github.com/Veraticus/pinflow/internal/service"
	"github.com/Veraticus/pinflow/internal/storage"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a migrated in-memory database that is closed when the test ends.
//
// Example:
//
//	db := testutil.SetupTestDB(t)
//	db.MustSaveSession(testutil.NewSession("abc").AwaitingPin("966549176434", "trx-1").Build())
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	return SetupTestDBWithOptions(t, TestDBOptions{})
}

// TestDBOptions provides configuration options for test database setup.
type TestDBOptions struct {
	CustomSetup    func(context.Context, service.Storage) error
	Sessions       []*model.FunnelSession
	Sales          []*model.Sale
	SkipMigrations bool
}

// SetupTestDBWithOptions creates a test database with custom options.
func SetupTestDBWithOptions(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if !opts.SkipMigrations {
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}
	}

	db := &TestDB{Storage: store, t: t}
	for _, s := range opts.Sessions {
		db.MustSaveSession(s)
	}
	for _, s := range opts.Sales {
		db.MustSaveSale(s)
	}

	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}
	return db
}

// MustSaveSession stores a session or fails the test.
func (db *TestDB) MustSaveSession(s *model.FunnelSession) {
	db.t.Helper()
	if err := db.Storage.SaveFunnelSession(context.Background(), s); err != nil {
		db.t.Fatalf("failed to seed session %q: %v", s.SUID, err)
	}
}

// MustSaveSale stores a sale or fails the test.
func (db *TestDB) MustSaveSale(s *model.Sale) {
	db.t.Helper()
	if err := db.Storage.SaveSale(context.Background(), s); err != nil {
		db.t.Fatalf("failed to seed sale %q: %v", s.SUID, err)
	}
}

// MustGetSession loads a session or fails the test.
func (db *TestDB) MustGetSession(suid string) *model.FunnelSession {
	db.t.Helper()
	s, err := db.Storage.GetFunnelSession(context.Background(), suid)
	if err != nil {
		db.t.Fatalf("failed to load session %q: %v", suid, err)
	}
	return s
}

// UnexportedSales returns every sale still waiting for export.
func (db *TestDB) UnexportedSales() []model.Sale {
	db.t.Helper()
	sales, err := db.Storage.GetUnexportedSales(context.Background(), 0)
	if err != nil {
		db.t.Fatalf("failed to list unexported sales: %v", err)
	}
	return sales
}
