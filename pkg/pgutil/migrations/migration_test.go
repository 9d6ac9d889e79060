package migrations

import (
	"context"
	"errors"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/chainsafe/docproof/pkg/config"
	"github.com/chainsafe/docproof/pkg/pgutil"
)

type noteDao struct {
	bun.BaseModel `bun:"table:test_notes"`
	ID            int64  `bun:",pk,autoincrement"`
	Digest        string `bun:",notnull,type:varchar(128)"`
	Network       string `bun:",nullzero"`
}

func TestConnectDB_InvalidHost(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Host:     "invalid-host-that-does-not-exist",
		Port:     5432,
		User:     "test",
		Password: "test",
		Database: "test",
		SSLMode:  "disable",
	}

	db, err := pgutil.ConnectDB(context.Background(), cfg)
	if err == nil {
		_ = db.Close()
		t.Error("ConnectDB() should fail with invalid host")
	}
}

func TestSchemaLifecycle(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := CreateSchema(ctx, db, &noteDao{}); err != nil {
		t.Fatalf("CreateSchema() failed: %v", err)
	}
	pgutil.AssertTableExists(t, db, "test_notes")

	if err := CreateSchema(ctx, db, &noteDao{}); err != nil {
		t.Errorf("CreateSchema() second call failed: %v", err)
	}

	if err := CreateModelIndexes(ctx, db, &noteDao{}, "digest", "network"); err != nil {
		t.Fatalf("CreateModelIndexes() failed: %v", err)
	}
	pgutil.AssertIndexExists(t, db, "idx_test_notes_digest")
	pgutil.AssertIndexExists(t, db, "idx_test_notes_network")

	if _, err := db.NewInsert().Model(&noteDao{Digest: "abc"}).Exec(ctx); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	pgutil.AssertRowCount(t, db, "test_notes", 1)

	if err := DropTables(ctx, db, &noteDao{}); err != nil {
		t.Fatalf("DropTables() failed: %v", err)
	}
	pgutil.AssertTableNotExists(t, db, "test_notes")

	if err := DropTables(ctx, db, &noteDao{}); err != nil {
		t.Errorf("DropTables() second call failed: %v", err)
	}
}

func TestRunMigrations(t *testing.T) {
	db, cleanup := pgutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	ms := migrate.NewMigrations()
	ms.MustRegister(func(ctx context.Context, db *bun.DB) error {
		return CreateSchema(ctx, db, &noteDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		return DropTables(ctx, db, &noteDao{})
	})
	migrator := migrate.NewMigrator(db, ms)

	if err := RunMigrations(ctx, migrator, nil); !errors.Is(err, ErrNoCommand) {
		t.Fatalf("expected ErrNoCommand, got %v", err)
	}
	if err := RunMigrations(ctx, migrator, nil, "sideways"); err == nil {
		t.Fatal("expected unknown command error")
	}

	for _, cmd := range []string{"init", "up", "status"} {
		if err := RunMigrations(ctx, migrator, nil, cmd); err != nil {
			t.Fatalf("%s failed: %v", cmd, err)
		}
	}
	pgutil.AssertTableExists(t, db, "test_notes")

	if err := RunMigrations(ctx, migrator, nil, "down"); err != nil {
		t.Fatalf("down failed: %v", err)
	}
	pgutil.AssertTableNotExists(t, db, "test_notes")
}
