package db

import (
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
)

func TestNewDB_CreatesConnection(t *testing.T) {
	tmpFile := createTempDB(t)
	defer os.Remove(tmpFile)

	database, err := NewDB(tmpFile)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	defer database.Close()

	if database.db == nil {
		t.Error("expected db connection to be non-nil")
	}
}

func TestMigration_CreatesAllRelations(t *testing.T) {
	database, cleanup := setupTestDB(t, Schema{ThreadViews: true})
	defer cleanup()

	for _, name := range []string{"profiles", "threads", "messages", "thread_overview"} {
		exists, err := database.relationExists(name)
		if err != nil {
			t.Errorf("failed to check relation %s: %v", name, err)
		}
		if !exists {
			t.Errorf("relation %s should exist after migration", name)
		}
	}

	cols, err := database.Columns("messages")
	if err != nil {
		t.Fatalf("failed to read columns: %v", err)
	}
	for _, want := range []string{"recipient_id", "client_id", "read_at"} {
		if !slices.Contains(cols, want) {
			t.Errorf("expected messages.%s to exist, columns=%v", want, cols)
		}
	}
}

func TestMigration_LegacySchema(t *testing.T) {
	database, cleanup := setupTestDB(t, Schema{LegacyMessages: true})
	defer cleanup()

	cols, err := database.Columns("messages")
	if err != nil {
		t.Fatalf("failed to read columns: %v", err)
	}
	for _, absent := range []string{"recipient_id", "client_id", "read_at"} {
		if slices.Contains(cols, absent) {
			t.Errorf("legacy messages should not have %s", absent)
		}
	}

	exists, err := database.relationExists("thread_overview")
	if err != nil {
		t.Fatalf("failed to check view: %v", err)
	}
	if exists {
		t.Error("thread_overview should not exist when views are disabled")
	}
}

func TestMigration_UpgradesLegacySchema(t *testing.T) {
	database, cleanup := setupTestDB(t, Schema{LegacyMessages: true})
	defer cleanup()

	if err := database.Migrate(Schema{ThreadViews: true}); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}

	cols, err := database.Columns("messages")
	if err != nil {
		t.Fatalf("failed to read columns: %v", err)
	}
	if !slices.Contains(cols, "read_at") {
		t.Errorf("expected read_at to be added, columns=%v", cols)
	}
}

func TestColumns_UnknownRelation(t *testing.T) {
	database, cleanup := setupTestDB(t, Schema{})
	defer cleanup()

	cols, err := database.Columns("does_not_exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols) != 0 {
		t.Errorf("expected no columns, got %v", cols)
	}
}

func TestSemaphoreExclusiveAccess(t *testing.T) {
	database, cleanup := setupTestDB(t, Schema{})
	defer cleanup()

	// Track concurrent execution
	var maxConcurrent int32
	var currentConcurrent int32
	var wg sync.WaitGroup
	numGoroutines := 10

	for i := range numGoroutines {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := database.WithLock(func(conn *sqlx.DB) error {
				current := atomic.AddInt32(&currentConcurrent, 1)

				for {
					max := atomic.LoadInt32(&maxConcurrent)
					if current <= max {
						break
					}
					if atomic.CompareAndSwapInt32(&maxConcurrent, max, current) {
						break
					}
				}

				time.Sleep(10 * time.Millisecond)

				atomic.AddInt32(&currentConcurrent, -1)
				return nil
			})
			if err != nil {
				t.Errorf("goroutine %d failed: %v", id, err)
			}
		}(i)
	}

	wg.Wait()

	if maxConcurrent != 1 {
		t.Errorf("expected max concurrent access to be 1, got %d", maxConcurrent)
	}
}

func TestDB_Close(t *testing.T) {
	tmpFile := createTempDB(t)
	defer os.Remove(tmpFile)

	database, err := NewDB(tmpFile)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	if err := database.Close(); err != nil {
		t.Errorf("failed to close database: %v", err)
	}
}

func setupTestDB(t *testing.T, schema Schema) (*DB, func()) {
	t.Helper()

	tmpFile := createTempDB(t)
	database, err := NewDB(tmpFile)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	if err := database.Migrate(schema); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	cleanup := func() {
		database.Close()
		os.Remove(tmpFile)
	}
	return database, cleanup
}

// Helper function to create a temporary database file
func createTempDB(t *testing.T) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "test_*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}
