package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
)

func TestMapErrorNoRows(t *testing.T) {
	err := mapError(fmt.Errorf("scan: %w", pgx.ErrNoRows))
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMapErrorUniqueViolation(t *testing.T) {
	err := mapError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})
	field, ok := repository.IsConflict(err)
	if !ok || field != "email" {
		t.Fatalf("expected email conflict, got %v", err)
	}

	err = mapError(&pgconn.PgError{Code: "23505", ConstraintName: "custom_idx"})
	if field, _ := repository.IsConflict(err); field != "custom_idx" {
		t.Fatalf("expected constraint name fallback, got %q", field)
	}
}

func TestMapErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	if got := mapError(boom); got != boom {
		t.Fatalf("expected passthrough, got %v", got)
	}
	if mapError(nil) != nil {
		t.Fatal("expected nil")
	}
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id INT);\n-- +migrate Down\nDROP TABLE a;\n"
	up := ExtractUpMigration(content)
	if !strings.Contains(up, "CREATE TABLE a") || strings.Contains(up, "DROP TABLE") {
		t.Fatalf("unexpected up section: %q", up)
	}
	if got := ExtractUpMigration("SELECT 1;"); got != "SELECT 1;" {
		t.Fatalf("expected whole content without markers, got %q", got)
	}
}

func TestMigrationFilesSorted(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_b.sql":  {Data: []byte("SELECT 2;")},
		"migrations/001_a.sql":  {Data: []byte("SELECT 1;")},
		"migrations/README.txt": {Data: []byte("ignored")},
	}
	files, err := migrationFiles(fsys)
	if err != nil {
		t.Fatalf("migrationFiles: %v", err)
	}
	if len(files) != 2 || files[0] != "001_a.sql" || files[1] != "002_b.sql" {
		t.Fatalf("expected sorted sql files, got %v", files)
	}
}

func TestEmbeddedSchemaCoversConstraints(t *testing.T) {
	content, err := migrationFS.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	for name := range constraintFields {
		if name == "cohort_members_pkey" {
			continue
		}
		if !strings.Contains(string(content), name) {
			t.Errorf("expected schema to define %s", name)
		}
	}
}
