package pgxaudit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrationFiles(t *testing.T) {
	files, err := MigrationFiles()
	if err != nil {
		t.Fatalf("MigrationFiles returned error: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migration files")
	}

	ups, downs := 0, 0
	for _, f := range files {
		switch {
		case strings.HasSuffix(f, ".up.sql"):
			ups++
		case strings.HasSuffix(f, ".down.sql"):
			downs++
		default:
			t.Errorf("unexpected migration file %s", f)
		}
	}
	if ups != downs {
		t.Errorf("up migrations = %d, down migrations = %d, want equal", ups, downs)
	}
	if files[0] != "000001_create_audit_events.down.sql" {
		t.Errorf("files not sorted: first = %s", files[0])
	}
}

func TestCopyMigrations_WritesEmbeddedContent(t *testing.T) {
	dir := t.TempDir()
	if err := CopyMigrations(dir); err != nil {
		t.Fatalf("CopyMigrations: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "000002_immutable_events.up.sql"))
	if err != nil {
		t.Fatalf("reading copied migration: %v", err)
	}
	want, _ := embeddedMigrations.ReadFile("migrations/000002_immutable_events.up.sql")
	if string(got) != string(want) {
		t.Error("copied migration differs from the embedded one")
	}
}

func TestCopyMigrations_KeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "000001_create_audit_events.down.sql")
	if err := os.WriteFile(target, []byte("-- local edit"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := CopyMigrations(dir)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("CopyMigrations error = %v, want already exists", err)
	}
	if b, _ := os.ReadFile(target); string(b) != "-- local edit" {
		t.Errorf("existing migration was overwritten: %q", b)
	}
}
