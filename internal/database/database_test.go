package database

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMigrateSQLite_CreatesSchema(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "files.db"))
	if err != nil {
		t.Fatalf("ошибка открытия SQLite: %v", err)
	}
	defer db.Close()

	if err := MigrateSQLite(db, testLogger()); err != nil {
		t.Fatalf("ошибка миграции: %v", err)
	}

	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'files'`).Scan(&name)
	if err != nil {
		t.Fatalf("таблица files не создана: %v", err)
	}
}

func TestMigrateSQLite_ChecksumColumn(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "files.db"))
	if err != nil {
		t.Fatalf("ошибка открытия SQLite: %v", err)
	}
	defer db.Close()

	if err := MigrateSQLite(db, testLogger()); err != nil {
		t.Fatalf("ошибка миграции: %v", err)
	}

	_, err = db.Exec(`INSERT INTO files (id, original_name, storage_key, size_bytes, mime_type, created_at, expires_at)
		VALUES ('a', 'a.txt', 'key-a', 1, 'text/plain', 1, 2)`)
	if err != nil {
		t.Fatalf("вставка без checksum: %v", err)
	}

	var checksum string
	if err := db.QueryRow(`SELECT checksum FROM files WHERE id = 'a'`).Scan(&checksum); err != nil {
		t.Fatalf("столбец checksum: %v", err)
	}
	if checksum != "" {
		t.Errorf("checksum по умолчанию: хотели пустую строку, получили %q", checksum)
	}
}

func TestMigrateSQLite_Idempotent(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("ошибка открытия SQLite: %v", err)
	}
	defer db.Close()

	for i := range 2 {
		if err := MigrateSQLite(db, testLogger()); err != nil {
			t.Fatalf("миграция #%d: %v", i+1, err)
		}
	}
}

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@db:5432/fs?sslmode=disable", "pgx5://u:p@db:5432/fs?sslmode=disable"},
		{"postgresql://u@db/fs", "pgx5://u@db/fs"},
		{"pgx5://u@db/fs", "pgx5://u@db/fs"},
	}
	for _, tt := range tests {
		if got := MigrateURL(tt.in); got != tt.want {
			t.Errorf("MigrateURL(%q): хотели %q, получили %q", tt.in, tt.want, got)
		}
	}
}
