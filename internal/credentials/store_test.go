package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/odooctl/internal/store"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()

	if v, err := s.Get(KeyAccessToken); err != nil || v != "" {
		t.Fatalf("Expected empty value for missing key, got %q (err=%v)", v, err)
	}
	if err := s.Set(KeyAccessToken, "a1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(KeyAccessToken, "a2"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if v, _ := s.Get(KeyAccessToken); v != "a2" {
		t.Errorf("Expected a2, got %q", v)
	}
	if err := s.Delete(KeyAccessToken); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(KeyAccessToken); err != nil {
		t.Errorf("Delete of missing key should succeed, got %v", err)
	}
	if v, _ := s.Get(KeyAccessToken); v != "" {
		t.Errorf("Expected empty after delete, got %q", v)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", FileName)
	exerciseStore(t, NewFileStore(path))
}

func TestFileStore_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s := NewFileStore(path)
	if err := s.Set(KeyRefreshToken, "r"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected mode 0600, got %o", info.Mode().Perm())
	}
}

func TestFileStore_SharedBetweenInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	a := NewFileStore(path)
	b := NewFileStore(path)

	if err := a.Set(KeyAccessToken, "from-a"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := b.Get(KeyAccessToken); v != "from-a" {
		t.Errorf("Expected second instance to read from-a, got %q", v)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unterminated flow mapping", "{unclosed"},
		{"top-level list", "- a\n- b"},
		{"nested value", "access_token: [1, 2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := NewFileStore(path).Get(KeyAccessToken); err == nil {
				t.Error("Expected error for corrupt credentials file")
			}
		})
	}
}

func TestFileStore_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	s := NewFileStore(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 8)
	if err := s.Watch(ctx, func() { changed <- struct{}{} }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := NewFileStore(path).Set(KeyAccessToken, "other-process"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected change notification")
	}
}

func TestSQLiteStore(t *testing.T) {
	db, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	exerciseStore(t, NewSQLiteStore(db))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{backend: "", want: "*credentials.FileStore"},
		{backend: "file", want: "*credentials.FileStore"},
		{backend: "memory", want: "*credentials.MemoryStore"},
		{backend: "sqlite", want: "*credentials.SQLiteStore"},
		{backend: "keychain", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			s, closeFn, err := Open(context.Background(), tt.backend, "", dir)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error for unknown backend")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer func() { _ = closeFn() }()

			var got string
			switch s.(type) {
			case *FileStore:
				got = "*credentials.FileStore"
			case *MemoryStore:
				got = "*credentials.MemoryStore"
			case *SQLiteStore:
				got = "*credentials.SQLiteStore"
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %T", tt.want, s)
			}
		})
	}
}
