// Package testutil provides shared test helpers for setting up vaults, run
// ledgers and a fake BookStack server.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/obsidian2bookstack/internal/ledger"
	"github.com/starford/obsidian2bookstack/internal/vault"
)

// TestLedger creates a temporary SQLite run ledger that is automatically cleaned up.
func TestLedger(t *testing.T) *ledger.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "o2b-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := ledger.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault holding files (vault path → content).
func TestVault(t *testing.T, files map[string]string) (string, *vault.FS) {
	t.Helper()
	dir := t.TempDir()
	WriteFiles(t, dir, files)
	fs, err := vault.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// WriteFiles writes (or overwrites) files below root.
func WriteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}
