// Package testutil provides shared test helpers for setting up vaults,
// databases, queues and stub collaborators.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/deepnote/internal/index"
	"github.com/starford/deepnote/internal/queue"
	"github.com/starford/deepnote/internal/research"
	"github.com/starford/deepnote/internal/storage"
	"github.com/starford/deepnote/internal/vault"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "deepnote-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// WriteNote puts a raw file into the vault directory.
func WriteNote(t *testing.T, vaultDir, rel, content string) {
	t.Helper()
	abs := filepath.Join(vaultDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// OpenVault opens a vault over vaultDir with a fresh catalogue.
func OpenVault(t *testing.T, vaultDir string) *vault.Vault {
	t.Helper()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	v, err := vault.Open(store, TestDB(t), Logger())
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// OpenQueue opens a queue file inside dir backed by v.
func OpenQueue(t *testing.T, dir string, v queue.Checker) *queue.Store {
	t.Helper()
	return queue.Open(filepath.Join(dir, "queue.txt"), v)
}

// StubResearcher returns canned results by topic. Unknown topics get a
// one-line summary with no concepts.
type StubResearcher struct {
	Results map[string]*research.Result
	Err     error
	Calls   []string
}

// Research implements research.Researcher.
func (s *StubResearcher) Research(_ context.Context, topic string) (*research.Result, error) {
	s.Calls = append(s.Calls, topic)
	if s.Err != nil {
		return nil, s.Err
	}
	if r, ok := s.Results[topic]; ok {
		cp := *r
		return &cp, nil
	}
	return &research.Result{Summary: "Notes on " + topic + "."}, nil
}
