package vault

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/deepnote/internal/apperr"
	"github.com/starford/deepnote/internal/index"
	"github.com/starford/deepnote/internal/models"
	"github.com/starford/deepnote/internal/storage"
)

func openVault(t *testing.T, dir string, opts ...Option) *Vault {
	t.Helper()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	v, err := Open(store, db, slog.New(slog.NewJSONHandler(io.Discard, nil)), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return v
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const disneyland = `---
title: Disneyland
tags:
  - research
created: 2024-03-01T10:00:00Z
modified: 2024-03-02T11:00:00Z
---

# Disneyland
`

func TestOpen_CataloguesExistingNotes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Disneyland.md", disneyland)
	writeFile(t, dir, "magic-kingdom.md", "no frontmatter\n")
	writeFile(t, dir, DefaultTemplateName, "---\ntitle: Template\n---\n")
	writeFile(t, dir, "Draft.md", "# Draft\n")

	v := openVault(t, dir, WithIgnored("Draft.md"))

	if !v.Exists("disneyland") {
		t.Error("disneyland should exist")
	}
	if !v.Exists("magic kingdom") {
		t.Error("file name should give the identity when no title is present")
	}
	if v.Exists("template") || v.Exists("draft") {
		t.Error("ignored files must not be catalogued")
	}
	if v.Exists("") {
		t.Error("empty identity never exists")
	}

	all, err := v.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("ListAll = %+v", all)
	}
}

func TestHas(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Disneyland.md", disneyland)
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	v, err := Open(store, db, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}

	if ok, err := v.Has("disneyland"); !ok || err != nil {
		t.Errorf("Has(disneyland) = %v, %v", ok, err)
	}
	if ok, err := v.Has("epcot"); ok || err != nil {
		t.Errorf("Has(epcot) = %v, %v", ok, err)
	}

	db.Close()
	if _, err := v.Has("disneyland"); err == nil {
		t.Error("Has should report a closed catalogue")
	}
	if v.Exists("disneyland") {
		t.Error("Exists reports absent on catalogue errors")
	}
}

func TestGet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Disneyland.md", disneyland)
	v := openVault(t, dir)

	n, err := v.Get("disneyland")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n.Title != "Disneyland" || n.Path != "Disneyland.md" {
		t.Errorf("note = %+v", n)
	}
	if want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC); !n.Created.Equal(want) {
		t.Errorf("created = %v", n.Created)
	}
	if string(n.Content) != disneyland {
		t.Error("content mismatch")
	}

	if _, err := v.Get("epcot"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPut_CreatesAndIndexes(t *testing.T) {
	dir := t.TempDir()
	v := openVault(t, dir)

	content := []byte("---\ntitle: Walt Disney\n---\n\n# Walt Disney\n")
	n, err := v.Put(&models.Note{Title: "Walt Disney", Content: content})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n.Identity != "walt disney" || n.Path != "Walt Disney.md" || n.Checksum != storage.Checksum(content) {
		t.Errorf("note = %+v", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "Walt Disney.md")); err != nil {
		t.Fatalf("file missing: %v", err)
	}
	if !v.Exists("walt disney") {
		t.Error("note not catalogued after Put")
	}

	// Same content again is a no-op.
	if _, err := v.Put(&models.Note{Title: "Walt Disney", Content: content}); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	if _, err := v.Put(&models.Note{Title: "?!", Content: content}); !errors.Is(err, apperr.ErrInvalidConcept) {
		t.Errorf("err = %v, want ErrInvalidConcept", err)
	}
}

func TestPlace(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Disneyland.md", disneyland)
	// An uncatalogued file holding the name of a new note.
	writeFile(t, dir, "Epcot.md", "")
	v := openVault(t, dir, WithIgnored("Epcot.md"))

	p, err := v.Place("  Epcot ", PolicySkip)
	if err != nil {
		t.Fatal(err)
	}
	if p.Action != ActionCreate || p.Title != "Epcot" || p.Path != "Epcot (2).md" {
		t.Errorf("create placement = %+v", p)
	}

	if _, err := v.Place("disneyland", PolicySkip); !errors.Is(err, apperr.ErrCollision) {
		t.Errorf("skip err = %v, want ErrCollision", err)
	}

	p, err = v.Place("DISNEYLAND", PolicyOverwrite)
	if err != nil {
		t.Fatal(err)
	}
	if p.Action != ActionOverwrite || p.Title != "Disneyland" || p.Path != "Disneyland.md" || p.Existing == nil {
		t.Errorf("overwrite placement = %+v", p)
	}

	p, err = v.Place("Disneyland", PolicyVersion)
	if err != nil {
		t.Fatal(err)
	}
	if p.Action != ActionVersion || p.Title != "Disneyland (2)" || p.Identity != "disneyland 2" || p.Path != "Disneyland (2).md" {
		t.Errorf("version placement = %+v", p)
	}

	if _, err := v.Place("", PolicySkip); !errors.Is(err, apperr.ErrInvalidConcept) {
		t.Errorf("empty title err = %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicySkip, false},
		{"skip", PolicySkip, false},
		{"overwrite", PolicyOverwrite, false},
		{"version", PolicyVersion, false},
		{"merge", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}
