// Package models defines the domain types for deepnote.
package models

import "time"

// Note types written to frontmatter.
const (
	NoteTypeResearch = "research"
)

// Note is a research note persisted in the vault.
type Note struct {
	Identity string    `json:"identity"`
	Title    string    `json:"title"`
	Path     string    `json:"path,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Content  []byte    `json:"-"`
	Checksum string    `json:"checksum,omitempty"`
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LinkKind distinguishes links to notes that exist from links to concepts
// that were queued.
type LinkKind string

const (
	LinkExisting LinkKind = "existing"
	LinkNew      LinkKind = "new"
)

// Link is a resolved reference produced by the link resolver.
type Link struct {
	Kind     LinkKind `json:"kind"`
	Identity string   `json:"identity"`
	// Target is the canonical display text the link points at.
	Target string `json:"target"`
}
