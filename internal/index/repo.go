package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/deepnote/internal/apperr"
)

// NoteRow represents a row in the notes table.
type NoteRow struct {
	Path      string
	Identity  string
	Title     string
	Checksum  string
	Tags      []string
	UpdatedAt time.Time
}

// UpsertNote inserts or replaces the catalogue entry for a note.
func (db *DB) UpsertNote(n NoteRow) error {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = time.Now().UTC()
	}

	_, err := db.conn.Exec(`
		INSERT INTO notes (path, identity, title, checksum, tags, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			identity   = excluded.identity,
			title      = excluded.title,
			checksum   = excluded.checksum,
			tags       = excluded.tags,
			updated_at = excluded.updated_at
	`, n.Path, n.Identity, n.Title, n.Checksum, string(tagsJSON), n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert note: %w", err)
	}
	return nil
}

// DeleteNote removes a note from the catalogue.
func (db *DB) DeleteNote(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM notes WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete note: %w", err)
	}
	return nil
}

// GetChecksum returns the stored checksum for a note, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM notes WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// AllChecksums returns path → checksum for every catalogued note.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// ByIdentity returns the note for identity. When hand edits left several
// files with one identity, the lexically first path wins.
func (db *DB) ByIdentity(identity string) (*NoteRow, error) {
	row := db.conn.QueryRow(`
		SELECT path, identity, title, checksum, tags, updated_at
		FROM notes
		WHERE identity = ?
		ORDER BY path
		LIMIT 1
	`, identity)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: by identity: %w", err)
	}
	return n, nil
}

// HasIdentity reports whether any note carries identity.
func (db *DB) HasIdentity(identity string) (bool, error) {
	var one int
	err := db.conn.QueryRow(`SELECT 1 FROM notes WHERE identity = ? LIMIT 1`, identity).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("index: has identity: %w", err)
	}
	return true, nil
}

// AllNotes returns one row per identity, ordered by title.
func (db *DB) AllNotes() ([]NoteRow, error) {
	rows, err := db.conn.Query(`
		SELECT path, identity, title, checksum, tags, updated_at
		FROM notes
		WHERE path IN (SELECT MIN(path) FROM notes GROUP BY identity)
		ORDER BY title COLLATE NOCASE, path
	`)
	if err != nil {
		return nil, fmt.Errorf("index: all notes: %w", err)
	}
	defer rows.Close()

	var out []NoteRow
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan note: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (*NoteRow, error) {
	var (
		n        NoteRow
		tagsJSON string
	)
	if err := s.Scan(&n.Path, &n.Identity, &n.Title, &n.Checksum, &tagsJSON, &n.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &n.Tags); err != nil {
		n.Tags = nil
	}
	return &n, nil
}
