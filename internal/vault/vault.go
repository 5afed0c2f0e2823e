// Package vault is the identity-keyed view of the note vault: existence
// checks, listing, reads, and collision-aware writes.
package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/deepnote/internal/apperr"
	"github.com/starford/deepnote/internal/concept"
	"github.com/starford/deepnote/internal/index"
	"github.com/starford/deepnote/internal/models"
	"github.com/starford/deepnote/internal/parser"
	"github.com/starford/deepnote/internal/storage"
)

// DefaultTemplateName is the note template kept in the vault by the
// original Obsidian setup. It is never treated as a note.
const DefaultTemplateName = "Simple_Note_Template.md"

// maxVersions bounds the search for a free version suffix.
const maxVersions = 1000

// Entry is a catalogued note.
type Entry struct {
	Identity string `json:"identity"`
	Title    string `json:"title"`
	Path     string `json:"path"`
}

// Vault combines the file store with the identity catalogue.
type Vault struct {
	store   storage.Provider
	db      index.NoteIndex
	logger  *slog.Logger
	ignored map[string]struct{}
}

// Option configures a Vault.
type Option func(*Vault)

// WithIgnored excludes vault-relative paths from the catalogue.
func WithIgnored(paths ...string) Option {
	return func(v *Vault) {
		for _, p := range paths {
			if p != "" {
				v.ignored[p] = struct{}{}
			}
		}
	}
}

// Open builds the vault view and brings the catalogue up to date with one
// scan of the files on disk.
func Open(store storage.Provider, db index.NoteIndex, logger *slog.Logger, opts ...Option) (*Vault, error) {
	v := &Vault{
		store:   store,
		db:      db,
		logger:  logger,
		ignored: map[string]struct{}{DefaultTemplateName: {}},
	}
	for _, opt := range opts {
		opt(v)
	}
	if err := index.Sync(db, store, logger, v.Ignored); err != nil {
		return nil, fmt.Errorf("vault: sync: %w", err)
	}
	return v, nil
}

// Ignored reports whether a vault path is excluded from the catalogue.
func (v *Vault) Ignored(p string) bool {
	_, ok := v.ignored[p]
	return ok
}

// Has reports whether a note with identity exists.
func (v *Vault) Has(identity string) (bool, error) {
	if identity == "" {
		return false, nil
	}
	ok, err := v.db.HasIdentity(identity)
	if err != nil {
		return false, fmt.Errorf("vault: lookup %q: %w", identity, err)
	}
	return ok, nil
}

// Exists is Has for callers that only report. Catalogue errors are logged
// and reported as absent.
func (v *Vault) Exists(identity string) bool {
	ok, err := v.Has(identity)
	if err != nil {
		v.logger.Warn("vault: exists lookup failed", slog.String("identity", identity), slog.String("error", err.Error()))
		return false
	}
	return ok
}

// Lookup returns the catalogue entry for identity.
func (v *Vault) Lookup(identity string) (*Entry, error) {
	row, err := v.db.ByIdentity(identity)
	if err != nil {
		return nil, err
	}
	return &Entry{Identity: row.Identity, Title: row.Title, Path: row.Path}, nil
}

// ListAll returns every note, one per identity, ordered by title.
func (v *Vault) ListAll() ([]Entry, error) {
	rows, err := v.db.AllNotes()
	if err != nil {
		return nil, fmt.Errorf("vault: list: %w", err)
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{Identity: r.Identity, Title: r.Title, Path: r.Path}
	}
	return out, nil
}

// Get reads the note stored for identity.
func (v *Vault) Get(identity string) (*models.Note, error) {
	row, err := v.db.ByIdentity(identity)
	if err != nil {
		return nil, err
	}
	data, err := v.store.Read(row.Path)
	if err != nil {
		return nil, fmt.Errorf("vault: get %q: %w", identity, apperr.ErrNotFound)
	}
	res, err := parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("vault: parse %s: %w", row.Path, err)
	}
	return &models.Note{
		Identity: row.Identity,
		Title:    row.Title,
		Path:     row.Path,
		Tags:     res.Tags,
		Created:  frontmatterTime(res.Frontmatter, "created"),
		Modified: frontmatterTime(res.Frontmatter, "modified"),
		Content:  data,
		Checksum: storage.Checksum(data),
	}, nil
}

// Put persists note.Content at note.Path (derived from the title when
// empty) and records it in the catalogue. Writing identical content again
// leaves the stored state unchanged.
func (v *Vault) Put(note *models.Note) (*models.Note, error) {
	if note.Identity == "" {
		note.Identity = concept.Normalize(note.Title)
	}
	if note.Identity == "" {
		return nil, fmt.Errorf("vault: put %q: %w", note.Title, apperr.ErrInvalidConcept)
	}
	if note.Path == "" {
		note.Path = storage.FileName(note.Title)
	}
	sum := storage.Checksum(note.Content)

	if existing, err := v.store.Read(note.Path); err == nil && storage.Checksum(existing) == sum {
		v.logger.Debug("vault: put unchanged", slog.String("path", note.Path))
	} else if err := v.store.Write(note.Path, note.Content); err != nil {
		return nil, fmt.Errorf("vault: write %s: %w: %v", note.Path, apperr.ErrWrite, err)
	}

	// The file is the source of truth; a stale catalogue is repaired by
	// the next sync.
	if err := index.IndexFile(v.db, note.Path, note.Content); err != nil {
		v.logger.Warn("vault: index after put failed", slog.String("path", note.Path), slog.String("error", err.Error()))
	}

	note.Checksum = sum
	return note, nil
}

// Action says how a placement treats an existing note.
type Action string

const (
	ActionCreate    Action = "create"
	ActionOverwrite Action = "overwrite"
	ActionVersion   Action = "version"
	// ActionUnchanged is reported when the note on disk already had the
	// content. Place never returns it.
	ActionUnchanged Action = "unchanged"
)

// Placement is where a note for a title will be written.
type Placement struct {
	Action   Action
	Identity string
	Title    string
	Path     string
	// Existing is the note being replaced or versioned, if any.
	Existing *models.Note
}

// Place decides the identity, title and path for a new note titled title
// under policy. With PolicySkip an existing identity yields ErrCollision.
func (v *Vault) Place(title string, policy Policy) (*Placement, error) {
	title = strings.TrimSpace(title)
	id := concept.Normalize(title)
	if id == "" {
		return nil, fmt.Errorf("vault: place %q: %w", title, apperr.ErrInvalidConcept)
	}

	existing, err := v.Get(id)
	if errors.Is(err, apperr.ErrNotFound) {
		p, err := v.freePath(storage.FileStem(title))
		if err != nil {
			return nil, err
		}
		return &Placement{Action: ActionCreate, Identity: id, Title: title, Path: p}, nil
	}
	if err != nil {
		return nil, err
	}

	switch policy {
	case PolicyOverwrite:
		return &Placement{
			Action:   ActionOverwrite,
			Identity: existing.Identity,
			Title:    existing.Title,
			Path:     existing.Path,
			Existing: existing,
		}, nil
	case PolicyVersion:
		for n := 2; n < maxVersions; n++ {
			vt := fmt.Sprintf("%s (%d)", title, n)
			vid := concept.Normalize(vt)
			taken, err := v.Has(vid)
			if err != nil {
				return nil, err
			}
			if taken {
				continue
			}
			p, err := v.freePath(storage.FileStem(vt))
			if err != nil {
				return nil, err
			}
			return &Placement{Action: ActionVersion, Identity: vid, Title: vt, Path: p, Existing: existing}, nil
		}
		return nil, fmt.Errorf("vault: no free version for %q: %w", title, apperr.ErrCollision)
	default:
		return nil, fmt.Errorf("vault: note %q exists at %s: %w", existing.Title, existing.Path, apperr.ErrCollision)
	}
}

// freePath returns stem.md, or stem (n).md when an uncatalogued file
// already occupies the name.
func (v *Vault) freePath(stem string) (string, error) {
	candidate := stem + ".md"
	for n := 2; n < maxVersions; n++ {
		ok, err := v.store.Exists(candidate)
		if err != nil {
			return "", fmt.Errorf("vault: %w: %v", apperr.ErrWrite, err)
		}
		if !ok {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s (%d).md", stem, n)
	}
	return "", fmt.Errorf("vault: no free file name for %q: %w", stem, apperr.ErrCollision)
}

func frontmatterTime(fm map[string]interface{}, key string) time.Time {
	switch v := fm[key].(type) {
	case time.Time:
		return v.UTC()
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
