package index

import (
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/starford/deepnote/internal/concept"
	"github.com/starford/deepnote/internal/parser"
	"github.com/starford/deepnote/internal/storage"
)

// Filter reports whether a vault path should be left out of the catalogue.
type Filter func(path string) bool

// Sync walks the vault and brings the index up to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the index
func Sync(db NoteIndex, store storage.Provider, logger *slog.Logger, skip Filter) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if skip != nil && skip(m.Path) {
			continue
		}
		disk[m.Path] = struct{}{}
		if checksums[m.Path] == m.Checksum {
			continue
		}
		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteNote(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexFile parses data and upserts it into the index. The note's identity
// is derived from its frontmatter title, its first H1, or its file name.
func IndexFile(db NoteIndex, p string, data []byte) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	title := res.Title
	if title == "" {
		title = strings.TrimSuffix(path.Base(p), ".md")
	}
	return db.UpsertNote(NoteRow{
		Path:      p,
		Identity:  concept.Normalize(title),
		Title:     title,
		Checksum:  storage.Checksum(data),
		Tags:      res.Tags,
		UpdatedAt: time.Now().UTC(),
	})
}
