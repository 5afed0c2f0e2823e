// Package queue is the file-backed FIFO of concepts waiting to be researched.
//
// The file holds one display string per line so it can be read and edited by
// hand; blank lines and lines starting with '#' are ignored. Every operation
// reads the whole file, mutates it in memory and writes it back atomically,
// so the file is the only state that survives between calls.
package queue

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/starford/deepnote/internal/apperr"
	"github.com/starford/deepnote/internal/concept"
	"github.com/starford/deepnote/internal/storage"
)

// Checker reports whether a concept already has a note.
type Checker interface {
	Has(identity string) (bool, error)
}

// Store is a queue persisted in a single text file.
type Store struct {
	path  string
	notes Checker
}

// Open returns a Store backed by path. notes may be nil, in which case only
// queue-internal duplicates are suppressed.
func Open(path string, notes Checker) *Store {
	return &Store{path: path, notes: notes}
}

// Path returns the queue file location.
func (s *Store) Path() string { return s.path }

// Enqueue appends c unless its identity is already queued or already a
// note. added is false for such no-ops.
func (s *Store) Enqueue(c concept.Concept) (added bool, err error) {
	got, err := s.EnqueueAll([]concept.Concept{c})
	if err != nil {
		return false, err
	}
	return len(got) == 1, nil
}

// EnqueueAll appends every concept that is neither queued nor a note, in
// order, with a single write. It returns the concepts actually added.
func (s *Store) EnqueueAll(cs []concept.Concept) ([]concept.Concept, error) {
	for _, c := range cs {
		if c.Identity == "" || c.Identity != concept.Normalize(c.Display) {
			return nil, fmt.Errorf("queue: enqueue %q: %w", c.Display, apperr.ErrInvalidConcept)
		}
	}

	entries, err := s.read()
	if err != nil {
		return nil, err
	}
	queued := concept.NewSet()
	for _, e := range entries {
		queued.Add(e)
	}

	var added []concept.Concept
	for _, c := range cs {
		// A leading '#' would read back as a comment.
		c.Display = strings.TrimSpace(strings.TrimLeft(c.Display, "#"))
		if queued.Has(c.Identity) {
			continue
		}
		if s.notes != nil {
			known, err := s.notes.Has(c.Identity)
			if err != nil {
				return nil, fmt.Errorf("queue: enqueue %q: %w", c.Display, err)
			}
			if known {
				continue
			}
		}
		queued.Add(c)
		added = append(added, c)
	}
	if len(added) == 0 {
		return nil, nil
	}
	if err := s.write(queued.Items()); err != nil {
		return nil, err
	}
	return added, nil
}

// Peek returns the front entry without removing it.
func (s *Store) Peek() (concept.Concept, error) {
	entries, err := s.read()
	if err != nil {
		return concept.Concept{}, err
	}
	if len(entries) == 0 {
		return concept.Concept{}, apperr.ErrQueueEmpty
	}
	return entries[0], nil
}

// DequeueFront removes and returns the front entry.
func (s *Store) DequeueFront() (concept.Concept, error) {
	entries, err := s.read()
	if err != nil {
		return concept.Concept{}, err
	}
	if len(entries) == 0 {
		return concept.Concept{}, apperr.ErrQueueEmpty
	}
	if err := s.write(entries[1:]); err != nil {
		return concept.Concept{}, err
	}
	return entries[0], nil
}

// Remove deletes the entry with identity, wherever it sits. It reports
// whether an entry was removed.
func (s *Store) Remove(identity string) (bool, error) {
	entries, err := s.read()
	if err != nil {
		return false, err
	}
	kept := entries[:0]
	removed := false
	for _, e := range entries {
		if e.Identity == identity {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return false, nil
	}
	return true, s.write(kept)
}

// List returns all entries in processing order.
func (s *Store) List() ([]concept.Concept, error) {
	return s.read()
}

// Len returns the number of queued entries.
func (s *Store) Len() (int, error) {
	entries, err := s.read()
	return len(entries), err
}

// Clear empties the queue, leaving an empty file behind.
func (s *Store) Clear() error {
	return s.write(nil)
}

// Ensure creates an empty queue file when none exists. It reports whether
// the file was created.
func (s *Store) Ensure() (bool, error) {
	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("queue: stat: %w", err)
	}
	return true, s.write(nil)
}

// read parses the queue file. A missing file is an empty queue. Duplicate
// identities left by hand edits collapse onto their first occurrence.
func (s *Store) read() ([]concept.Concept, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read %s: %w", s.path, err)
	}

	set := concept.NewSet()
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set.Add(concept.New(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("queue: scan %s: %w", s.path, err)
	}
	return set.Items(), nil
}

func (s *Store) write(entries []concept.Concept) error {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Display)
		b.WriteByte('\n')
	}
	if err := storage.WriteFile(s.path, []byte(b.String())); err != nil {
		return fmt.Errorf("queue: %w: %v", apperr.ErrWrite, err)
	}
	return nil
}
