package index

// NoteIndex defines the interface for note catalogue operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NoteIndex interface {
	UpsertNote(n NoteRow) error
	DeleteNote(path string) error
	GetChecksum(path string) (string, error)
	AllChecksums() (map[string]string, error)
	ByIdentity(identity string) (*NoteRow, error)
	HasIdentity(identity string) (bool, error)
	AllNotes() ([]NoteRow, error)
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)
