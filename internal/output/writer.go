// Package output persists encoded HL7 messages to the filesystem. Files are
// bucketed by the patient's year of birth and named so that sort order
// matches creation order.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/openpas/csv2hl7/internal/hl7"
)

// timeLayout is the timestamp half of a message filename.
const timeLayout = "20060102150405"

// Writer saves messages under a root directory, creating birth-year bucket
// directories on demand. Safe for concurrent use.
type Writer struct {
	root string
	ext  string
	seq  *hl7.Sequencer

	mu   sync.Mutex
	dirs map[string]struct{} // bucket directories already created
}

// NewWriter builds a Writer rooted at dir. The root itself is created on the
// first save, not eagerly, in line with the bucket directories.
func NewWriter(dir, ext string, seq *hl7.Sequencer) *Writer {
	return &Writer{
		root: dir,
		ext:  ext,
		seq:  seq,
		dirs: make(map[string]struct{}),
	}
}

// Save writes the encoded message to its bucket and returns the full path.
// The file is created exclusively: an existing file at the same path is a
// collision and reported as a write failure rather than overwritten.
func (w *Writer) Save(msg *hl7.Message) (string, error) {
	dir := filepath.Join(w.root, msg.BirthYear)
	if err := w.ensureDir(dir); err != nil {
		return "", fmt.Errorf("creating output directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s.%s.%s",
		msg.CreatedAt.Format(timeLayout),
		hl7.FormatSequence(w.seq.Next()),
		w.ext,
	)
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := f.Write(msg.Encode()); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", path, err)
	}
	return path, nil
}

// ensureDir creates the bucket directory once and caches the fact. MkdirAll
// is idempotent, so the cache only saves syscalls on the hot path.
func (w *Writer) ensureDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	w.dirs[dir] = struct{}{}
	return nil
}
