// Package library is a directory-backed media library for finished recordings.
//
// Saved files are moved into a per-day folder and appended to a catalog of
// length-prefixed msgpack records (4 bytes big-endian + msgpack data).
package library

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// CatalogName is the catalog file inside the library directory
const CatalogName = "catalog.msgpack"

// maxRecordSize bounds a single catalog record
const maxRecordSize = 1 << 20

// ErrCorruptCatalog is returned when a catalog record cannot be decoded
var ErrCorruptCatalog = errors.New("library: corrupt catalog")

// Entry is one catalog record
type Entry struct {
	ID       string    `msgpack:"id"`
	Source   string    `msgpack:"source"`
	Path     string    `msgpack:"path"`
	Size     int64     `msgpack:"size"`
	SavedAt  time.Time `msgpack:"saved_at"`
	Instance string    `msgpack:"instance,omitempty"`
}

// DirLibrary implements camerarecorder.Library on a local directory
type DirLibrary struct {
	dir      string
	instance string
	now      func() time.Time

	mu sync.Mutex
}

// NewDirLibrary creates dir if needed. instance tags catalog entries and may be empty.
func NewDirLibrary(dir, instance string) (*DirLibrary, error) {
	if dir == "" {
		return nil, fmt.Errorf("library: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("library: failed to create %s: %w", dir, err)
	}
	return &DirLibrary{
		dir:      dir,
		instance: instance,
		now:      time.Now,
	}, nil
}

// Dir returns the library root
func (l *DirLibrary) Dir() string {
	return l.dir
}

// Save moves the recording at path into the library and returns its catalog ID
func (l *DirLibrary) Save(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("library: recording not found: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("library: %s is not a regular file", path)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	savedAt := l.now()
	day := filepath.Join(l.dir, savedAt.Format("2006-01-02"))
	if err := os.MkdirAll(day, 0o755); err != nil {
		return "", fmt.Errorf("library: failed to create %s: %w", day, err)
	}

	dest := filepath.Join(day, filepath.Base(path))
	if err := moveFile(ctx, path, dest); err != nil {
		return "", err
	}

	entry := Entry{
		ID:       uuid.New().String(),
		Source:   path,
		Path:     dest,
		Size:     info.Size(),
		SavedAt:  savedAt,
		Instance: l.instance,
	}
	if err := l.appendLocked(entry); err != nil {
		return "", err
	}

	slog.Info("library: recording saved",
		"id", entry.ID,
		"path", dest,
		"size", entry.Size,
	)
	return entry.ID, nil
}

// Entries reads the whole catalog in insertion order
func (l *DirLibrary) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(filepath.Join(l.dir, CatalogName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("library: failed to open catalog: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

// Lookup returns the entry with the given ID
func (l *DirLibrary) Lookup(id string) (Entry, bool, error) {
	entries, err := l.Entries()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

func (l *DirLibrary) appendLocked(entry Entry) error {
	data, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("library: failed to marshal entry: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(l.dir, CatalogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("library: failed to open catalog: %w", err)
	}
	defer f.Close()

	// Single write so a record is never split by a concurrent reader
	record := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(record[:4], uint32(len(data)))
	copy(record[4:], data)

	if _, err := f.Write(record); err != nil {
		return fmt.Errorf("library: failed to append catalog: %w", err)
	}
	return f.Sync()
}

func readEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	lengthBuf := make([]byte, 4)

	for {
		if _, err := io.ReadFull(r, lengthBuf); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return entries, fmt.Errorf("%w: truncated length prefix", ErrCorruptCatalog)
		}

		n := binary.BigEndian.Uint32(lengthBuf)
		if n == 0 || n > maxRecordSize {
			return entries, fmt.Errorf("%w: record length %d", ErrCorruptCatalog, n)
		}

		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return entries, fmt.Errorf("%w: truncated record", ErrCorruptCatalog)
		}

		var e Entry
		if err := msgpack.Unmarshal(data, &e); err != nil {
			return entries, fmt.Errorf("%w: %v", ErrCorruptCatalog, err)
		}
		entries = append(entries, e)
	}
}

// moveFile renames src to dst, copying across filesystems
func moveFile(ctx context.Context, src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("library: %s already exists", dst)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("library: failed to open recording: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("library: failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("library: failed to copy recording: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("library: failed to close %s: %w", dst, err)
	}
	return os.Remove(src)
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
