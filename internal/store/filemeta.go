package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// LoadFileMeta reads the gob-encoded file-metadata map at path. A missing
// file returns a fresh, empty FileMeta pinned to modelShortName/dimensions
// rather than an error, since that's the expected state for a brand new
// database.
func LoadFileMeta(path string, modelShortName string, dimensions int) (*FileMeta, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewFileMeta(modelShortName, dimensions), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read file meta %s: %w", path, err)
	}

	var meta FileMeta
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode file meta %s: %w", path, err)
	}
	return &meta, nil
}

// Save gob-encodes the file-metadata map and writes it atomically: to a
// temp file in the same directory, then renamed over the target, so a
// crash mid-write never leaves a truncated filemeta.bin behind.
func (m *FileMeta) Save(path string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("encode file meta: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".filemeta-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file meta: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file meta: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file meta: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file meta into place: %w", err)
	}
	return nil
}

// Get returns the entry for path, or false if the file hasn't been synced.
func (m *FileMeta) Get(path string) (*FileMetaEntry, bool) {
	entry, ok := m.Entries[path]
	return entry, ok
}

// Set records (or replaces) the entry for path.
func (m *FileMeta) Set(path string, entry *FileMetaEntry) {
	if m.Entries == nil {
		m.Entries = make(map[string]*FileMetaEntry)
	}
	m.Entries[path] = entry
}

// Delete removes path's entry, returning the chunk IDs it owned so the
// caller can remove them from the dense and fts stores, or nil if path
// wasn't tracked.
func (m *FileMeta) Delete(path string) []uint32 {
	entry, ok := m.Entries[path]
	if !ok {
		return nil
	}
	delete(m.Entries, path)
	return entry.ChunkIDs
}

// Paths returns every tracked file path, for deletion-detection sweeps
// against the current filesystem listing.
func (m *FileMeta) Paths() []string {
	paths := make([]string, 0, len(m.Entries))
	for path := range m.Entries {
		paths = append(paths, path)
	}
	return paths
}

// Unchanged reports whether path's on-disk mtime and content hash still
// match the recorded entry, letting the sync engine skip re-chunking and
// re-embedding files nothing has touched.
func (m *FileMeta) Unchanged(path string, mtimeNS int64, contentHash [32]byte) bool {
	entry, ok := m.Entries[path]
	if !ok {
		return false
	}
	if entry.MtimeNS == mtimeNS {
		return true
	}
	return entry.ContentHash == contentHash
}
