// Package snapshot persists in-memory caches as gob files.
// Each snapshot is accompanied by a key=value metadata sidecar:
//
//	~/.vibe-gsea/pathways-kegg.gob       (serialized cache)
//	~/.vibe-gsea/pathways-kegg.gob.meta  (creation time, source fingerprints)
package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MetaPath returns the metadata sidecar path for a snapshot.
func MetaPath(path string) string {
	return path + ".meta"
}

// Save gob-encodes v to path and writes the metadata sidecar.
// The snapshot is written to a temporary file first and renamed into place.
func Save(path string, v any, meta map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	if err := gob.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}

	return writeMeta(path, meta)
}

// Load decodes the snapshot at path into v.
func Load(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	if err := gob.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	return nil
}

// ReadMeta returns the key=value pairs of a snapshot's sidecar.
func ReadMeta(path string) (map[string]string, error) {
	data, err := os.ReadFile(MetaPath(path))
	if err != nil {
		return nil, err
	}

	meta := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if k, v, ok := strings.Cut(line, "="); ok {
			meta[k] = v
		}
	}
	return meta, nil
}

func writeMeta(path string, meta map[string]string) error {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys)+2)
	for _, k := range keys {
		lines = append(lines, k+"="+meta[k])
	}
	lines = append(lines, "created_at="+time.Now().UTC().Format(time.RFC3339), "")
	return os.WriteFile(MetaPath(path), []byte(strings.Join(lines, "\n")), 0644)
}

// Fingerprint holds stat-based identity for a source file.
type Fingerprint struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// StatFile creates a Fingerprint from an on-disk file.
func StatFile(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Meta renders the fingerprint as sidecar entries under prefix.
func (fp Fingerprint) Meta(prefix string) map[string]string {
	return map[string]string{
		prefix + "_size":    strconv.FormatInt(fp.Size, 10),
		prefix + "_modtime": fp.ModTime.UTC().Format(time.RFC3339Nano),
	}
}

// Matches returns true if meta records the same size and modification time.
func (fp Fingerprint) Matches(meta map[string]string, prefix string) bool {
	for k, v := range fp.Meta(prefix) {
		if meta[k] != v {
			return false
		}
	}
	return true
}
