// Package tracker persists per-file content hashes for change detection.
//
// A file's recorded hash always corresponds to content that was successfully
// and completely indexed. Callers must only persist an updated hash after the
// vector store replace has succeeded.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrInvalidConfig indicates invalid tracker configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Hashes maps file paths to lowercase hex SHA-256 digests of raw content.
type Hashes map[string]string

// Clone returns a shallow copy of the hash map.
func (h Hashes) Clone() Hashes {
	out := make(Hashes, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Tracker loads and persists the hash map from a single JSON file.
type Tracker struct {
	path string
}

// New creates a tracker backed by the JSON file at path.
func New(path string) (*Tracker, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: store path required", ErrInvalidConfig)
	}
	return &Tracker{path: path}, nil
}

// Load reads the persisted hash map. A missing store yields an empty map,
// not an error.
func (t *Tracker) Load() (Hashes, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Hashes{}, nil
		}
		return nil, fmt.Errorf("reading hash store: %w", err)
	}

	hashes := Hashes{}
	if err := json.Unmarshal(data, &hashes); err != nil {
		return nil, fmt.Errorf("decoding hash store %s: %w", t.path, err)
	}
	return hashes, nil
}

// Save atomically persists the full hash map. The map is written to a
// temporary file and renamed into place so a crash mid-write cannot corrupt
// previously readable state.
func (t *Tracker) Save(hashes Hashes) error {
	data, err := json.MarshalIndent(hashes, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding hash store: %w", err)
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating hash store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(t.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp hash store: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing temp hash store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp hash store: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("setting hash store permissions: %w", err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing hash store: %w", err)
	}
	return nil
}

// HashFile computes the lowercase hex SHA-256 digest of the file's raw bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HasChanged reports whether the file's current content differs from the
// recorded hash. An absent entry counts as changed.
func HasChanged(path string, hashes Hashes) (bool, error) {
	current, err := HashFile(path)
	if err != nil {
		return false, err
	}
	return current != hashes[path], nil
}

// WithHash returns a copy of the hash map with the file's hash refreshed.
// The input map is never mutated, so callers can hold safe snapshots.
func WithHash(hashes Hashes, path string) (Hashes, error) {
	current, err := HashFile(path)
	if err != nil {
		return nil, err
	}
	return WithHashValue(hashes, path, current), nil
}

// WithHashValue returns a copy of the hash map with the path set to an
// already-computed digest. Callers that hashed the file before indexing use
// this so the recorded hash matches the content that was actually indexed,
// even if the file changed in between.
func WithHashValue(hashes Hashes, path, digest string) Hashes {
	out := hashes.Clone()
	out[path] = digest
	return out
}

// Without returns a copy of the hash map with the path's entry removed.
func Without(hashes Hashes, path string) Hashes {
	out := hashes.Clone()
	delete(out, path)
	return out
}
