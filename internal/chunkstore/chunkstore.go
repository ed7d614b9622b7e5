// Package chunkstore keeps in-flight chunk payloads on local disk while a
// chunked upload is open. Each session gets its own directory named after the
// session token; each chunk is one file named after its 1-based index. The
// layout survives a process restart, so an interrupted upload can resume with
// every chunk it had already delivered.
package chunkstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrIncomplete is returned by Reader when at least one chunk in the
// declared range is missing. Wrap-checked with errors.Is.
var ErrIncomplete = errors.New("chunk set incomplete")

// errBadToken guards against a token ever reaching the filesystem layer with
// path meta-characters in it. Tokens are server-generated uuids, so in
// practice this only trips on a tampered request.
var errBadToken = errors.New("invalid session token")

var chunkFilePattern = regexp.MustCompile(`^(\d{5,})\.part$`)

// Store is a durable scratch store for chunk payloads, keyed by
// (session token, chunk index). It is safe for concurrent use: writes to
// different indices are independent files, and a write to a single index is
// made atomic by writing to a temp file and renaming it into place.
type Store struct {
	root string
}

// New creates (if needed) the root scratch directory and returns a Store.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("chunkstore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("chunkstore: create root: %w", err)
	}
	return &Store{root: root}, nil
}

// Put stores the payload for one chunk index, overwriting any previous
// payload at the same index. Returns the number of bytes written.
func (s *Store) Put(token string, index int, payload io.Reader) (int64, error) {
	dir, err := s.sessionDir(token)
	if err != nil {
		return 0, err
	}
	if index < 1 {
		return 0, fmt.Errorf("chunkstore: chunk index %d out of range", index)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("chunkstore: create session dir: %w", err)
	}

	// Write to a temp file first, then rename over the final name. Rename
	// is atomic on the same filesystem, so a concurrent reader or a retry
	// of the same index never observes a half-written chunk.
	tmp, err := os.CreateTemp(dir, fmt.Sprintf("%05d.tmp-*", index))
	if err != nil {
		return 0, fmt.Errorf("chunkstore: create temp chunk: %w", err)
	}
	written, err := io.Copy(tmp, payload)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("chunkstore: write chunk %d: %w", index, err)
	}

	if err := os.Rename(tmp.Name(), s.chunkPath(dir, index)); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("chunkstore: commit chunk %d: %w", index, err)
	}
	return written, nil
}

// ListIndices returns the set of chunk indices currently stored for the
// session. An unknown session yields an empty set, not an error.
func (s *Store) ListIndices(token string) (map[int]struct{}, error) {
	dir, err := s.sessionDir(token)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int]struct{}{}, nil
		}
		return nil, fmt.Errorf("chunkstore: list session: %w", err)
	}

	indices := make(map[int]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := chunkFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue // temp files and strays don't count as received
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 {
			continue
		}
		indices[idx] = struct{}{}
	}
	return indices, nil
}

// MissingIndices returns the sorted indices in [1, totalChunks] that are not
// yet stored. Empty means the upload is complete.
func (s *Store) MissingIndices(token string, totalChunks int) ([]int, error) {
	present, err := s.ListIndices(token)
	if err != nil {
		return nil, err
	}
	var missing []int
	for i := 1; i <= totalChunks; i++ {
		if _, ok := present[i]; !ok {
			missing = append(missing, i)
		}
	}
	sort.Ints(missing)
	return missing, nil
}

// Reader returns the reassembled byte stream for a complete session: the
// concatenation of chunks 1..totalChunks in ascending index order. The
// ordering is fixed; for the same stored chunk set the output is always the
// same byte sequence. Fails with ErrIncomplete if any index is missing.
func (s *Store) Reader(token string, totalChunks int) (io.ReadCloser, error) {
	dir, err := s.sessionDir(token)
	if err != nil {
		return nil, err
	}

	missing, err := s.MissingIndices(token, totalChunks)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("chunkstore: missing chunk %d of %d: %w", missing[0], totalChunks, ErrIncomplete)
	}

	files := make([]*os.File, 0, totalChunks)
	readers := make([]io.Reader, 0, totalChunks)
	for i := 1; i <= totalChunks; i++ {
		f, err := os.Open(s.chunkPath(dir, i))
		if err != nil {
			for _, open := range files {
				open.Close()
			}
			if os.IsNotExist(err) {
				// Raced with a release; report it the same way.
				return nil, fmt.Errorf("chunkstore: missing chunk %d of %d: %w", i, totalChunks, ErrIncomplete)
			}
			return nil, fmt.Errorf("chunkstore: open chunk %d: %w", i, err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	return &multiFileReader{Reader: io.MultiReader(readers...), files: files}, nil
}

// Remove deletes a single stored chunk payload. Removing an index that was
// never stored is not an error.
func (s *Store) Remove(token string, index int) error {
	dir, err := s.sessionDir(token)
	if err != nil {
		return err
	}
	if err := os.Remove(s.chunkPath(dir, index)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chunkstore: remove chunk %d: %w", index, err)
	}
	return nil
}

// Release deletes every chunk payload for the session. Safe to call for a
// session that has no stored chunks, and safe to call more than once.
func (s *Store) Release(token string) error {
	dir, err := s.sessionDir(token)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("chunkstore: release session: %w", err)
	}
	return nil
}

func (s *Store) sessionDir(token string) (string, error) {
	if token == "" || token == "." || token == ".." ||
		strings.ContainsAny(token, `/\`) || filepath.Base(token) != token {
		return "", errBadToken
	}
	return filepath.Join(s.root, token), nil
}

func (s *Store) chunkPath(sessionDir string, index int) string {
	return filepath.Join(sessionDir, fmt.Sprintf("%05d.part", index))
}

// multiFileReader closes every underlying chunk file when the concatenated
// stream is closed.
type multiFileReader struct {
	io.Reader
	files []*os.File
}

func (m *multiFileReader) Close() error {
	var firstErr error
	for _, f := range m.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
