package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spherical-ai/spherical/libs/mill-knowledge/internal/chunking"
)

// WriteJSONAtomic writes chunks as a JSON array to path. The file is
// written next to its destination and renamed into place, so a reader
// never sees a partial array.
func WriteJSONAtomic(path string, chunks []chunking.Chunk, pretty bool) error {
	staged, err := StageJSON(path, chunks, pretty)
	if err != nil {
		return err
	}
	return staged.Commit()
}

// WriteFileAtomic replaces path with data via a temporary file and rename.
func WriteFileAtomic(path string, data []byte) error {
	staged, err := StageFile(path, data)
	if err != nil {
		return err
	}
	return staged.Commit()
}

// StagedFile is a fully written temporary file waiting to replace its
// destination. Exactly one of Commit or Discard should be called.
type StagedFile struct {
	path string
	tmp  string
}

// StageJSON encodes chunks as a JSON array into a staged file for path.
func StageJSON(path string, chunks []chunking.Chunk, pretty bool) (*StagedFile, error) {
	if chunks == nil {
		chunks = []chunking.Chunk{}
	}
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(chunks, "", "  ")
	} else {
		data, err = json.Marshal(chunks)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal chunks: %w", err)
	}
	return StageFile(path, data)
}

// StageFile writes data to a temporary file in the directory of path. The
// destination is not touched until Commit.
func StageFile(path string, data []byte) (*StagedFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	return &StagedFile{path: path, tmp: tmpName}, nil
}

// Path returns the destination path.
func (f *StagedFile) Path() string { return f.path }

// Commit renames the staged file into place.
func (f *StagedFile) Commit() error {
	if err := os.Rename(f.tmp, f.path); err != nil {
		os.Remove(f.tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Discard removes the staged file and leaves the destination as it was.
func (f *StagedFile) Discard() {
	os.Remove(f.tmp)
}

// ReadJSONArtifact loads a chunk array written by WriteJSONAtomic.
func ReadJSONArtifact(path string) ([]chunking.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var chunks []chunking.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return chunks, nil
}
