package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/i474232898/quarter-sensor-simulator/internal/sensors"
)

// defaultFileMode applies to tables published for the first time.
const defaultFileMode fs.FileMode = 0o644

// FileStore reads the sensor registry and publishes snapshot tables on an afero.Fs.
type FileStore struct {
	fs afero.Fs
}

// NewFileStore creates a FileStore. A nil fs means the OS filesystem.
func NewFileStore(fs afero.Fs) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStore{fs: fs}
}

// ReadTable loads and decodes the table stored at path.
func (s *FileStore) ReadTable(path string) (sensors.Table, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return sensors.Table{}, err
	}
	defer f.Close()

	t, err := sensors.Decode(f)
	if err != nil {
		return sensors.Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// WriteTable replaces the file at path with t. The table is written to a
// temporary file in the same directory and renamed over path, so readers see
// either the previous contents or the new ones, never a partial file. The
// published file keeps the mode of the file it replaces.
func (s *FileStore) WriteTable(path string, t sensors.Table) (err error) {
	var buf bytes.Buffer
	if err := sensors.Encode(&buf, t); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = s.fs.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	mode, err := s.targetMode(path)
	if err != nil {
		return err
	}
	if err = s.fs.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err = s.fs.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}

// targetMode returns the permission bits of the file at path, or
// defaultFileMode when it does not exist yet.
func (s *FileStore) targetMode(path string) (fs.FileMode, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaultFileMode, nil
		}
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Mode().Perm(), nil
}
