package utils

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
)

// EnsureDir creates dir and its parents.
func EnsureDir(dir string) error {
	return errors.Wrapf(os.MkdirAll(dir, 0o755), "create %s", dir)
}

// Missing reports whether nothing exists at path.
func Missing(path string) bool {
	_, err := os.Stat(path)
	return errors.Is(err, os.ErrNotExist)
}

// WriteTOML encodes data into a temp file beside path and renames it into
// place. Watchers of the directory see one rename instead of a partial write.
func WriteTOML(path string, data any) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "replace %s", path)
}

// AbsPath resolves path against the working directory, or returns it as is.
func AbsPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
