package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// SafeJoinDir performs a filepath.Join of 'parent' and 'subdir' but returns an error
// if the resulting path points outside of 'parent'.
func SafeJoinDir(parent, subdir string) (string, error) {
	res := filepath.Join(parent, subdir)
	if !strings.HasPrefix(filepath.Clean(res), filepath.Clean(parent)+string(os.PathSeparator)) {
		return res, errors.Errorf("unsafe path join: '%s' with '%s'", parent, subdir)
	}
	return res, nil
}

// WriteFileAtomic writes buf to a hidden file next to path, syncs it and renames it into place,
// creating parent directories as needed. Readers see either nothing or the whole file.
func WriteFileAtomic(path string, buf []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for %q", path)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrapf(err, "creating temp file for %q", path)
	}
	renamed := false
	defer func() {
		if !renamed {
			utils.UncheckedError(tmp.Close())
			utils.UncheckedError(os.Remove(tmp.Name()))
		}
	}()

	if _, err := tmp.Write(buf); err != nil {
		return errors.Wrapf(err, "writing %q", path)
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrapf(err, "syncing %q", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %q", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrapf(err, "renaming into %q", path)
	}
	renamed = true
	return nil
}
