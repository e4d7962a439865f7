package engine

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// writeFileAtomic replaces path with data via a temp file in the same
// directory: write, sync, rename. A failure at any step discards the temp
// file, so a crash or cancellation mid-write never leaves a partially
// written artifact behind.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "atomic: create temp")
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return eris.Wrap(err, "atomic: write")
	}
	if err = tmp.Sync(); err != nil {
		return eris.Wrap(err, "atomic: sync")
	}
	if err = tmp.Chmod(perm); err != nil {
		return eris.Wrap(err, "atomic: chmod")
	}
	if err = tmp.Close(); err != nil {
		return eris.Wrap(err, "atomic: close")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrap(err, "atomic: rename")
	}
	return nil
}
