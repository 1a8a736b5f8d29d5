package adapter

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// BackupFileName returns the default file name for a configuration export
// taken at t.
func BackupFileName(t time.Time) string {
	return "router_backup_" + t.Format("20060102_150405") + ".conf"
}

// writeFileFrom streams r into path through a temporary file in the same
// directory, so a failed download never leaves a truncated backup behind.
func writeFileFrom(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "cannot create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".backup-*")
	if err != nil {
		return errors.Wrapf(err, "cannot create temporary file in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return errors.Wrap(err, "cannot write backup")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errors.Wrap(err, "cannot restrict backup permissions")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "cannot write backup")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "cannot move backup to %s", path)
}
