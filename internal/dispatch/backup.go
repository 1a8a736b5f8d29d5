package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"routerctl/internal/adapter"
	"routerctl/internal/domain"
)

// backupPath resolves the target file of a backup. Relative names land in
// the configured backup directory. Directories are created by the adapter
// only once there is something to write.
func (s *Server) backupPath(filename string) (string, error) {
	if filename == "" {
		filename = adapter.BackupFileName(s.now())
	}
	if filepath.Base(filename) == "." || filepath.Base(filename) == string(filepath.Separator) {
		return "", domain.Precondition("filename", filename, "backup file name is empty")
	}
	if !filepath.IsAbs(filename) {
		filename = filepath.Join(s.Config().BackupDir, filename)
	}
	return filename, nil
}

func backupConfiguration(ctx context.Context, s *Server, args Args) (string, error) {
	address, err := s.address(args)
	if err != nil {
		return "", err
	}
	path, err := s.backupPath(args.String("filename"))
	if err != nil {
		return "", err
	}

	var written string
	err = s.withRouter(ctx, address, func(ctx context.Context, r adapter.Router) error {
		backuper, ok := r.(adapter.ConfigBackuper)
		if !ok {
			return domain.NewError(domain.KindUnsupportedOperation, "%s adapter cannot export its configuration", r.Vendor())
		}
		var err error
		written, err = backuper.BackupConfiguration(ctx, path)
		return err
	})
	if err != nil {
		return "", err
	}

	text := fmt.Sprintf("Configuration backed up to: %s", written)
	if info, err := os.Stat(written); err == nil {
		text += fmt.Sprintf(" (%s)", humanize.IBytes(uint64(info.Size())))
	}
	return text, nil
}
