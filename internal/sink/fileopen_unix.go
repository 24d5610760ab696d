//go:build !windows

package sink

import (
	stderrors "errors"
	"fmt"
	"os"
	"syscall"

	"github.com/hpungsan/gather/internal/errors"
)

// createTemp exclusively creates the staging file a cycle's envelope is written to
// before it is linked into place. A symlink planted at that name fails with ELOOP.
func createTemp(tempPath string) (*os.File, error) {
	fd, err := syscall.Open(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, 0o644)
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, fmt.Errorf("temp path is a symlink: %w", err)
		}
		return nil, err
	}
	return os.NewFile(uintptr(fd), tempPath), nil
}

// openCollected opens a published window file without following a symlink at its name.
func openCollected(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, 0)
	switch {
	case err == nil:
		return os.NewFile(uintptr(fd), path), nil
	case stderrors.Is(err, syscall.ENOENT):
		return nil, errors.NewNotFound(path)
	case stderrors.Is(err, syscall.ELOOP):
		return nil, errors.NewInvalidRequest("collected file is a symlink: " + path)
	default:
		return nil, err
	}
}

// syncDir flushes the data directory so a linked window file survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
