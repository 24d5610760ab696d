//go:build windows

package sink

import (
	"os"

	"github.com/hpungsan/gather/internal/errors"
)

// createTemp exclusively creates the staging file for a window envelope.
func createTemp(tempPath string) (*os.File, error) {
	return os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
}

// openCollected opens a published window file.
func openCollected(path string) (*os.File, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound(path)
	}
	return f, err
}

// syncDir is a no-op; directory handles cannot be fsynced here.
func syncDir(string) error {
	return nil
}
