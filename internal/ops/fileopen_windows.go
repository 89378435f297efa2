//go:build windows

package ops

import (
	"os"

	"github.com/hpungsan/studyfocus/internal/errors"
)

// Windows has no O_NOFOLLOW; ResolveSnapshotPath rejects symlinks before these run.

func createSnapshotTemp(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
}

func openSnapshot(path string) (*os.File, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.NewFileNotFound(path)
	}
	return f, err
}
