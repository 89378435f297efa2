//go:build !windows

package ops

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/hpungsan/studyfocus/internal/errors"
)

// Snapshot files are opened with O_NOFOLLOW, which guards only the last
// path component. ResolveSnapshotPath keeps snapshots directly inside an allowed
// directory so no intermediate component can be swapped.

// createSnapshotTemp creates the temp file an export is written to before
// the rename. It fails if the name already exists.
func createSnapshotTemp(path string) (*os.File, error) {
	flags := os.O_CREATE | os.O_EXCL | os.O_WRONLY | syscall.O_NOFOLLOW | syscall.O_CLOEXEC
	fd, err := syscall.Open(path, flags, 0o600)
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest("plan snapshot path is a symlink")
		}
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}

// openSnapshot opens a plan snapshot for import.
func openSnapshot(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, 0)
	switch {
	case err == nil:
		return os.NewFile(uintptr(fd), path), nil
	case stderrors.Is(err, syscall.ELOOP):
		return nil, errors.NewInvalidRequest("plan snapshot path is a symlink")
	case stderrors.Is(err, syscall.ENOENT):
		return nil, errors.NewFileNotFound(path)
	default:
		return nil, err
	}
}
