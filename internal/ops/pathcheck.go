package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hpungsan/studyfocus/internal/config"
	"github.com/hpungsan/studyfocus/internal/errors"
)

// SnapshotAccess says whether a snapshot path is about to be read or written.
type SnapshotAccess int

const (
	SnapshotRead  SnapshotAccess = iota // import
	SnapshotWrite                       // export
)

// BaseDirName is the per-user data directory under $HOME.
const BaseDirName = ".studyfocus"

// ExportExt is the required extension for plan snapshots.
const ExportExt = ".json"

// ResolveSnapshotPath checks a user-supplied snapshot path and returns it
// made absolute. The path must end in .json, must not contain "..", and must
// not be a symlink. Unless cfg.AllowUnsafePaths is set, its parent must be
// ~/.studyfocus/exports or one of cfg.AllowedPaths exactly; subdirectories
// do not count.
func ResolveSnapshotPath(path string, access SnapshotAccess, cfg *config.Config) (string, error) {
	switch {
	case path == "":
		return "", errors.NewInvalidRequest("path is required")
	case hasParentRef(path):
		return "", errors.NewInvalidRequest("path must not contain directory traversal (..)")
	case filepath.Ext(path) != ExportExt:
		return "", errors.NewInvalidRequest("path must have " + ExportExt + " extension")
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	if cfg == nil || !cfg.AllowUnsafePaths {
		dirs, err := snapshotDirs(cfg)
		if err != nil {
			return "", err
		}
		parent := filepath.Dir(abs)
		if !slices.Contains(dirs, parent) {
			return "", errors.NewInvalidRequest(fmt.Sprintf(
				"file must be directly in an allowed directory (no subdirectories); allowed: %v", dirs))
		}
		if err := rejectSymlink(parent, "parent directory"); err != nil {
			return "", err
		}
	}

	if access == SnapshotRead {
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			return "", errors.NewFileNotFound(path)
		}
	}
	if err := rejectSymlink(abs, "path"); err != nil {
		return "", err
	}
	return abs, nil
}

// DefaultExportsDir returns ~/.studyfocus/exports.
func DefaultExportsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to get home directory: %w", err))
	}
	return filepath.Join(home, BaseDirName, "exports"), nil
}

// snapshotDirs lists the directories snapshots may live in, absolute and
// with symlinked allowed_paths entries resolved to their targets.
// Relative allowed_paths entries are ignored.
func snapshotDirs(cfg *config.Config) ([]string, error) {
	exports, err := DefaultExportsDir()
	if err != nil {
		return nil, err
	}
	dirs := []string{exports}
	if cfg == nil {
		return dirs, nil
	}
	for _, p := range cfg.AllowedPaths {
		if !filepath.IsAbs(p) {
			continue
		}
		dir := filepath.Clean(p)
		if info, err := os.Lstat(dir); err == nil && info.Mode()&os.ModeSymlink != 0 {
			if dir, err = filepath.EvalSymlinks(dir); err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

func rejectSymlink(path, what string) error {
	info, err := os.Lstat(path)
	if err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest(what + " must not be a symlink")
	}
	return nil
}

// hasParentRef reports whether any component of path is "..". Both slash
// styles are split so Windows-style input is caught everywhere.
func hasParentRef(path string) bool {
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
	return slices.Contains(parts, "..")
}
