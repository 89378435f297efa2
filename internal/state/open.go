package state

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/hpungsan/studyfocus/internal/config"
	"github.com/hpungsan/studyfocus/internal/errors"
)

// Open returns the Store selected by cfg.StorageBackend. The sqlite backend
// uses conn; the diskv backend lives under baseDir/state.
func Open(cfg *config.Config, baseDir string, conn *sql.DB) (Store, error) {
	switch cfg.StorageBackend {
	case "", config.BackendSQLite:
		if conn == nil {
			return nil, errors.NewInternal(fmt.Errorf("sqlite backend requires a database"))
		}
		return NewSQLiteStore(conn), nil
	case config.BackendDiskv:
		return NewDiskvStore(filepath.Join(baseDir, "state")), nil
	default:
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown storage_backend %q (want %q or %q)",
			cfg.StorageBackend, config.BackendSQLite, config.BackendDiskv))
	}
}
