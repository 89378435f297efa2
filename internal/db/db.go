package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/studyfocus/internal/config"
	_ "modernc.org/sqlite"
)

// FileName is the database file created under the base directory.
const FileName = "studyfocus.db"

// migration upgrades the schema from version-1 to version.
type migration struct {
	version int
	name    string
	schema  string
}

// migrations run in order; append to add one.
var migrations = []migration{
	{
		version: 1,
		name:    "shared state blob",
		schema: `
		CREATE TABLE IF NOT EXISTS kv_state (
		  key        TEXT PRIMARY KEY,
		  value      TEXT NOT NULL,
		  updated_at INTEGER NOT NULL
		);`,
	},
	{
		version: 2,
		name:    "dynamic blocking rules",
		schema: `
		CREATE TABLE IF NOT EXISTS block_rules (
		  id                  INTEGER PRIMARY KEY,
		  priority            INTEGER NOT NULL,
		  url_filter          TEXT NOT NULL,
		  host                TEXT NOT NULL,
		  redirect_path       TEXT NOT NULL,
		  resource_types_json TEXT NOT NULL,
		  created_at          INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_block_rules_host ON block_rules(host);`,
	},
}

// CurrentSchemaVersion is the version Init migrates to.
var CurrentSchemaVersion = migrations[len(migrations)-1].version

// Init opens (creating if needed) baseDir/studyfocus.db in WAL mode and
// migrates it. baseDir and its exports directory are created owner-only.
// Tests pass t.TempDir() instead of ~/.studyfocus.
func Init(baseDir string) (*sql.DB, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, "exports")} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
		_ = os.Chmod(dir, 0o700)
	}

	dbPath := filepath.Join(baseDir, FileName)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := setup(db); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(dbPath, 0o600)
	return db, nil
}

func setup(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return migrate(db)
}

// ConfigurePool applies the pool limits set in cfg; zero values keep the
// database/sql defaults.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies every migration newer than the stored user_version.
func migrate(db *sql.DB) error {
	current, err := GetUserVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := db.Exec(m.schema); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		if err := SetUserVersion(db, m.version); err != nil {
			return err
		}
	}
	return nil
}

// GetUserVersion returns the schema version stored in the user_version pragma.
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion stores version in the user_version pragma.
func SetUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
