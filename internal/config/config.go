package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Storage backends for the shared state blob.
const (
	BackendSQLite = "sqlite"
	BackendDiskv  = "diskv"
)

// Config holds application configuration.
type Config struct {
	// AllowedOrigins lists the page origins the relay accepts bridge requests from.
	// An entry matches any origin with the same scheme and host, on any port.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	// RequestTimeoutMS is how long a bridge client waits for a correlated response.
	RequestTimeoutMS int `json:"request_timeout_ms,omitempty"`

	// StorageBackend selects where the shared state blob lives: "sqlite" or "diskv".
	StorageBackend string `json:"storage_backend,omitempty"`

	// BlockPagePath is the redirect target installed into every blocking rule.
	BlockPagePath string `json:"block_page_path,omitempty"`

	// DefaultBlockedSites is used when a session starts without any sites in the
	// request or the saved plan.
	DefaultBlockedSites []string `json:"default_blocked_sites,omitempty"`

	// NotesMaxChars caps the free-form notes attached to the plan.
	NotesMaxChars int `json:"notes_max_chars,omitempty"`

	// HTTPBind and HTTPPort control where `serve` listens.
	HTTPBind string `json:"http_bind,omitempty"`
	HTTPPort int    `json:"http_port,omitempty"`

	// AllowedPaths is an allowlist of directories for plan export/import.
	// Paths outside ~/.studyfocus/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export/import.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of tool type prefixes to disable entirely
	// ("focus", "plan", "notes", "session").
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AllowedOrigins:      []string{"http://localhost", "http://127.0.0.1"},
		RequestTimeoutMS:    5000,
		StorageBackend:      BackendSQLite,
		BlockPagePath:       "/blocked",
		DefaultBlockedSites: []string{"youtube.com"},
		NotesMaxChars:       20000,
		HTTPBind:            "127.0.0.1",
		HTTPPort:            5173,
	}
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.studyfocus.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.studyfocus) and repo (.studyfocus) directories.
// Repo config is found by walking upward from startDir to find the nearest .studyfocus/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .studyfocus/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".studyfocus", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated,
// except DefaultBlockedSites which the overlay replaces wholesale when set.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.RequestTimeoutMS = pickInt(overlay.RequestTimeoutMS, base.RequestTimeoutMS)
	result.NotesMaxChars = pickInt(overlay.NotesMaxChars, base.NotesMaxChars)
	result.HTTPPort = pickInt(overlay.HTTPPort, base.HTTPPort)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.StorageBackend = pickString(overlay.StorageBackend, base.StorageBackend)
	result.BlockPagePath = pickString(overlay.BlockPagePath, base.BlockPagePath)
	result.HTTPBind = pickString(overlay.HTTPBind, base.HTTPBind)

	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	result.DefaultBlockedSites = base.DefaultBlockedSites
	if len(overlay.DefaultBlockedSites) > 0 {
		result.DefaultBlockedSites = mergeStringSlice(nil, overlay.DefaultBlockedSites)
	}

	result.AllowedOrigins = mergeStringSlice(base.AllowedOrigins, overlay.AllowedOrigins)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return strings.TrimSpace(overlay)
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
