package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeoutMS != 5000 {
		t.Fatalf("RequestTimeoutMS = %d, want 5000", cfg.RequestTimeoutMS)
	}
	if cfg.StorageBackend != BackendSQLite {
		t.Fatalf("StorageBackend = %q, want %q", cfg.StorageBackend, BackendSQLite)
	}
	if len(cfg.DefaultBlockedSites) != 1 || cfg.DefaultBlockedSites[0] != "youtube.com" {
		t.Fatalf("DefaultBlockedSites = %v, want [youtube.com]", cfg.DefaultBlockedSites)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins = %v, want 2 defaults", cfg.AllowedOrigins)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	body := `{"request_timeout_ms": 250, "storage_backend": "diskv", "default_blocked_sites": ["reddit.com", "x.com"]}`
	if err := os.WriteFile(configPath, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeoutMS != 250 {
		t.Fatalf("RequestTimeoutMS = %d, want 250", cfg.RequestTimeoutMS)
	}
	if cfg.RequestTimeout() != 250*time.Millisecond {
		t.Fatalf("RequestTimeout() = %v, want 250ms", cfg.RequestTimeout())
	}
	if cfg.StorageBackend != BackendDiskv {
		t.Fatalf("StorageBackend = %q, want %q", cfg.StorageBackend, BackendDiskv)
	}
	// Overlay replaces default sites instead of appending to them
	if len(cfg.DefaultBlockedSites) != 2 || cfg.DefaultBlockedSites[0] != "reddit.com" {
		t.Fatalf("DefaultBlockedSites = %v, want [reddit.com x.com]", cfg.DefaultBlockedSites)
	}
	// Untouched scalars keep defaults
	if cfg.BlockPagePath != "/blocked" {
		t.Fatalf("BlockPagePath = %q, want /blocked", cfg.BlockPagePath)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_AllowedOriginsMerged(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	body := `{"allowed_origins": ["https://focus.example.com", "http://localhost"]}`
	if err := os.WriteFile(configPath, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []string{"http://localhost", "http://127.0.0.1", "https://focus.example.com"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Errorf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"notes_max_chars": 8000, "disabled_tools": ["session_end"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	repoDir := filepath.Join(repoRoot, ".studyfocus")
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	repoConfig := `{"notes_max_chars": 5000, "disabled_tools": ["plan_set"]}`
	if err := os.WriteFile(filepath.Join(repoDir, "config.json"), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	nested := filepath.Join(repoRoot, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, nested)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.NotesMaxChars != 5000 {
		t.Errorf("NotesMaxChars = %d, want 5000 (repo override)", cfg.NotesMaxChars)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools = %v, want merged [session_end plan_set]", cfg.DisabledTools)
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.HTTPPort != 5173 {
		t.Errorf("HTTPPort = %d, want 5173", cfg.HTTPPort)
	}
}

func TestMerge_BooleansAndScalars(t *testing.T) {
	base := DefaultConfig()
	overlay := &Config{AllowUnsafePaths: true, HTTPBind: "  0.0.0.0 ", DBMaxOpenConns: 1}

	got := Merge(base, overlay)

	if !got.AllowUnsafePaths {
		t.Error("AllowUnsafePaths = false, want true")
	}
	if got.HTTPBind != "0.0.0.0" {
		t.Errorf("HTTPBind = %q, want 0.0.0.0", got.HTTPBind)
	}
	if got.DBMaxOpenConns != 1 {
		t.Errorf("DBMaxOpenConns = %d, want 1", got.DBMaxOpenConns)
	}
	if got.HTTPPort != 5173 {
		t.Errorf("HTTPPort = %d, want base 5173", got.HTTPPort)
	}
}

func TestMergeStringSlice_Dedupes(t *testing.T) {
	got := mergeStringSlice([]string{" a ", "b", ""}, []string{"b", "c"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("mergeStringSlice = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if mergeStringSlice(nil, []string{" "}) != nil {
		t.Error("expected nil for all-empty input")
	}
}
