package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"pkt.systems/pslog"

	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/schedule"
)

// ExportSchemaVersion is written into every plan snapshot.
const ExportSchemaVersion = "1.0"

// PlanExport is the on-disk plan snapshot. The active session is never
// exported.
type PlanExport struct {
	StudyFocusExport bool            `json:"_studyfocus_export"`
	SchemaVersion    string          `json:"schema_version"`
	ExportedAt       int64           `json:"exported_at"`
	Tasks            []schedule.Task `json:"tasks"`
	BlockedSites     []string        `json:"blockedSites"`
	Notes            string          `json:"notes"`
}

// ExportInput contains parameters for the Export operation.
type ExportInput struct {
	Path string // optional, default: ~/.studyfocus/exports/plan-<timestamp>.json
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path"`
	Tasks      int    `json:"tasks"`
	Sites      int    `json:"sites"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes the current plan to a JSON snapshot.
func (s *Service) Export(ctx context.Context, input ExportInput) (*ExportOutput, error) {
	current, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	exportPath := input.Path
	if exportPath == "" {
		exportPath, err = defaultExportPath(now)
		if err != nil {
			return nil, err
		}
	}
	exportPath, err = ResolveSnapshotPath(exportPath, SnapshotWrite, s.cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(exportPath), 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	snapshot := PlanExport{
		StudyFocusExport: true,
		SchemaVersion:    ExportSchemaVersion,
		ExportedAt:       now.Unix(),
		Tasks:            current.Tasks,
		BlockedSites:     current.BlockedSites,
		Notes:            current.Notes,
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelled("export")
	}
	if err := writeAtomic(exportPath, append(data, '\n')); err != nil {
		return nil, err
	}

	pslog.Ctx(ctx).Info("plan exported", "path", exportPath, "tasks", len(snapshot.Tasks))
	return &ExportOutput{
		Path:       exportPath,
		Tasks:      len(snapshot.Tasks),
		Sites:      len(snapshot.BlockedSites),
		ExportedAt: snapshot.ExportedAt,
	}, nil
}

// writeAtomic writes data to a temp file beside path and renames it into
// place, so an existing file survives a failed write.
func writeAtomic(path string, data []byte) error {
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := createSnapshotTemp(tempPath)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return nil
}

// defaultExportPath returns ~/.studyfocus/exports/plan-<timestamp>.json.
func defaultExportPath(now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}
	filename := fmt.Sprintf("plan-%s%s", now.Format("2006-01-02T150405"), ExportExt)
	return filepath.Join(dir, filename), nil
}
