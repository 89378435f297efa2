package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"pkt.systems/pslog"

	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/schedule"
)

// MaxImportBytes caps the size of a plan snapshot.
const MaxImportBytes = 4 << 20

// ImportMode controls how a snapshot combines with the current plan.
type ImportMode string

const (
	ImportModeReplace ImportMode = "replace" // snapshot replaces tasks, sites and notes
	ImportModeAppend  ImportMode = "append"  // snapshot tasks follow current ones; sites merged
)

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: replace
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Tasks int    `json:"tasks"`
	Sites int    `json:"sites"`
	Mode  string `json:"mode"`
}

// Import loads a plan snapshot written by Export and applies it like
// SetPlan, so a running session picks up the imported plan.
func (s *Service) Import(ctx context.Context, input ImportInput) (*ImportOutput, error) {
	if input.Mode == "" {
		input.Mode = ImportModeReplace
	}
	if input.Mode != ImportModeReplace && input.Mode != ImportModeAppend {
		return nil, errors.NewInvalidRequest("mode must be one of: replace, append")
	}
	path, err := ResolveSnapshotPath(input.Path, SnapshotRead, s.cfg)
	if err != nil {
		return nil, err
	}

	snapshot, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}

	tasks := snapshot.Tasks
	sites := snapshot.BlockedSites
	notes := snapshot.Notes
	if input.Mode == ImportModeAppend {
		current, err := s.store.Get(ctx)
		if err != nil {
			return nil, err
		}
		tasks = append(slices.Clone(current.Tasks), snapshot.Tasks...)
		sites = mergeSites(current.BlockedSites, snapshot.BlockedSites)
		notes = current.Notes
	}

	res, err := s.SetPlan(ctx, SetPlanInput{Tasks: tasks, BlockedSites: sites})
	if err != nil {
		return nil, err
	}
	if res.State.Notes != notes {
		if _, err := s.UpdateNotes(ctx, notes); err != nil {
			return nil, err
		}
	}

	pslog.Ctx(ctx).Info("plan imported", "path", input.Path, "mode", string(input.Mode), "tasks", len(res.State.Tasks))
	return &ImportOutput{
		Tasks: len(res.State.Tasks),
		Sites: len(res.State.BlockedSites),
		Mode:  string(input.Mode),
	}, nil
}

func readSnapshot(path string) (*PlanExport, error) {
	file, err := openSnapshot(path)
	if err != nil {
		if errors.Is(err, errors.ErrFileNotFound) || errors.Is(err, errors.ErrInvalidRequest) {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxImportBytes+1))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if len(data) > MaxImportBytes {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("import file exceeds %d bytes", MaxImportBytes))
	}

	var snapshot PlanExport
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid plan file: %v", err))
	}
	if !snapshot.StudyFocusExport {
		return nil, errors.NewInvalidRequest("not a studyfocus plan export (missing _studyfocus_export)")
	}
	if _, err := schedule.Validate(snapshot.Tasks); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func mergeSites(a, b []string) []string {
	out := slices.Clone(a)
	for _, site := range b {
		if !slices.Contains(out, site) {
			out = append(out, site)
		}
	}
	return out
}
