package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/schedule"
)

// Command is a normalized request. The set of variants is closed.
type Command interface {
	// Type returns the current request type the command was built from.
	Type() string
	isCommand()
}

type (
	Ping     struct{}
	GetState struct{}
	SetPlan  struct {
		Tasks        []schedule.Task
		BlockedSites []string
	}
	UpdateNotes  struct{ Notes string }
	StartSession struct {
		Tasks        []schedule.Task
		BlockedSites []string
	}
	EndSession    struct{}
	NextPhase     struct{ CurrentIndex *int }
	UpdateSession struct {
		BaseTasks    []schedule.Task
		BlockedSites []string
	}
	// Unknown is any type the handler does not recognize.
	Unknown struct{ RequestType string }
)

func (Ping) Type() string          { return TypePing }
func (GetState) Type() string      { return TypeGetState }
func (SetPlan) Type() string       { return TypeSetPlan }
func (UpdateNotes) Type() string   { return TypeUpdateNotes }
func (StartSession) Type() string  { return TypeStartSession }
func (EndSession) Type() string    { return TypeEndSession }
func (NextPhase) Type() string     { return TypeNextPhase }
func (UpdateSession) Type() string { return TypeUpdateSession }
func (u Unknown) Type() string     { return u.RequestType }

func (Ping) isCommand()          {}
func (GetState) isCommand()      {}
func (SetPlan) isCommand()       {}
func (UpdateNotes) isCommand()   {}
func (StartSession) isCommand()  {}
func (EndSession) isCommand()    {}
func (NextPhase) isCommand()     {}
func (UpdateSession) isCommand() {}
func (Unknown) isCommand()       {}

// legacyStartPayload is the payload of START_FOCUS_SESSION.
type legacyStartPayload struct {
	BaseTasks    []schedule.Task `json:"baseTasks"`
	BlockedSites []string        `json:"blockedSites"`
}

// Normalize converts req into a Command. Legacy types are remapped to their
// current equivalents. req is not modified. A payload that does not match
// the type's shape is an INVALID_REQUEST error; an unrecognized type yields
// Unknown, not an error.
func Normalize(req Request) (Command, error) {
	switch req.Type {
	case TypePing:
		return Ping{}, nil
	case TypeGetState:
		return GetState{}, nil
	case TypeSetPlan:
		var p PlanPayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		return SetPlan{Tasks: p.Tasks, BlockedSites: p.BlockedSites}, nil
	case TypeUpdateNotes:
		var p NotesPayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		return UpdateNotes{Notes: p.Notes}, nil
	case TypeStartSession:
		var p StartPayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		tasks := p.Tasks
		if p.BaseTasks != nil {
			tasks = p.BaseTasks
		}
		return StartSession{Tasks: tasks, BlockedSites: p.BlockedSites}, nil
	case LegacyStartFocusSession:
		var p legacyStartPayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		cmd := StartSession{Tasks: p.BaseTasks, BlockedSites: p.BlockedSites}
		// Legacy callers that send tasks but no sites mean "no sites"
		if p.BaseTasks != nil && p.BlockedSites == nil {
			cmd.BlockedSites = []string{}
		}
		return cmd, nil
	case TypeEndSession, LegacyEndFocusSession:
		return EndSession{}, nil
	case TypeNextPhase, LegacyNextPhase:
		var p NextPhasePayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		return NextPhase{CurrentIndex: p.CurrentIndex}, nil
	case TypeUpdateSession, LegacyUpdateFocusSession:
		var p UpdateSessionPayload
		if err := decodePayload(req, &p); err != nil {
			return nil, err
		}
		return UpdateSession{BaseTasks: p.BaseTasks, BlockedSites: p.BlockedSites}, nil
	default:
		return Unknown{RequestType: req.Type}, nil
	}
}

// decodePayload unmarshals req.Payload into v. A missing or null payload
// leaves v at its zero value.
func decodePayload(req Request, v any) error {
	raw := bytes.TrimSpace(req.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid %s payload: %v", req.Type, err))
	}
	return nil
}
