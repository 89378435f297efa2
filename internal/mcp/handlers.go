package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/studyfocus/internal/bridge"
	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/schedule"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	dispatcher bridge.Dispatcher
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d bridge.Dispatcher) *Handlers {
	return &Handlers{dispatcher: d}
}

// Request types for each tool

// TaskArg is one task in a tool argument.
type TaskArg struct {
	ID               string `json:"id,omitempty"`
	Title            string `json:"title"`
	EstimatedMinutes int    `json:"estimated_minutes"`
}

// PlanSetRequest represents the arguments for plan_set.
type PlanSetRequest struct {
	Tasks        []TaskArg `json:"tasks"`
	BlockedSites []string  `json:"blocked_sites"`
}

// NotesUpdateRequest represents the arguments for notes_update.
type NotesUpdateRequest struct {
	Notes string `json:"notes"`
}

// SessionStartRequest represents the arguments for session_start.
type SessionStartRequest struct {
	Tasks        []TaskArg `json:"tasks"`
	BlockedSites []string  `json:"blocked_sites"`
}

// SessionNextRequest represents the arguments for session_next.
type SessionNextRequest struct {
	Index *int `json:"index,omitempty"`
}

// SessionUpdateRequest represents the arguments for session_update.
type SessionUpdateRequest struct {
	Tasks        []TaskArg `json:"tasks"`
	BlockedSites []string  `json:"blocked_sites"`
}

// ToolOutput is the success payload of every tool.
type ToolOutput struct {
	RequestID string          `json:"request_id"`
	State     json.RawMessage `json:"state,omitempty"`
	Session   json.RawMessage `json:"session,omitempty"`
}

// toTasks keeps nil as nil so "not given" survives the conversion.
func toTasks(args []TaskArg) []schedule.Task {
	if args == nil {
		return nil
	}
	tasks := make([]schedule.Task, len(args))
	for i, a := range args {
		tasks[i] = schedule.Task{
			ID:               a.ID,
			Title:            a.Title,
			EstimatedMinutes: a.EstimatedMinutes,
			Order:            float64(i),
		}
	}
	return tasks
}

// Handler implementations

// HandlePing handles the focus_ping tool call.
func (h *Handlers) HandlePing(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.send(ctx, bridge.TypePing, nil)
}

// HandleState handles the focus_state tool call.
func (h *Handlers) HandleState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.send(ctx, bridge.TypeGetState, nil)
}

// HandlePlanSet handles the plan_set tool call.
func (h *Handlers) HandlePlanSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PlanSetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Tasks == nil {
		return errorResult(errors.NewInvalidRequest("tasks is required")), nil
	}
	return h.send(ctx, bridge.TypeSetPlan, bridge.PlanPayload{
		Tasks:        toTasks(input.Tasks),
		BlockedSites: input.BlockedSites,
	})
}

// HandleNotesUpdate handles the notes_update tool call.
func (h *Handlers) HandleNotesUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[NotesUpdateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.send(ctx, bridge.TypeUpdateNotes, bridge.NotesPayload{Notes: input.Notes})
}

// HandleSessionStart handles the session_start tool call.
func (h *Handlers) HandleSessionStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionStartRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.send(ctx, bridge.TypeStartSession, bridge.StartPayload{
		Tasks:        toTasks(input.Tasks),
		BlockedSites: input.BlockedSites,
	})
}

// HandleSessionEnd handles the session_end tool call.
func (h *Handlers) HandleSessionEnd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.send(ctx, bridge.TypeEndSession, nil)
}

// HandleSessionNext handles the session_next tool call.
func (h *Handlers) HandleSessionNext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionNextRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.send(ctx, bridge.TypeNextPhase, bridge.NextPhasePayload{CurrentIndex: input.Index})
}

// HandleSessionUpdate handles the session_update tool call.
func (h *Handlers) HandleSessionUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionUpdateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.send(ctx, bridge.TypeUpdateSession, bridge.UpdateSessionPayload{
		BaseTasks:    toTasks(input.Tasks),
		BlockedSites: input.BlockedSites,
	})
}

// send dispatches one bridge request and maps the response to a tool result.
func (h *Handlers) send(ctx context.Context, typ string, payload any) (*mcp.CallToolResult, error) {
	if err := ctx.Err(); err != nil {
		return errorResult(errors.NewCancelled(typ)), nil
	}

	req := bridge.Request{RequestID: ulid.Make().String(), Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errorResult(errors.NewInvalidRequest(err.Error())), nil
		}
		req.Payload = raw
	}

	resp, err := h.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return errorResult(err), nil
	}
	if !resp.Success {
		return errorResult(errors.FromCode(resp.Code, resp.Error)), nil
	}

	out := ToolOutput{RequestID: req.RequestID, Session: resp.Session}
	if string(resp.Payload) != "null" {
		out.State = resp.Payload
	}
	return successResult(out)
}

// Helper functions

func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var fErr *errors.FocusError
	if stderrors.As(err, &fErr) {
		errorObj := map[string]any{
			"code":    fErr.Code,
			"message": fErr.Message,
			"status":  fErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if fErr.Code != errors.ErrInternal && fErr.Details != nil {
			errorObj["details"] = fErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(content),
			},
		},
		IsError: true,
	}
}

func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
