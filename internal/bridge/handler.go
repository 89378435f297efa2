package bridge

import (
	"context"
	"encoding/json"
	"time"

	"pkt.systems/pslog"

	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/ops"
)

// Handler is the privileged side of the bridge. It normalizes each request
// and applies it to an ops.Service.
type Handler struct {
	svc *ops.Service
}

// NewHandler returns a Handler backed by svc.
func NewHandler(svc *ops.Service) *Handler {
	return &Handler{svc: svc}
}

// Dispatch implements Dispatcher. Every failure, including unknown types
// and malformed payloads, comes back as a Response; the error is always nil.
func (h *Handler) Dispatch(ctx context.Context, req Request) (Response, error) {
	logger := pslog.Ctx(ctx).With("request_id", req.RequestID, "type", req.Type)
	start := time.Now()

	resp, err := h.handle(ctx, req)
	if err != nil {
		fe := errors.As(err)
		logger.Info("bridge request failed", "code", fe.Code, "error", fe.Message, "duration_ms", time.Since(start).Milliseconds())
		return failure(req.RequestID, fe), nil
	}
	logger.Debug("bridge request handled", "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func (h *Handler) handle(ctx context.Context, req Request) (Response, error) {
	cmd, err := Normalize(req)
	if err != nil {
		return Response{}, err
	}

	var result *ops.Result
	switch c := cmd.(type) {
	case Ping:
		if err := h.svc.Ping(ctx); err != nil {
			return Response{}, err
		}
		return Response{RequestID: req.RequestID, Success: true, Payload: json.RawMessage("null")}, nil
	case GetState:
		st, err := h.svc.GetState(ctx)
		if err != nil {
			return Response{}, err
		}
		result = &ops.Result{State: st}
	case SetPlan:
		result, err = h.svc.SetPlan(ctx, ops.SetPlanInput{Tasks: c.Tasks, BlockedSites: c.BlockedSites})
	case UpdateNotes:
		result, err = h.svc.UpdateNotes(ctx, c.Notes)
	case StartSession:
		result, err = h.svc.StartSession(ctx, ops.StartSessionInput{Tasks: c.Tasks, BlockedSites: c.BlockedSites})
	case EndSession:
		result, err = h.svc.EndSession(ctx)
	case NextPhase:
		result, err = h.svc.NextPhase(ctx, c.CurrentIndex)
	case UpdateSession:
		result, err = h.svc.UpdateSession(ctx, ops.UpdateSessionInput{BaseTasks: c.BaseTasks, BlockedSites: c.BlockedSites})
	default:
		return Response{}, errors.NewUnknownRequest(cmd.Type())
	}
	if err != nil {
		return Response{}, err
	}
	return success(req.RequestID, result)
}

func success(requestID string, result *ops.Result) (Response, error) {
	payload, err := json.Marshal(result.State)
	if err != nil {
		return Response{}, errors.NewInternal(err)
	}
	resp := Response{RequestID: requestID, Success: true, Payload: payload}
	if result.Session != nil {
		sess, err := json.Marshal(result.Session)
		if err != nil {
			return Response{}, errors.NewInternal(err)
		}
		resp.Session = sess
	}
	return resp, nil
}
