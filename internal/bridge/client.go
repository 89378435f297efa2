package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/schedule"
	"github.com/hpungsan/studyfocus/internal/session"
	"github.com/hpungsan/studyfocus/internal/state"
)

// Client sends requests over a Channel and waits for their responses.
type Client struct {
	ch      *Channel
	origin  string
	timeout time.Duration
}

// NewClient returns a Client posting as origin. A non-positive timeout
// uses DefaultTimeout.
func NewClient(ch *Channel, origin string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{ch: ch, origin: origin, timeout: timeout}
}

// Send posts a request of type typ and returns the response with the same
// request id and the trusted source marker. Other traffic on the channel is
// ignored. A response with Success false is returned together with its
// error.
func (c *Client) Send(ctx context.Context, typ string, payload any) (*Response, error) {
	req := Request{Source: SourcePage, RequestID: ulid.Make().String(), Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.NewInvalidRequest("encode payload: " + err.Error())
		}
		req.Payload = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	done := make(chan Response, 1)
	remove := c.ch.Listen(func(env Envelope) {
		var resp Response
		if json.Unmarshal(env.Data, &resp) != nil {
			return
		}
		if resp.Source != SourceExtension || resp.RequestID != req.RequestID {
			return
		}
		select {
		case done <- resp:
		default:
		}
	})
	defer remove()

	c.ch.Post(c.origin, data)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-done:
		if !resp.Success {
			return &resp, responseError(resp)
		}
		return &resp, nil
	case <-timer.C:
		return nil, errors.NewTimeout(req.RequestID, c.timeout)
	case <-ctx.Done():
		return nil, errors.NewCancelled("bridge request")
	}
}

func responseError(resp Response) *errors.FocusError {
	msg := resp.Error
	if msg == "" {
		msg = "request failed"
	}
	return errors.FromCode(resp.Code, msg)
}

// Ping checks that the handler side is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Send(ctx, TypePing, nil)
	return err
}

// GetState fetches the shared state.
func (c *Client) GetState(ctx context.Context) (state.SharedState, error) {
	resp, err := c.Send(ctx, TypeGetState, nil)
	if err != nil {
		return state.SharedState{}, err
	}
	st, _, err := decodeResult(resp)
	return st, err
}

// SetPlan replaces the plan.
func (c *Client) SetPlan(ctx context.Context, tasks []schedule.Task, sites []string) (state.SharedState, error) {
	resp, err := c.Send(ctx, TypeSetPlan, PlanPayload{Tasks: tasks, BlockedSites: sites})
	if err != nil {
		return state.SharedState{}, err
	}
	st, _, err := decodeResult(resp)
	return st, err
}

// UpdateNotes replaces the notes.
func (c *Client) UpdateNotes(ctx context.Context, notes string) (state.SharedState, error) {
	resp, err := c.Send(ctx, TypeUpdateNotes, NotesPayload{Notes: notes})
	if err != nil {
		return state.SharedState{}, err
	}
	st, _, err := decodeResult(resp)
	return st, err
}

// StartSession starts a session. Nil arguments fall back to the saved plan.
func (c *Client) StartSession(ctx context.Context, tasks []schedule.Task, sites []string) (state.SharedState, *session.Active, error) {
	resp, err := c.Send(ctx, TypeStartSession, StartPayload{Tasks: tasks, BlockedSites: sites})
	if err != nil {
		return state.SharedState{}, nil, err
	}
	return decodeResult(resp)
}

// EndSession ends the session in progress, if any.
func (c *Client) EndSession(ctx context.Context) (state.SharedState, error) {
	resp, err := c.Send(ctx, TypeEndSession, nil)
	if err != nil {
		return state.SharedState{}, err
	}
	st, _, err := decodeResult(resp)
	return st, err
}

// NextPhase advances the session, or jumps to index when it is non-nil.
func (c *Client) NextPhase(ctx context.Context, index *int) (state.SharedState, *session.Active, error) {
	resp, err := c.Send(ctx, TypeNextPhase, NextPhasePayload{CurrentIndex: index})
	if err != nil {
		return state.SharedState{}, nil, err
	}
	return decodeResult(resp)
}

// UpdateSession replaces the plan of the session in progress. Nil arguments
// keep the current values.
func (c *Client) UpdateSession(ctx context.Context, baseTasks []schedule.Task, sites []string) (state.SharedState, *session.Active, error) {
	resp, err := c.Send(ctx, TypeUpdateSession, UpdateSessionPayload{BaseTasks: baseTasks, BlockedSites: sites})
	if err != nil {
		return state.SharedState{}, nil, err
	}
	return decodeResult(resp)
}

func decodeResult(resp *Response) (state.SharedState, *session.Active, error) {
	st := state.Empty()
	if len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, &st); err != nil {
			return state.SharedState{}, nil, errors.NewInternal(err)
		}
	}
	var active *session.Active
	if len(resp.Session) > 0 && string(resp.Session) != "null" {
		active = &session.Active{}
		if err := json.Unmarshal(resp.Session, active); err != nil {
			return state.SharedState{}, nil, errors.NewInternal(err)
		}
	}
	return st, active, nil
}
