package bridge

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"pkt.systems/pslog"

	"github.com/hpungsan/studyfocus/internal/errors"
)

// Dispatcher delivers a request to the privileged side. A returned error
// means the request could not be delivered; handler failures come back as
// a Response with Success false.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Response, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req Request) (Response, error)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Relay forwards tagged requests from allowed origins to a Dispatcher and
// posts the responses back on the channel.
type Relay struct {
	ch         *Channel
	origins    []*url.URL
	dispatcher Dispatcher
}

// NewRelay returns a Relay. Unparseable entries in allowedOrigins are
// ignored. A nil dispatcher answers every request with an unavailable
// failure.
func NewRelay(ch *Channel, allowedOrigins []string, d Dispatcher) *Relay {
	r := &Relay{ch: ch, dispatcher: d}
	for _, o := range allowedOrigins {
		u, err := url.Parse(strings.TrimSpace(o))
		if err != nil || u.Scheme == "" || u.Hostname() == "" {
			continue
		}
		r.origins = append(r.origins, u)
	}
	return r
}

// Attach registers the relay on the channel and returns a function that
// removes it. Requests are dispatched with ctx.
func (r *Relay) Attach(ctx context.Context) (detach func()) {
	logger := pslog.Ctx(ctx)
	remove := r.ch.Listen(func(env Envelope) {
		resp, ok := r.Forward(ctx, env.Origin, env.Data)
		if !ok {
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			logger.Error("relay response encode failed", "request_id", resp.RequestID, "error", err)
			return
		}
		r.ch.Post(env.Origin, data)
	})
	logger.Debug("relay attached", "origins", len(r.origins))
	return remove
}

// Run attaches the relay and blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	detach := r.Attach(ctx)
	defer detach()
	<-ctx.Done()
	pslog.Ctx(ctx).Debug("relay stopped")
	return nil
}

// AllowedOrigin reports whether origin matches an allowed scheme and host.
// Ports are not compared.
func (r *Relay) AllowedOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" {
		return false
	}
	for _, allowed := range r.origins {
		if strings.EqualFold(u.Scheme, allowed.Scheme) && strings.EqualFold(u.Hostname(), allowed.Hostname()) {
			return true
		}
	}
	return false
}

// Forward handles one raw message. It returns false when the message is
// ignored: the origin is not allowed, the data is not a request, the type
// is untagged, or the request id is missing. Otherwise the returned
// response always carries the request id and the trusted source marker.
func (r *Relay) Forward(ctx context.Context, origin string, data []byte) (*Response, bool) {
	logger := pslog.Ctx(ctx)
	if !r.AllowedOrigin(origin) {
		logger.Debug("relay origin rejected", "origin", origin)
		return nil, false
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, false
	}
	if !Tagged(req.Type) || req.RequestID == "" {
		return nil, false
	}

	var resp Response
	if r.dispatcher == nil {
		resp = failure(req.RequestID, errors.NewUnavailable("extension runtime not available"))
	} else {
		var err error
		resp, err = r.dispatcher.Dispatch(ctx, req)
		if err != nil {
			logger.Warn("relay dispatch failed", "request_id", req.RequestID, "type", req.Type, "error", err)
			resp = failure(req.RequestID, deliveryError(err))
		}
	}
	resp.Source = SourceExtension
	resp.RequestID = req.RequestID
	return &resp, true
}

func deliveryError(err error) *errors.FocusError {
	fe := errors.As(err)
	if fe.Code == errors.ErrInternal {
		msg := fe.Message
		if msg == "" {
			msg = "extension unavailable"
		}
		return errors.NewUnavailable(msg)
	}
	return fe
}

func failure(requestID string, fe *errors.FocusError) Response {
	return Response{
		RequestID: requestID,
		Success:   false,
		Error:     fe.Message,
		Code:      string(fe.Code),
	}
}
