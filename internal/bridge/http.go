package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hpungsan/studyfocus/internal/errors"
)

// BridgePath is the route a running server exposes for bridge requests.
const BridgePath = "/bridge"

// maxResponseBytes bounds a bridge response body.
const maxResponseBytes = 4 << 20

// HTTPDispatcher delivers requests to a running server's bridge route.
type HTTPDispatcher struct {
	endpoint string
	origin   string
	client   *http.Client
}

// NewHTTPDispatcher returns a dispatcher posting to baseURL + BridgePath
// with the given Origin header.
func NewHTTPDispatcher(baseURL, origin string, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPDispatcher{
		endpoint: strings.TrimRight(baseURL, "/") + BridgePath,
		origin:   origin,
		client:   &http.Client{Timeout: timeout},
	}
}

// Dispatch implements Dispatcher.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, errors.NewInternal(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, errors.NewInternal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Origin", d.origin)

	res, err := d.client.Do(httpReq)
	if err != nil {
		return Response{}, errors.NewUnavailable(fmt.Sprintf("extension unavailable: %v", err))
	}
	defer func() { _ = res.Body.Close() }()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return Response{}, errors.NewUnavailable(fmt.Sprintf("origin %s rejected by %s", d.origin, d.endpoint))
	default:
		return Response{}, errors.NewUnavailable(fmt.Sprintf("bridge returned %s", res.Status))
	}

	var resp Response
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&resp); err != nil {
		return Response{}, errors.NewUnavailable(fmt.Sprintf("decode bridge response: %v", err))
	}
	return resp, nil
}
