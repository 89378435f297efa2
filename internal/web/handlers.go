package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/pslog"

	"github.com/hpungsan/studyfocus/internal/blocking"
	"github.com/hpungsan/studyfocus/internal/bridge"
	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/ops"
	"github.com/hpungsan/studyfocus/internal/schedule"
	"github.com/hpungsan/studyfocus/internal/state"
)

// maxBridgeBody bounds a single bridge request body.
const maxBridgeBody = 1 << 20

// keepAliveInterval is how often an idle event stream gets a comment line.
const keepAliveInterval = 25 * time.Second

// Handlers contains HTTP route handlers.
type Handlers struct {
	svc      *ops.Service
	relay    *bridge.Relay
	renderer *Renderer
	now      func() time.Time
}

// HandleStatus handles GET /: plan and current phase.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetState(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, st)
		return
	}

	now := h.now()
	entries := schedule.DeriveEntries(st.Tasks)
	if st.ActiveSession != nil {
		entries = st.ActiveSession.Entries
	}

	title := "Plan"
	if st.Active() {
		title = "Session"
	}
	h.renderer.renderPage(w, r, "status", StatusPageData{
		PageData: PageData{
			Title:   title,
			Version: h.renderer.version,
			Nav:     "status",
		},
		State:     st,
		Active:    st.Active(),
		Phase:     buildPhase(st, now),
		Slots:     buildSlots(st, now),
		Minutes:   schedule.TotalMinutes(entries),
		NotesHTML: renderMarkdown(st.Notes),
	})
}

// HandleBlocked handles GET /blocked, the page blocked sites redirect to.
func (h *Handlers) HandleBlocked(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetState(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	h.renderer.renderPage(w, r, "blocked", BlockedPageData{
		PageData: PageData{
			Title:   "Blocked",
			Version: h.renderer.version,
			Nav:     "blocked",
		},
		URL:   r.URL.Query().Get("url"),
		Phase: buildPhase(st, h.now()),
	})
}

// CheckResult is the response of GET /check.
type CheckResult struct {
	URL      string `json:"url"`
	Blocked  bool   `json:"blocked"`
	Host     string `json:"host,omitempty"`
	RuleID   int    `json:"rule_id,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// HandleCheck handles GET /check?url=: whether an installed rule covers url.
func (h *Handlers) HandleCheck(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("url is required"))
		return
	}

	rules, err := h.svc.Rules().Rules(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	result := CheckResult{URL: target}
	if rule, ok := blocking.Match(rules, target); ok {
		result.Blocked = true
		result.Host = rule.Host
		result.RuleID = rule.ID
		result.Redirect = rule.RedirectPath
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleBridge handles POST /bridge by relaying one request from a page.
// Disallowed origins get 403 with an empty body; anything the relay
// ignores gets 400 with an empty body.
func (h *Handlers) HandleBridge(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !h.relay.AllowedOrigin(origin) {
		pslog.Ctx(r.Context()).Debug("bridge origin rejected", "origin", origin)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	allowCORS(w, origin)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBridgeBody+1))
	if err != nil || len(body) > maxBridgeBody {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp, ok := h.relay.Forward(r.Context(), origin, body)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	renderJSON(w, http.StatusOK, resp)
}

// HandleBridgePreflight handles OPTIONS /bridge for cross-port pages.
func (h *Handlers) HandleBridgePreflight(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !h.relay.AllowedOrigin(origin) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	allowCORS(w, origin)
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// sameHost reports whether origin names the host the request was sent to.
func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	return err == nil && host != "" && u.Host == host
}

func allowCORS(w http.ResponseWriter, origin string) {
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
}

// HandleEvents handles GET /events with a server-sent event stream carrying
// the full state after every change, starting with the current state.
// Requests from a foreign origin that is not allowed get 403.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !sameHost(origin, r.Host) && !h.relay.AllowedOrigin(origin) {
		pslog.Ctx(r.Context()).Debug("events origin rejected", "origin", origin)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.renderer.renderError(w, r, errors.NewInternal(fmt.Errorf("stream unsupported")))
		return
	}
	ctx := r.Context()
	logger := pslog.Ctx(ctx)

	changes, cancel := h.svc.Store().Subscribe(ctx)
	defer cancel()

	st, err := h.svc.GetState(ctx)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	_ = writeStateEvent(w, st)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	logger.Info("event stream opened")
	for {
		select {
		case <-ctx.Done():
			logger.Info("event stream closed")
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			_ = writeStateEvent(w, change.New)
			flusher.Flush()
		case <-keepAlive.C:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeStateEvent(w io.Writer, st state.SharedState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
	return err
}
