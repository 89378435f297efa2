// Package bridge carries typed requests from an untrusted page context to the
// privileged request handler and returns correlated responses.
//
// The transport is a broadcast Channel that every party can post to and
// listen on. A Relay sits on the channel, checks the origin of each message,
// and forwards tagged requests to a Dispatcher. A Client stamps each request
// with a fresh id and waits for the response carrying the same id and the
// trusted source marker.
package bridge

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/studyfocus/internal/schedule"
)

// Prefix tags every current request type.
const Prefix = "SF_"

// Source markers distinguish page traffic from trusted responses.
const (
	SourcePage      = "studyfocus-web"
	SourceExtension = "studyfocus-extension"
)

// DefaultTimeout is how long a Client waits for a correlated response.
const DefaultTimeout = 5 * time.Second

// Request types.
const (
	TypePing          = "SF_PING"
	TypeGetState      = "SF_GET_STATE"
	TypeSetPlan       = "SF_SET_PLAN"
	TypeUpdateNotes   = "SF_UPDATE_NOTES"
	TypeStartSession  = "SF_START_SESSION"
	TypeEndSession    = "SF_END_SESSION"
	TypeNextPhase     = "SF_NEXT_PHASE"
	TypeUpdateSession = "SF_UPDATE_SESSION"
)

// Legacy request types, accepted by the handler and remapped 1:1.
const (
	LegacyStartFocusSession  = "START_FOCUS_SESSION"
	LegacyEndFocusSession    = "END_FOCUS_SESSION"
	LegacyNextPhase          = "NEXT_PHASE"
	LegacyUpdateFocusSession = "UPDATE_FOCUS_SESSION"
)

// Types lists every current request type.
var Types = []string{
	TypePing, TypeGetState, TypeSetPlan, TypeUpdateNotes,
	TypeStartSession, TypeEndSession, TypeNextPhase, TypeUpdateSession,
}

// Tagged reports whether t carries the bridge prefix.
func Tagged(t string) bool { return strings.HasPrefix(t, Prefix) }

// Legacy reports whether t is one of the untagged legacy types.
func Legacy(t string) bool {
	switch t {
	case LegacyStartFocusSession, LegacyEndFocusSession, LegacyNextPhase, LegacyUpdateFocusSession:
		return true
	}
	return false
}

// Request is the wire form of a bridge request.
type Request struct {
	Source    string          `json:"source,omitempty"`
	RequestID string          `json:"requestId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Response is the wire form of a bridge response. Payload holds the shared
// state (null for SF_PING); Session is set when a session is in progress
// after a session-affecting request.
type Response struct {
	Source    string          `json:"source,omitempty"`
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Session   json.RawMessage `json:"session,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
}

// Payload shapes. Slice fields distinguish null (absent) from [] (empty).

// PlanPayload is the payload of SF_SET_PLAN.
type PlanPayload struct {
	Tasks        []schedule.Task `json:"tasks"`
	BlockedSites []string        `json:"blockedSites"`
}

// NotesPayload is the payload of SF_UPDATE_NOTES.
type NotesPayload struct {
	Notes string `json:"notes"`
}

// StartPayload is the payload of SF_START_SESSION. BaseTasks is the legacy
// name for Tasks and wins when both are present.
type StartPayload struct {
	Tasks        []schedule.Task `json:"tasks"`
	BaseTasks    []schedule.Task `json:"baseTasks,omitempty"`
	BlockedSites []string        `json:"blockedSites"`
}

// NextPhasePayload is the payload of SF_NEXT_PHASE.
type NextPhasePayload struct {
	CurrentIndex *int `json:"currentIndex,omitempty"`
}

// UpdateSessionPayload is the payload of SF_UPDATE_SESSION.
type UpdateSessionPayload struct {
	BaseTasks    []schedule.Task `json:"baseTasks"`
	BlockedSites []string        `json:"blockedSites"`
}
