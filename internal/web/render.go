package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"pkt.systems/pslog"

	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/schedule"
	"github.com/hpungsan/studyfocus/internal/state"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "status", "blocked"
}

// SlotView is one timetable row on the status page.
type SlotView struct {
	Title   string
	Start   string
	End     string
	Minutes int
	IsBreak bool
	Current bool
	Done    bool
}

// PhaseView describes the entry the session is on.
type PhaseView struct {
	Title     string
	IsBreak   bool
	Index     int
	Total     int
	Remaining string
	EndsAtMS  int64
	Overdue   bool
}

// StatusPageData is the template data for the status page.
type StatusPageData struct {
	PageData
	State     state.SharedState
	Active    bool
	Phase     *PhaseView
	Slots     []SlotView
	Minutes   int
	NotesHTML template.HTML
}

// BlockedPageData is the template data for the redirect target page.
type BlockedPageData struct {
	PageData
	URL   string
	Phase *PhaseView
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string) *Renderer {
	funcMap := template.FuncMap{
		"add":        func(a, b int) int { return a + b },
		"formatTime": formatTime,
	}

	// Parse layout as the base template
	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"status":  "status.html",
		"blocked": "blocked.html",
		"error":   "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	logger := pslog.Ctx(req.Context())
	t, ok := r.templates[name]
	if !ok {
		logger.Error("template missing", "template", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		logger.Error("template render failed", "template", name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	fe := errors.As(err)

	if wantsJSON(req) {
		renderJSON(w, fe.Status, map[string]any{
			"error": map[string]any{
				"code":    string(fe.Code),
				"message": fe.Message,
				"status":  fe.Status,
			},
		})
		return
	}

	r.renderPageStatus(w, req, fe.Status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", fe.Status),
			Version: r.version,
		},
		StatusCode: fe.Status,
		Message:    fe.Message,
	})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts markdown text to HTML using goldmark.
// Raw HTML in the source is not passed through.
func renderMarkdown(md string) template.HTML {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats a Unix millisecond timestamp as local "15:04".
func formatTime(ms int64) string {
	return time.UnixMilli(ms).Format("15:04")
}

// buildPhase describes the current entry of st's session, or nil when idle.
func buildPhase(st state.SharedState, now time.Time) *PhaseView {
	active := st.ActiveSession
	if active == nil {
		return nil
	}
	entry, ok := active.CurrentEntry()
	if !ok {
		return nil
	}
	remaining := active.PhaseRemaining(now)
	return &PhaseView{
		Title:     entry.Title,
		IsBreak:   entry.IsBreak,
		Index:     active.CurrentIndex,
		Total:     len(active.Entries),
		Remaining: schedule.FormatRemaining(remaining),
		EndsAtMS:  active.PhaseStartedAt + entry.Duration().Milliseconds(),
		Overdue:   remaining < 0,
	}
}

// buildSlots lays out the session timetable, or the plan's projected
// timetable from now when idle.
func buildSlots(st state.SharedState, now time.Time) []SlotView {
	slots := schedule.DeriveTimetable(st.Tasks, now)
	current := -1
	if st.ActiveSession != nil {
		slots = st.ActiveSession.Timetable
		current = st.ActiveSession.CurrentIndex
	}
	views := make([]SlotView, 0, len(slots))
	for i, s := range slots {
		views = append(views, SlotView{
			Title:   s.Title,
			Start:   formatTime(s.StartTime),
			End:     formatTime(s.EndTime),
			Minutes: s.DurationMinutes,
			IsBreak: s.IsBreak,
			Current: i == current,
			Done:    current >= 0 && i < current,
		})
	}
	return views
}
