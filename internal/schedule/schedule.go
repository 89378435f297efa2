// Package schedule turns an ordered task plan into an interleaved sequence of
// work and break entries and a wall-clock timetable.
//
// Every function here is pure: the only clock input is the explicit now
// parameter, and inputs are never mutated. Callers re-derive whenever the plan
// changes instead of patching previously derived entries.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/studyfocus/internal/errors"
)

const (
	// BreakMinutes is the fixed length of the break inserted between tasks.
	BreakMinutes = 5

	// DefaultTaskMinutes is the estimate given to tasks created by the system.
	DefaultTaskMinutes = 25

	// MaxTaskMinutes caps a single estimate at one day.
	MaxTaskMinutes = 24 * 60

	// BreakTitle is the title of every synthesized break entry.
	BreakTitle = "Recharge break"
)

// Task is a unit of planned work.
type Task struct {
	ID               string  `json:"id"`
	Title            string  `json:"title"`
	EstimatedMinutes int     `json:"estimatedMinutes"`
	Order            float64 `json:"order"`
}

// SessionEntry is one phase of a session: a task or a synthesized break.
type SessionEntry struct {
	Task
	IsBreak bool `json:"isBreak"`
}

// Duration returns the planned length of the entry.
func (e SessionEntry) Duration() time.Duration {
	return time.Duration(e.EstimatedMinutes) * time.Minute
}

// TimetableSlot is a SessionEntry placed on the wall clock.
// StartTime and EndTime are Unix milliseconds.
type TimetableSlot struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	StartTime       int64  `json:"startTime"`
	EndTime         int64  `json:"endTime"`
	IsBreak         bool   `json:"isBreak"`
	DurationMinutes int    `json:"durationMinutes"`
}

// Start returns StartTime as a time.Time.
func (s TimetableSlot) Start() time.Time { return time.UnixMilli(s.StartTime) }

// End returns EndTime as a time.Time.
func (s TimetableSlot) End() time.Time { return time.UnixMilli(s.EndTime) }

// DeriveEntries emits a work entry per task with a break between each pair of
// consecutive tasks. Sequence order is authoritative; Order is only copied.
func DeriveEntries(tasks []Task) []SessionEntry {
	entries := make([]SessionEntry, 0, max(0, 2*len(tasks)-1))
	for i, task := range tasks {
		entries = append(entries, SessionEntry{Task: task})
		if i < len(tasks)-1 {
			entries = append(entries, breakAfter(task, i))
		}
	}
	return entries
}

func breakAfter(task Task, index int) SessionEntry {
	return SessionEntry{
		Task: Task{
			ID:               fmt.Sprintf("%s-break-%d", task.ID, index),
			Title:            BreakTitle,
			EstimatedMinutes: BreakMinutes,
			Order:            task.Order + 0.5,
		},
		IsBreak: true,
	}
}

// DeriveTimetable lays the derived entries end to end starting at now.
func DeriveTimetable(tasks []Task, now time.Time) []TimetableSlot {
	return timetableFor(DeriveEntries(tasks), now)
}

// Derive returns entries and timetable computed from a single clock reading.
func Derive(tasks []Task, now time.Time) ([]SessionEntry, []TimetableSlot) {
	entries := DeriveEntries(tasks)
	return entries, timetableFor(entries, now)
}

func timetableFor(entries []SessionEntry, now time.Time) []TimetableSlot {
	slots := make([]TimetableSlot, 0, len(entries))
	cursor := now.UnixMilli()
	for _, entry := range entries {
		durationMS := int64(entry.EstimatedMinutes) * 60_000
		title := entry.Title
		if entry.IsBreak {
			title = fmt.Sprintf("%s (%d min)", entry.Title, entry.EstimatedMinutes)
		}
		slots = append(slots, TimetableSlot{
			ID:              entry.ID,
			Title:           title,
			StartTime:       cursor,
			EndTime:         cursor + durationMS,
			IsBreak:         entry.IsBreak,
			DurationMinutes: entry.EstimatedMinutes,
		})
		cursor += durationMS
	}
	return slots
}

// Reorder returns a copy of tasks with Order rewritten to each task's index.
func Reorder(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, task := range tasks {
		task.Order = float64(i)
		out[i] = task
	}
	return out
}

// NewTask creates a task with a fresh id and the default estimate.
// Order is seeded from the creation time so new tasks sort last.
func NewTask(title string, now time.Time) Task {
	return Task{
		ID:               uuid.NewString(),
		Title:            title,
		EstimatedMinutes: DefaultTaskMinutes,
		Order:            float64(now.UnixMilli()),
	}
}

// Validate checks task estimates and returns a copy with trimmed titles and
// generated ids for tasks that arrived without one.
func Validate(tasks []Task) ([]Task, error) {
	out := make([]Task, len(tasks))
	for i, task := range tasks {
		if task.EstimatedMinutes <= 0 {
			return nil, errors.NewInvalidRequest(
				fmt.Sprintf("tasks[%d]: estimatedMinutes must be a positive integer, got %d", i, task.EstimatedMinutes))
		}
		if task.EstimatedMinutes > MaxTaskMinutes {
			return nil, errors.NewInvalidRequest(
				fmt.Sprintf("tasks[%d]: estimatedMinutes must be at most %d, got %d", i, MaxTaskMinutes, task.EstimatedMinutes))
		}
		task.Title = strings.TrimSpace(task.Title)
		if strings.TrimSpace(task.ID) == "" {
			task.ID = uuid.NewString()
		}
		out[i] = task
	}
	return out, nil
}

// TotalMinutes sums the planned minutes of entries.
func TotalMinutes(entries []SessionEntry) int {
	total := 0
	for _, e := range entries {
		total += e.EstimatedMinutes
	}
	return total
}

// FormatRemaining renders d as MM:SS, or "--:--" when nothing remains.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "--:--"
	}
	minutes := int(d / time.Minute)
	seconds := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
