package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/studyfocus/internal/schedule"
)

// taskItemSchema describes one task in a tool argument array.
var taskItemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id":                map[string]any{"type": "string", "description": "Stable task id; generated when omitted"},
		"title":             map[string]any{"type": "string", "description": "What to work on"},
		"estimated_minutes": map[string]any{"type": "integer", "minimum": 1, "maximum": schedule.MaxTaskMinutes, "description": "Planned length in minutes"},
	},
	"required": []string{"title", "estimated_minutes"},
}

var pingToolDef = mcp.NewTool("focus_ping",
	mcp.WithDescription("Check that the focus service is reachable."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var stateToolDef = mcp.NewTool("focus_state",
	mcp.WithDescription("Get the saved plan, blocked sites, notes and the session in progress, if any."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var planSetToolDef = mcp.NewTool("plan_set",
	mcp.WithDescription("Replace the task plan and blocked sites. Tasks run in the order given. "+
		"If a session is running its schedule is rebuilt from the new plan."),
	mcp.WithArray("tasks",
		mcp.Required(),
		mcp.Description("Ordered tasks"),
		mcp.Items(taskItemSchema),
	),
	mcp.WithArray("blocked_sites",
		mcp.Description("Hosts to block during sessions, e.g. youtube.com"),
		mcp.WithStringItems(),
	),
	mcp.WithIdempotentHintAnnotation(true),
)

var notesUpdateToolDef = mcp.NewTool("notes_update",
	mcp.WithDescription("Replace the free-form markdown notes attached to the plan."),
	mcp.WithString("notes",
		mcp.Required(),
		mcp.Description("Markdown text; empty clears the notes"),
	),
	mcp.WithIdempotentHintAnnotation(true),
)

var sessionStartToolDef = mcp.NewTool("session_start",
	mcp.WithDescription("Start a focus session. Breaks of 5 minutes are inserted between tasks and the "+
		"blocked sites are redirected until the session ends. Replaces any running session."),
	mcp.WithArray("tasks",
		mcp.Description("Ordered tasks; defaults to the saved plan"),
		mcp.Items(taskItemSchema),
	),
	mcp.WithArray("blocked_sites",
		mcp.Description("Hosts to block; defaults to the saved sites"),
		mcp.WithStringItems(),
	),
)

var sessionEndToolDef = mcp.NewTool("session_end",
	mcp.WithDescription("End the running session and lift all site blocks."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithIdempotentHintAnnotation(true),
)

var sessionNextToolDef = mcp.NewTool("session_next",
	mcp.WithDescription("Advance to the next phase, or jump to a phase by index. "+
		"Advancing past the last phase completes the session."),
	mcp.WithNumber("index",
		mcp.Description("Zero-based phase index to jump to"),
		mcp.Min(0),
	),
)

var sessionUpdateToolDef = mcp.NewTool("session_update",
	mcp.WithDescription("Change the plan or blocked sites of the running session. "+
		"Omitted fields keep their current values; an empty task list completes the session."),
	mcp.WithArray("tasks",
		mcp.Description("New ordered tasks"),
		mcp.Items(taskItemSchema),
	),
	mcp.WithArray("blocked_sites",
		mcp.Description("New blocked hosts"),
		mcp.WithStringItems(),
	),
)
