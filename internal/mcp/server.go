package mcp

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"pkt.systems/pslog"

	"github.com/hpungsan/studyfocus/internal/bridge"
	"github.com/hpungsan/studyfocus/internal/config"
)

// ServerName is the name reported to MCP clients.
const ServerName = "studyfocus"

// KnownTypes lists all valid type names.
var KnownTypes = []string{"focus", "plan", "notes", "session"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"focus_ping": {
		def:     pingToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePing },
	},
	"focus_state": {
		def:     stateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleState },
	},
	"plan_set": {
		def:     planSetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePlanSet },
	},
	"notes_update": {
		def:     notesUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNotesUpdate },
	},
	"session_start": {
		def:     sessionStartToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionStart },
	},
	"session_end": {
		def:     sessionEndToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionEnd },
	},
	"session_next": {
		def:     sessionNextToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionNext },
	},
	"session_update": {
		def:     sessionUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionUpdate },
	},
}

// AllToolNames returns every tool name, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "session_start" → "session").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates an MCP server whose tools send bridge requests to d.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(d bridge.Dispatcher, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(d)

	// Build set of disabled tools: first expand types, then add individual tools
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves s over stdio until ctx is done or stdin closes.
// Stdout carries protocol frames only; errors go to the context logger.
func Run(ctx context.Context, s *server.MCPServer) error {
	return Serve(ctx, s, os.Stdin, os.Stdout)
}

// Serve is Run with explicit streams.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(pslog.LogLogger(pslog.Ctx(ctx)))
	pslog.Ctx(ctx).Info("mcp server listening", "transport", "stdio", "tools", len(s.ListTools()))
	err := stdio.Listen(ctx, in, out)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
