package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/studyfocus/internal/blocking"
	"github.com/hpungsan/studyfocus/internal/bridge"
	"github.com/hpungsan/studyfocus/internal/config"
	"github.com/hpungsan/studyfocus/internal/errors"
	"github.com/hpungsan/studyfocus/internal/mcp"
	"github.com/hpungsan/studyfocus/internal/ops"
	"github.com/hpungsan/studyfocus/internal/schedule"
	"github.com/hpungsan/studyfocus/internal/session"
	"github.com/hpungsan/studyfocus/internal/state"
	"github.com/hpungsan/studyfocus/internal/web"
)

// fallbackOrigin is posted as when no allowed origins are configured.
const fallbackOrigin = "http://localhost"

// serveLockWait bounds how long serve waits for local writers to exit.
const serveLockWait = 3 * time.Second

// newCLIApp creates the CLI application with all commands.
// e may be nil when only help or version output is needed.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "studyfocus",
		Usage:   "Focus sessions with breaks and site blocking",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, EnvVars: []string{"STUDYFOCUS_SERVER"}, Usage: "Send requests to a running server (e.g. http://127.0.0.1:5173)"},
			&cli.BoolFlag{Name: "json", Usage: "Print JSON instead of tables"},
		},
		Commands: []*cli.Command{
			serveCmd(e),
			mcpCmd(e),
			statusCmd(e),
			pingCmd(e),
			planCmd(e),
			notesCmd(e),
			startCmd(e),
			endCmd(e),
			nextCmd(e),
			updateCmd(e),
			rulesCmd(e),
			exportCmd(e),
			importCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd creates the serve command.
func serveCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the status page, block page and bridge endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Listen address (default from config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port (default from config)"},
		},
		Action: func(c *cli.Context) error {
			cfg := *e.cfg
			if c.IsSet("bind") {
				cfg.HTTPBind = c.String("bind")
			}
			if c.IsSet("port") {
				cfg.HTTPPort = c.Int("port")
			}
			relay := bridge.NewRelay(bridge.NewChannel(), cfg.AllowedOrigins, localDispatcher(e))
			srv := web.NewServer(e.svc, relay, &cfg, Version)
			if err := e.lock.Serve(c.Context, web.LocalURL(srv.Addr), serveLockWait); err != nil {
				return outputError(err)
			}
			if err := web.Run(c.Context, srv); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools over stdio",
		Action: func(c *cli.Context) error {
			s := mcp.NewServer(dispatcher(c, e), e.cfg, Version)
			if err := mcp.Run(c.Context, s); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// statusCmd creates the status command.
func statusCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the plan or the session in progress",
		Action: func(c *cli.Context) error {
			client, detach := newClient(c, e)
			defer detach()

			st, err := client.GetState(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputState(c, st)
		},
	}
}

// pingCmd creates the ping command.
func pingCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Check that requests reach the handler",
		Action: func(c *cli.Context) error {
			client, detach := newClient(c, e)
			defer detach()

			start := time.Now()
			if err := client.Ping(c.Context); err != nil {
				return outputError(err)
			}
			elapsed := time.Since(start)
			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]any{"ok": true, "duration_ms": elapsed.Milliseconds()})
			}
			_, err := fmt.Fprintf(c.App.Writer, "pong (%s)\n", elapsed.Round(time.Millisecond))
			return err
		},
	}
}

// planCmd creates the plan command.
func planCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Show or replace the task plan",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "task", Aliases: []string{"t"}, Usage: `Task as "Title:minutes" (repeatable, in order)`},
			&cli.StringSliceFlag{Name: "site", Usage: "Site to block during sessions (repeatable)"},
			&cli.BoolFlag{Name: "no-sites", Usage: "Clear the blocked sites"},
		},
		Action: func(c *cli.Context) error {
			client, detach := newClient(c, e)
			defer detach()

			if !c.IsSet("task") && !c.IsSet("site") && !c.Bool("no-sites") {
				st, err := client.GetState(c.Context)
				if err != nil {
					return outputError(err)
				}
				return outputState(c, st)
			}

			current, err := client.GetState(c.Context)
			if err != nil {
				return outputError(err)
			}
			tasks := current.Tasks
			if c.IsSet("task") {
				if tasks, err = parseTasks(c.StringSlice("task")); err != nil {
					return outputError(err)
				}
			}
			sites := siteFlags(c)
			if sites == nil {
				sites = current.BlockedSites
			}

			st, err := client.SetPlan(c.Context, tasks, sites)
			if err != nil {
				return outputError(err)
			}
			return outputState(c, st)
		},
	}
}

// notesCmd creates the notes command.
func notesCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "notes",
		Usage:     "Show or replace the plan notes (reads markdown from args or stdin)",
		ArgsUsage: "[text]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "clear", Usage: "Remove the notes"},
		},
		Action: func(c *cli.Context) error {
			client, detach := newClient(c, e)
			defer detach()

			var notes string
			switch {
			case c.Bool("clear"):
			case c.NArg() > 0:
				notes = strings.Join(c.Args().Slice(), " ")
			case stdinHasData():
				text, err := readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				notes = text
			default:
				st, err := client.GetState(c.Context)
				if err != nil {
					return outputError(err)
				}
				if c.Bool("json") {
					return outputJSON(c.App.Writer, map[string]string{"notes": st.Notes})
				}
				_, err = fmt.Fprintln(c.App.Writer, st.Notes)
				return err
			}

			st, err := client.UpdateNotes(c.Context, notes)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, st)
			}
			_, err = fmt.Fprintf(c.App.Writer, "notes saved (%d chars)\n", len([]rune(st.Notes)))
			return err
		},
	}
}

// startCmd creates the start command.
func startCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start a focus session from the saved plan or the given tasks",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "task", Aliases: []string{"t"}, Usage: `Task as "Title:minutes" (repeatable, in order)`},
			&cli.StringSliceFlag{Name: "site", Usage: "Site to block (repeatable)"},
			&cli.BoolFlag{Name: "no-sites", Usage: "Block nothing this session"},
		},
		Action: func(c *cli.Context) error {
			client, detach := newClient(c, e)
			defer detach()

			var tasks []schedule.Task
			if c.IsSet("task") {
				var err error
				if tasks, err = parseTasks(c.StringSlice("task")); err != nil {
					return outputError(err)
				}
			}
			st, _, err := client.StartSession(c.Context, tasks, siteFlags(c))
			if err != nil {
				return outputError(err)
			}
			return outputState(c, st)
		},
	}
}

// endCmd creates the end command.
func endCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "end",
		Usage: "End the session and lift all site blocks",
		Action: func(c *cli.Context) error {
			client, detach := newClient(c, e)
			defer detach()

			st, err := client.EndSession(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputState(c, st)
		},
	}
}

// nextCmd creates the next command.
func nextCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "next",
		Usage: "Advance to the next phase, or jump to one with --index",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "index", Aliases: []string{"i"}, Usage: "Zero-based phase index to jump to"},
		},
		Action: func(c *cli.Context) error {
			client, detach := newClient(c, e)
			defer detach()

			var index *int
			if c.IsSet("index") {
				i := c.Int("index")
				index = &i
			}
			st, _, err := client.NextPhase(c.Context, index)
			if err != nil {
				return outputError(err)
			}
			return outputState(c, st)
		},
	}
}

// updateCmd creates the update command.
func updateCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "Change the tasks or blocked sites of the running session",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "task", Aliases: []string{"t"}, Usage: `Task as "Title:minutes" (repeatable, in order)`},
			&cli.StringSliceFlag{Name: "site", Usage: "Site to block (repeatable)"},
			&cli.BoolFlag{Name: "no-sites", Usage: "Lift all site blocks"},
		},
		Action: func(c *cli.Context) error {
			client, detach := newClient(c, e)
			defer detach()

			var tasks []schedule.Task
			if c.IsSet("task") {
				var err error
				if tasks, err = parseTasks(c.StringSlice("task")); err != nil {
					return outputError(err)
				}
			}
			st, _, err := client.UpdateSession(c.Context, tasks, siteFlags(c))
			if err != nil {
				return outputError(err)
			}
			return outputState(c, st)
		},
	}
}

// rulesCmd creates the rules command.
func rulesCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "rules",
		Usage: "List installed blocking rules, or check a URL against them",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "check", Usage: "URL to test against the installed rules"},
		},
		Action: func(c *cli.Context) error {
			rules, err := e.svc.Rules().Rules(c.Context)
			if err != nil {
				return outputError(err)
			}

			if target := c.String("check"); target != "" {
				rule, blocked := blocking.Match(rules, target)
				if c.Bool("json") {
					out := map[string]any{"url": target, "blocked": blocked}
					if blocked {
						out["rule"] = rule
					}
					return outputJSON(c.App.Writer, out)
				}
				if !blocked {
					_, err = fmt.Fprintf(c.App.Writer, "allowed: %s\n", target)
					return err
				}
				_, err = fmt.Fprintf(c.App.Writer, "blocked: %s (rule %d, %s -> %s)\n", target, rule.ID, rule.Host, rule.RedirectPath)
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, rules)
			}
			if len(rules) == 0 {
				_, err = fmt.Fprintln(c.App.Writer, "no blocking rules installed")
				return err
			}
			bold := color.New(color.Bold)
			tbl := uitable.New()
			tbl.Separator = "  "
			tbl.AddRow(bold.Sprint("ID"), bold.Sprint("HOST"), bold.Sprint("FILTER"), bold.Sprint("REDIRECT"))
			for _, r := range rules {
				tbl.AddRow(r.ID, r.Host, r.URLFilter, r.RedirectPath)
			}
			_, err = fmt.Fprintln(c.App.Writer, tbl)
			return err
		},
	}
}

// exportCmd creates the export command.
func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the plan to a JSON snapshot",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output file (default: ~/.studyfocus/exports/plan-<timestamp>.json)"},
		},
		Action: func(c *cli.Context) error {
			output, err := e.svc.Export(c.Context, ops.ExportInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// importCmd creates the import command.
func importCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Load a plan snapshot written by export",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: string(ops.ImportModeReplace), Usage: "Import mode: replace|append"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("path is required"))
			}
			if server := serverFor(c, e); server != "" {
				return outputError(errors.NewUnavailable(fmt.Sprintf("the server at %s owns the state; stop it to import", server)))
			}
			output, err := e.svc.Import(c.Context, ops.ImportInput{
				Path: c.Args().First(),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// Helper functions

// localDispatcher handles requests in this process.
func localDispatcher(e *env) bridge.Dispatcher {
	return bridge.NewHandler(e.svc)
}

// dispatcher returns the dispatcher for the server named by --server or
// found running, otherwise the local handler.
func dispatcher(c *cli.Context, e *env) bridge.Dispatcher {
	return routeDispatcher(e, serverFor(c, e))
}

func routeDispatcher(e *env, server string) bridge.Dispatcher {
	if server != "" {
		return bridge.NewHTTPDispatcher(server, clientOrigin(e.cfg), e.cfg.RequestTimeout())
	}
	return localDispatcher(e)
}

func serverFor(c *cli.Context, e *env) string {
	if server := c.String("server"); server != "" {
		return server
	}
	return e.serverURL
}

// newClient wires a channel, a relay over the selected dispatcher and a
// client posting from the first allowed origin. The returned function
// detaches the relay.
func newClient(c *cli.Context, e *env) (*bridge.Client, func()) {
	ch := bridge.NewChannel()
	detach := bridge.NewRelay(ch, e.cfg.AllowedOrigins, dispatcher(c, e)).Attach(c.Context)
	return bridge.NewClient(ch, clientOrigin(e.cfg), e.cfg.RequestTimeout()), detach
}

func clientOrigin(cfg *config.Config) string {
	if len(cfg.AllowedOrigins) > 0 {
		return cfg.AllowedOrigins[0]
	}
	return fallbackOrigin
}

// siteFlags returns nil when neither --site nor --no-sites was given.
func siteFlags(c *cli.Context) []string {
	if c.Bool("no-sites") {
		return []string{}
	}
	if c.IsSet("site") {
		return c.StringSlice("site")
	}
	return nil
}

// parseTask parses "Title:minutes". Without a suffix the default estimate
// is used.
func parseTask(s string) (schedule.Task, error) {
	title, minutes := strings.TrimSpace(s), schedule.DefaultTaskMinutes
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		n, err := strconv.Atoi(strings.TrimSpace(s[idx+1:]))
		if err != nil || n <= 0 {
			return schedule.Task{}, errors.NewInvalidRequest(fmt.Sprintf("invalid task %q: minutes must be a positive integer", s))
		}
		title, minutes = strings.TrimSpace(s[:idx]), n
	}
	if title == "" {
		return schedule.Task{}, errors.NewInvalidRequest(fmt.Sprintf("invalid task %q: title is required", s))
	}
	return schedule.Task{Title: title, EstimatedMinutes: minutes}, nil
}

func parseTasks(values []string) ([]schedule.Task, error) {
	tasks := make([]schedule.Task, 0, len(values))
	for i, v := range values {
		task, err := parseTask(v)
		if err != nil {
			return nil, err
		}
		task.Order = float64(i)
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// outputState prints st as JSON or as a timetable.
func outputState(c *cli.Context, st state.SharedState) error {
	if c.Bool("json") {
		return outputJSON(c.App.Writer, st)
	}
	return printState(c.App.Writer, st, time.Now())
}

// printState renders the session in progress, or the projected plan when
// idle, as a table.
func printState(w io.Writer, st state.SharedState, now time.Time) error {
	bold := color.New(color.Bold)
	current := color.New(color.FgGreen, color.Bold)

	slots := schedule.DeriveTimetable(st.Tasks, now)
	currentIndex := -1
	if a := st.ActiveSession; a != nil {
		slots = a.Timetable
		currentIndex = a.CurrentIndex
		fmt.Fprintln(w, bold.Sprint(sessionHeadline(a, now)))
	} else {
		total := 0
		for _, t := range st.Tasks {
			total += t.EstimatedMinutes
		}
		fmt.Fprintln(w, bold.Sprint(fmt.Sprintf("Plan: %d tasks, %d min of work", len(st.Tasks), total)))
	}

	sites := st.BlockedSites
	if st.ActiveSession != nil {
		sites = st.ActiveSession.BlockedSites
	}
	if len(sites) > 0 {
		fmt.Fprintf(w, "Blocked: %s\n", strings.Join(sites, ", "))
	} else {
		fmt.Fprintln(w, "Blocked: none")
	}

	if len(slots) == 0 {
		_, err := fmt.Fprintln(w, "no tasks planned")
		return err
	}

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.AddRow("", bold.Sprint("#"), bold.Sprint("START"), bold.Sprint("END"), bold.Sprint("MIN"), bold.Sprint("TITLE"))
	for i, slot := range slots {
		marker, title := "", slot.Title
		if i == currentIndex {
			marker, title = ">", current.Sprint(slot.Title)
		}
		tbl.AddRow(marker, i, slot.Start().Format("15:04"), slot.End().Format("15:04"), slot.DurationMinutes, title)
	}
	tbl.RightAlign(1)
	_, err := fmt.Fprintln(w, tbl)
	return err
}

func sessionHeadline(a *session.Active, now time.Time) string {
	entry, ok := a.CurrentEntry()
	if !ok {
		return "Session: no current phase"
	}
	done, total := a.Progress()
	kind := "Focus"
	if entry.IsBreak {
		kind = "Break"
	}
	return fmt.Sprintf("Session: %s %d of %d, %s, %s left", kind, done+1, total, entry.Title, schedule.FormatRemaining(a.PhaseRemaining(now)))
}

// outputJSON marshals v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var fErr *errors.FocusError
	if stderrors.As(err, &fErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", fErr.Code, fErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
