package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"pkt.systems/psi"
	"pkt.systems/pslog"

	"github.com/hpungsan/studyfocus/internal/blocking"
	"github.com/hpungsan/studyfocus/internal/config"
	"github.com/hpungsan/studyfocus/internal/db"
	"github.com/hpungsan/studyfocus/internal/instance"
	"github.com/hpungsan/studyfocus/internal/mcp"
	"github.com/hpungsan/studyfocus/internal/ops"
	"github.com/hpungsan/studyfocus/internal/state"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "mcp": true, "status": true, "ping": true,
	"plan": true, "notes": true, "start": true, "end": true,
	"next": true, "update": true, "rules": true,
	"export": true, "import": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false // No args → MCP server
	}
	arg := args[1]
	if cliCommands[arg] {
		return true
	}
	// Global flags ahead of the subcommand
	if len(arg) > 1 && arg[0] == '-' {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
       _             _        __
   ___| |_ _   _  __| |_   _ / _| ___   ___ _   _ ___
  / __| __| | | |/ _` + "`" + ` | | | | |_ / _ \ / __| | | / __|
  \__ \ |_| |_| | (_| | |_| |  _| (_) | (__| |_| \__ \
  |___/\__|\__,_|\__,_|\__, |_|  \___/ \___|\__,_|___/
                       |___/
  Focus sessions with breaks and site blocking

  Usage: studyfocus <command> [options]
         studyfocus --help

  MCP server mode requires piped input.`)
}

// env holds the process-wide dependencies shared by every command.
// serverURL is set when a serve process owns baseDir; requests then go
// there instead of to svc.
type env struct {
	db        *sql.DB
	cfg       *config.Config
	svc       *ops.Service
	lock      *instance.Lock
	serverURL string
}

// Close releases the state store, the base directory lock and the database.
func (e *env) Close() error {
	if e == nil {
		return nil
	}
	if e.svc != nil {
		_ = e.svc.Store().Close()
	}
	if e.lock != nil {
		_ = e.lock.Release()
	}
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// openEnv initializes storage under baseDir, loads config (global plus the
// nearest repo config above startDir) and restores the shared state. When
// a server already owns baseDir the state is left to it.
func openEnv(ctx context.Context, baseDir, startDir string) (*env, error) {
	cfg, err := config.LoadWithRepo(baseDir, startDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)

	store, err := state.Open(cfg, baseDir, database)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	rules := blocking.NewManager(db.NewRuleStore(database), cfg.BlockPagePath)
	svc := ops.NewService(store, rules, cfg)
	e := &env{db: database, cfg: cfg, svc: svc, lock: instance.New(baseDir)}

	if e.serverURL, err = e.lock.Join(); err != nil {
		_ = e.Close()
		return nil, err
	}
	if e.serverURL != "" {
		pslog.Ctx(ctx).Debug("routing to running server", "url", e.serverURL)
		return e, nil
	}
	if _, err := svc.Bootstrap(ctx); err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("failed to restore state: %w", err)
	}
	return e, nil
}

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	args := os.Args

	// No args + interactive terminal → show banner and exit
	if len(args) < 2 && isTerminal() {
		printBanner()
		return 0
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion(args) {
		if err := newCLIApp(nil).RunContext(ctx, args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode(args) && len(args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", args[1])
		fmt.Fprintf(os.Stderr, "Run 'studyfocus --help' for usage.\n")
		return 1
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		return 1
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = homeDir
	}

	e, err := openEnv(ctx, filepath.Join(homeDir, ops.BaseDirName), cwd)
	if err != nil {
		pslog.Ctx(ctx).With("err", err).Error("studyfocus startup failed")
		return 1
	}
	defer func() { _ = e.Close() }()

	if isCLIMode(args) {
		if err := newCLIApp(e).RunContext(ctx, args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	// MCP server mode (default)
	if err := mcp.Run(ctx, mcp.NewServer(routeDispatcher(e, e.serverURL), e.cfg, Version)); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("mcp server failed")
		return 1
	}
	return 0
}
