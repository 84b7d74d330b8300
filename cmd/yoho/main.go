// Command yoho queries a gridded conflict forecast API from the terminal or
// serves the query engine to MCP clients over stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashita-ai/yoho"
	"github.com/ashita-ai/yoho/internal/model"
	"github.com/ashita-ai/yoho/internal/render"
)

// version is set at build time via -ldflags.
var version = "dev"

// errUsage signals a command-line mistake; usage has already been printed.
var errUsage = errors.New("usage")

const usage = `usage: yoho <command> [flags]

commands:
  options   list the selectable values for a scope (and a country's cells)
  query     retrieve forecasts for a selection
  mcp       serve the query engine to an MCP client over stdio
  version   print the version

Run "yoho <command> -h" for the flags of a command.
`

func main() {
	os.Exit(run0())
}

func run0() int {
	// stdout carries data (and the MCP protocol); logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("YOHO_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			return 2
		}
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "version":
		fmt.Fprintln(stdout, version)
		return nil
	case "options":
		return runOptions(ctx, logger, rest, stdout, stderr)
	case "query":
		return runQuery(ctx, logger, rest, stdout, stderr)
	case "mcp":
		return runMCP(ctx, logger, rest, stdin, stdout, stderr)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprintf(stderr, "yoho: unknown command %q\n\n%s", cmd, usage)
		return errUsage
	}
}

// scopeFlags registers -run, -loa and -violence. Empty values keep the
// configured default.
type scopeFlags struct {
	run, loa, violence string
}

func (s *scopeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.run, "run", "", "forecast run (default from YOHO_DEFAULT_RUN)")
	fs.StringVar(&s.loa, "loa", "", "level of analysis (default from YOHO_DEFAULT_LOA)")
	fs.StringVar(&s.violence, "violence", "", "violence type (default from YOHO_DEFAULT_VIOLENCE_TYPE)")
}

// apply overlays the flags on the app's current scope.
func (s *scopeFlags) apply(app *yoho.App) error {
	scope := app.Snapshot().Descriptor.Scope()
	for field, v := range map[model.Field]string{
		model.FieldRun:          s.run,
		model.FieldLoA:          s.loa,
		model.FieldViolenceType: s.violence,
	} {
		if v == "" {
			continue
		}
		next, err := scope.With(field, v)
		if err != nil {
			return err
		}
		scope = next
	}
	return app.Engine().SetScope(scope)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("yoho "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errUsage
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(fs.Output(), "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return errUsage
	}
	return nil
}

// startApp builds the App and issues the initial option resolution.
func startApp(ctx context.Context, logger *slog.Logger, scope *scopeFlags) (*yoho.App, error) {
	app, err := yoho.New(ctx, yoho.WithLogger(logger), yoho.WithVersion(version))
	if err != nil {
		return nil, err
	}
	if scope != nil {
		if err := scope.apply(app); err != nil {
			_ = app.Close(context.Background())
			return nil, err
		}
	}
	if err := app.Start(ctx); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func runOptions(ctx context.Context, logger *slog.Logger, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("options", stderr)
	var scope scopeFlags
	scope.register(fs)
	country := fs.String("country", "", "also list the grid cells of this country id")
	formatName := fs.String("format", "table", "output format: table, json or ndjson")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	format, err := render.ParseFormat(*formatName)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	app, err := startApp(ctx, logger, &scope)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	snap, err := app.Settle(ctx)
	if err != nil {
		return err
	}
	if *country != "" {
		if err := app.Engine().SetCountry(model.ID(*country)); err != nil {
			return err
		}
		if snap, err = app.Settle(ctx); err != nil {
			return err
		}
	}
	return render.Options(stdout, format, snap)
}

func runQuery(ctx context.Context, logger *slog.Logger, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("query", stderr)
	var scope scopeFlags
	scope.register(fs)
	months := fs.String("months", "", "comma-separated month ids")
	country := fs.String("country", "", "country id")
	cells := fs.String("cells", "", "comma-separated PRIO-GRID cell ids (requires -country)")
	metrics := fs.String("metrics", "", "comma-separated metric names")
	formatName := fs.String("format", "table", "output format: table, json or ndjson")
	export := fs.Bool("export", false, "send the result to the configured export targets")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	format, err := render.ParseFormat(*formatName)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	app, err := startApp(ctx, logger, &scope)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	if *export && !app.ExportsEnabled() {
		return fmt.Errorf("-export given but no export target is configured (set YOHO_EXPORT_SQLITE_PATH, DATABASE_URL or YOHO_MINIO_ENDPOINT)")
	}

	result, err := app.Query(ctx, yoho.Request{
		Months:  model.IDs(render.SplitList(*months)...),
		Country: model.ID(strings.TrimSpace(*country)),
		Cells:   model.IDs(render.SplitList(*cells)...),
		Metrics: render.SplitList(*metrics),
	})
	if err != nil {
		return err
	}
	if err := render.Result(stdout, format, result); err != nil {
		return err
	}

	if *export {
		if _, err := app.Export(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

func runMCP(ctx context.Context, logger *slog.Logger, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("mcp", stderr)
	var scope scopeFlags
	scope.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	app, err := startApp(ctx, logger, &scope)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	return app.ServeMCP(ctx, stdin, stdout)
}
