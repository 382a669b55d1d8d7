package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/agilira/orpheus/pkg/orpheus"
)

// buildOptions carries what the command line says about one invocation.
type buildOptions struct {
	file      string
	targets   []string
	overrides []Override
	logLevel  string
	logFormat string
	noColor   bool
}

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args[1:]); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func newApp(stdout, stderr io.Writer) *orpheus.App {
	app := orpheus.New("mason").
		SetDescription("Declarative YAML build runner").
		SetVersion(Version)

	buildCmd := withCommonFlags(orpheus.NewCommand("build", "Run targets (the default target when none are named)")).
		SetHandler(func(ctx *orpheus.Context) error {
			opts, err := optionsFrom(ctx, "build")
			if err != nil {
				return err
			}
			return commandError("build", runBuild(opts, stderr))
		})

	listCmd := withCommonFlags(orpheus.NewCommand("list", "List the targets of a build file")).
		AddFlag("format", "", "table", "Output format: table, json, or yaml").
		SetHandler(func(ctx *orpheus.Context) error {
			opts, err := optionsFrom(ctx, "list")
			if err != nil {
				return err
			}
			return commandError("list", runList(opts, ctx.GetFlagString("format"), stdout, stderr))
		})

	validateCmd := withCommonFlags(orpheus.NewCommand("validate", "Load a build file and check its target graph")).
		SetHandler(func(ctx *orpheus.Context) error {
			opts, err := optionsFrom(ctx, "validate")
			if err != nil {
				return err
			}
			return commandError("validate", runValidate(opts, stdout, stderr))
		})

	planCmd := withCommonFlags(orpheus.NewCommand("plan", "Print the order in which targets would run")).
		SetHandler(func(ctx *orpheus.Context) error {
			opts, err := optionsFrom(ctx, "plan")
			if err != nil {
				return err
			}
			return commandError("plan", runPlan(opts, stdout, stderr))
		})

	watchCmd := withCommonFlags(orpheus.NewCommand("watch", "Rebuild whenever files under the project change")).
		AddFlag("include", "i", "", "Comma-separated file patterns that trigger a rebuild").
		AddIntFlag("debounce", "", int(defaultDebounce/time.Millisecond), "Milliseconds to wait for changes to settle").
		SetHandler(func(ctx *orpheus.Context) error {
			opts, err := optionsFrom(ctx, "watch")
			if err != nil {
				return err
			}
			debounce := time.Duration(ctx.GetFlagInt("debounce")) * time.Millisecond
			sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return commandError("watch", runWatch(sigCtx, opts, splitList(ctx.GetFlagString("include")), debounce, stderr))
		})

	app.AddCommand(buildCmd)
	app.AddCommand(listCmd)
	app.AddCommand(validateCmd)
	app.AddCommand(planCmd)
	app.AddCommand(watchCmd)
	return app
}

func withCommonFlags(cmd *orpheus.Command) *orpheus.Command {
	return cmd.
		AddFlag("file", "f", DefaultBuildFile, "Build file to load").
		AddFlag("define", "D", "", "Read-only properties as name=value[,name=value...]").
		AddFlag("log-level", "", "info", "Log level: debug, info, warn, or error").
		AddFlag("log-format", "", "console", "Log format: console, text, or json").
		AddBoolFlag("no-color", "", false, "Disable colored output")
}

func optionsFrom(ctx *orpheus.Context, command string) (buildOptions, error) {
	overrides, err := ParseOverrides(ctx.GetFlagString("define"))
	if err != nil {
		return buildOptions{}, orpheus.ValidationError(command, err.Error())
	}
	return buildOptions{
		file:      ctx.GetFlagString("file"),
		targets:   ctx.Args,
		overrides: overrides,
		logLevel:  ctx.GetFlagString("log-level"),
		logFormat: ctx.GetFlagString("log-format"),
		noColor:   ctx.GetFlagBool("no-color"),
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (o buildOptions) logger(w io.Writer) *slog.Logger {
	return newLogger(o.logLevel, o.logFormat, w, o.noColor)
}

func (o buildOptions) load(logger *slog.Logger, extra ...ProjectOption) (*Project, error) {
	popts := append([]ProjectOption{WithLogger(logger)}, extra...)
	return LoadProject(o.file, WithOverrides(o.overrides...), WithProjectOptions(popts...))
}

// runBuild loads the build file and runs the requested targets, reporting the
// outcome on the log.
func runBuild(opts buildOptions, logOut io.Writer) error {
	logger := opts.logger(logOut)
	p, err := opts.load(logger, WithListener(buildSummary(logger)))
	if err != nil {
		return err
	}
	return p.Run(opts.targets...)
}

// buildSummary logs the result line once the whole build is over.
func buildSummary(logger *slog.Logger) Listener {
	return ListenerFunc(func(e BuildEvent) {
		if e.Kind != BuildFinished {
			return
		}
		elapsed := e.Duration.Round(time.Millisecond)
		if e.Err != nil {
			logger.Error(fmt.Sprintf("BUILD FAILED (%s)", elapsed))
			return
		}
		logger.Info(fmt.Sprintf("BUILD SUCCEEDED (%s)", elapsed))
	})
}

func runList(opts buildOptions, format string, out, logOut io.Writer) error {
	p, err := opts.load(opts.logger(logOut))
	if err != nil {
		return err
	}
	return listTargets(p, format, out, opts.noColor || !isTerminal(out))
}

func runValidate(opts buildOptions, out, logOut io.Writer) error {
	p, err := opts.load(opts.logger(logOut))
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s: OK (%d targets)\n", p.BuildFile(), p.Targets().Len())
	return nil
}

func runPlan(opts buildOptions, out, logOut io.Writer) error {
	p, err := opts.load(opts.logger(logOut))
	if err != nil {
		return err
	}
	return printPlan(p, opts.targets, out)
}

// runWatch rebuilds on every settled change under the build file's directory
// until ctx is done. A failed build is logged and watching continues.
func runWatch(ctx context.Context, opts buildOptions, patterns []string, debounce time.Duration, logOut io.Writer) error {
	logger := opts.logger(logOut)
	file, err := filepath.Abs(opts.file)
	if err != nil {
		return err
	}
	if _, err := os.Stat(file); err != nil {
		return err
	}

	w, err := newRebuildWatcher(filepath.Dir(file), patterns, debounce, logger)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	return w.Run(ctx, func() {
		if err := runBuild(opts, logOut); err != nil {
			logger.Error(err.Error())
		}
	})
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return 1
}
