package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// execWaitDelay bounds how long Wait keeps reading output after the process
// has exited or been killed.
const execWaitDelay = 500 * time.Millisecond

type execTask struct {
	program        string
	args           []string
	command        string
	dir            string
	outputProperty string
	resultProperty string
	timeout        time.Duration
	location       Location
}

var execTaskBuilder = &TaskBuilder{
	Name:  "exec",
	Attrs: []string{"program", "commandline", "command", "dir", "output", "resultproperty", "timeout"},
	Build: func(ctx *TaskContext) (Task, error) {
		t := &execTask{
			program:        ctx.Attrs.String("program", ""),
			command:        ctx.Attrs.String("command", ctx.Text),
			dir:            ctx.Project.ResolvePath(ctx.Attrs.String("dir", ".")),
			outputProperty: ctx.Attrs.String("output", ""),
			resultProperty: ctx.Attrs.String("resultproperty", ""),
			location:       ctx.Element.Location,
		}
		t.args = strings.Fields(ctx.Attrs.String("commandline", ""))

		switch {
		case t.program == "" && strings.TrimSpace(t.command) == "":
			return nil, NewBuildFailure(t.location, "<exec> requires either 'program' or 'command'")
		case t.program != "" && ctx.Attrs.Has("command"):
			return nil, NewBuildFailure(t.location, "<exec> accepts 'program' or 'command', not both")
		}
		for _, name := range []string{t.outputProperty, t.resultProperty} {
			if name != "" && !ValidPropertyName(name) {
				return nil, NewBuildFailure(t.location, "'%s' is not a valid property name", name)
			}
		}

		ms, err := ctx.Attrs.Int("timeout", 0)
		if err != nil {
			return nil, err
		}
		t.timeout = time.Duration(ms) * time.Millisecond
		return t, nil
	},
}

// shellCommand runs a command line through the platform shell.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		// #nosec G204 - running user-defined build commands is the point
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	// #nosec G204 - running user-defined build commands is the point
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}

// Execute starts the process and streams stdout and stderr to the log as
// they arrive. It returns once the process has exited and both streams are
// drained. On timeout the whole process group is killed, and output still
// held open by stray children is abandoned after execWaitDelay.
func (t *execTask) Execute(p *Project) error {
	ctx := context.Background()
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if t.program != "" {
		// #nosec G204 - running user-defined build commands is the point
		cmd = exec.CommandContext(ctx, t.program, t.args...)
	} else {
		cmd = shellCommand(ctx, t.command)
	}
	cmd.Dir = t.dir
	cmd.WaitDelay = execWaitDelay
	killProcessGroupOnCancel(cmd)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout, cmd.Stderr = stdoutW, stderrW
	closeWriters := func() {
		_ = stdoutW.Close()
		_ = stderrW.Close()
	}

	p.logTask(slog.LevelDebug, "exec", t.describe())
	if err := cmd.Start(); err != nil {
		closeWriters()
		return WrapBuildFailure(t.location, err, "cannot start '%s'", t.describe())
	}

	var captured strings.Builder
	var g errgroup.Group
	g.Go(func() error {
		return streamLines(stdoutR, func(line string) {
			p.logTask(slog.LevelInfo, "exec", line)
			if t.outputProperty != "" {
				captured.WriteString(line)
				captured.WriteByte('\n')
			}
		})
	})
	g.Go(func() error {
		return streamLines(stderrR, func(line string) {
			p.logTask(slog.LevelWarn, "exec", line)
		})
	})
	runErr := cmd.Wait()
	closeWriters()
	streamErr := g.Wait()

	if errors.Is(runErr, exec.ErrWaitDelay) {
		p.logTask(slog.LevelWarn, "exec", "output was still open after the process exited", "command", t.describe())
		runErr = nil
	}

	if t.outputProperty != "" {
		p.props.Set(t.outputProperty, strings.TrimRight(captured.String(), "\n"))
	}
	if t.resultProperty != "" {
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		p.props.Set(t.resultProperty, strconv.Itoa(code))
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return NewBuildFailure(t.location, "'%s' timed out after %s", t.describe(), t.timeout)
	case runErr != nil:
		return WrapBuildFailure(t.location, runErr, "'%s' failed", t.describe())
	case streamErr != nil:
		return WrapBuildFailure(t.location, streamErr, "reading output of '%s'", t.describe())
	}
	return nil
}

func (t *execTask) describe() string {
	if t.program == "" {
		return t.command
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s", t.program, strings.Join(t.args, " ")))
}

// streamLines calls emit for each line of r. After a read error the rest of
// r is discarded so the writer never blocks.
func streamLines(r io.Reader, emit func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}
