package buildsys

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/iCMLab/stranding/pkg"
)

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		// false while a task is running, true once it finished
		runTasks    map[string]bool
		projectRoot string
		stdout      io.Writer
		stderr      io.Writer
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

// selfExecutable returns the binary that handles the tool, rm, mv and mkdir commands
var selfExecutable = os.Executable

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "tool", "rm", "mv", "mkdir":
			// always use our own implementation for these so they behave the same on every
			// platform
			self, err := selfExecutable()
			if err != nil {
				return eris.Wrap(err, "failed to locate the stranding binary")
			}

			if args[0] == "tool" {
				args = append([]string{self}, args[1:]...)
			} else {
				args = append([]string{self}, args...)
			}
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func resolvePatterns(ctx context.Context, base string, patterns []string) ([]string, error) {
	pctx := &parserCtx{
		filepath:    "invalid",
		projectRoot: getRuntimeCtx(ctx).projectRoot,
	}

	result := []string{}
	for _, item := range patterns {
		item = normalizePath(pctx, base, item)

		// keep the project root out of the pattern
		var matches []string
		var err error
		if rel, relErr := filepath.Rel(pctx.projectRoot, item); relErr == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			matches, err = pkg.GlobIn(pctx.projectRoot, rel)
		} else {
			matches, err = pkg.Glob(item)
		}
		if err != nil {
			return nil, err
		}
		result = append(result, matches...)
	}

	return result, nil
}

// ExitCode returns the exit status of the shell command that caused err or 1 for any
// other error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	if status, ok := interp.IsExitStatus(err); ok {
		return int(status)
	}
	return 1
}

// Options controls a RunTask call
type Options struct {
	DryRun bool
	Force  bool
	Stdout io.Writer
	Stderr io.Writer
}

// RunTask executes the given task after its dependencies. Errors returned by failing
// shell commands are passed through unwrapped so ExitCode() can recover their status.
func RunTask(ctx context.Context, projectRoot, name string, tasks TaskList, opts Options) error {
	rctx := runtimeCtx{
		projectRoot: projectRoot,
		runTasks:    make(map[string]bool),
		stdout:      opts.Stdout,
		stderr:      opts.Stderr,
	}
	if rctx.stdout == nil {
		rctx.stdout = os.Stdout
	}
	if rctx.stderr == nil {
		rctx.stderr = os.Stderr
	}

	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)
	task, found := tasks[name]
	if !found {
		return eris.Errorf("Task %s not found", name)
	}

	return runTaskInternal(ctx, task, tasks, opts.DryRun, opts.Force)
}

// isUpToDate checks skip_if_exists and the input/output timestamps
func isUpToDate(ctx context.Context, task *Task) (bool, error) {
	logger := log(ctx).With().Str("task", task.Short).Logger()

	skipList, err := resolvePatterns(ctx, task.Base, task.SkipIfExists)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve skip_if_exists")
	}

	found := 0
	for _, item := range skipList {
		_, err := os.Stat(item)
		if err == nil {
			found++
		} else if !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "Failed to check %s", item)
		}
	}

	if found > 0 && found == len(skipList) {
		logger.Info().Msg("skipped because all skip files exist")
		return true, nil
	}

	inputs, err := resolvePatterns(ctx, task.Base, task.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	var newestInput time.Time
	for _, item := range inputs {
		info, err := os.Stat(item)
		if err != nil {
			return false, eris.Wrapf(err, "Failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() {
		return false, nil
	}

	outputs, err := resolvePatterns(ctx, task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve outputs")
	}

	if len(outputs) == 0 {
		return false, nil
	}

	var newestOutput time.Time
	oldestOutput := time.Now()
	for _, item := range outputs {
		info, err := os.Stat(item)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, eris.Wrapf(err, "Failed to check output %s", item)
		}

		mt := info.ModTime()
		if mt.After(newestOutput) {
			newestOutput = mt
		}
		if mt.Before(oldestOutput) {
			oldestOutput = mt
		}
	}

	if newestOutput.Sub(oldestOutput) > 10*time.Minute {
		logger.Warn().Msgf("oldest output is %.1f minutes older than the newest output", newestOutput.Sub(oldestOutput).Minutes())
	}

	if oldestOutput.After(newestInput) {
		logger.Info().Msgf("nothing to do (output is %.1f seconds newer)", oldestOutput.Sub(newestInput).Seconds())
		return true, nil
	}
	return false, nil
}

func runTaskInternal(ctx context.Context, task *Task, tasks TaskList, dryRun, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rctx := getRuntimeCtx(ctx)
	done, seen := rctx.runTasks[task.Short]
	if seen {
		if done {
			log(ctx).Debug().Msgf("Task %s already run", task.Short)
			return nil
		}
		return eris.Errorf("Task %s was called recursively", task.Short)
	}

	rctx.runTasks[task.Short] = false

	for _, dep := range task.Deps {
		depTask, ok := tasks[dep]
		if !ok {
			return eris.Errorf("Task %s not found (required by %s)", dep, task.Short)
		}

		err := runTaskInternal(ctx, depTask, tasks, dryRun, false)
		if err != nil {
			log(ctx).Error().Str("task", task.Short).Msgf("Dependency %s failed", dep)
			return err
		}
	}

	if !force {
		upToDate, err := isUpToDate(ctx, task)
		if err != nil {
			return err
		}

		if upToDate {
			rctx.runTasks[task.Short] = true
			return nil
		}
	}

	runner, err := interp.New(
		interp.Dir(task.Base),
		interp.Env(expand.ListEnviron(mergeEnv(task.Env)...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, rctx.stdout, rctx.stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))
	buffer := strings.Builder{}

	for _, item := range task.Cmds {
		if subTask := item.SubTask(); subTask != nil {
			err = runTaskInternal(ctx, subTask, tasks, dryRun, force)
			if err != nil {
				return err
			}
			continue
		}

		stmts, err := item.Stmts(parser)
		if err != nil {
			return eris.Wrap(err, "failed to parse shell script")
		}

		for _, stmt := range stmts {
			buffer.Reset()
			_ = printer.Print(&buffer, stmt)
			log(ctx).Info().
				Str("task", task.Short).
				Bool("command", true).
				Msg(buffer.String())

			if dryRun {
				continue
			}

			err = runner.Run(ctx, stmt)
			if err != nil {
				return err
			}

			if runner.Exited() {
				rctx.runTasks[task.Short] = true
				return nil
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	rctx.runTasks[task.Short] = true
	return nil
}
