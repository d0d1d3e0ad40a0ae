package buildsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	tasks        []*Task
	initPhase    bool
}

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

func stringList(input *starlark.List, field string) ([]string, error) {
	if input == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	for idx := 0; idx < input.Len(); idx++ {
		item := input.Index(idx)
		value, ok := item.(starlark.String)
		if !ok {
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
		result = append(result, value.GoString())
	}
	return result, nil
}

// buildCall turns a list of command arguments into a shell call. Leading NAME=value
// items are turned into variable assignments.
func buildCall(parts starlark.Tuple, parser *syntax.Parser, base string) (*syntax.CallExpr, error) {
	assigns := make([]string, 0, len(parts))
	for _, part := range parts {
		value, ok := part.(starlark.String)
		if !ok || !strings.Contains(value.GoString(), "=") {
			break
		}
		assigns = append(assigns, value.GoString())
	}

	call := new(syntax.CallExpr)
	if len(assigns) > 0 {
		joined := strings.Join(assigns, " ")
		result, err := parser.Parse(strings.NewReader(joined), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joined)
		}

		if len(result.Stmts) != 1 || result.Stmts[0].Cmd == nil {
			return nil, eris.Errorf("malformed env vars %s", joined)
		}

		parsed, ok := result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || parsed.Assigns == nil {
			return nil, eris.Errorf("malformed env vars %s", joined)
		}
		call = parsed
	}

	call.Args = make([]*syntax.Word, 0, len(parts)-len(assigns))
	for _, arg := range parts[len(assigns):] {
		var encoded string

		switch value := arg.(type) {
		case starlark.String:
			encoded = value.GoString()
		case Path:
			encoded = string(value)

			// keep command lines short and avoid drive letters on Windows
			if filepath.IsAbs(encoded) {
				rel, err := filepath.Rel(base, encoded)
				if err == nil {
					encoded = rel
				}
			}

			encoded = filepath.ToSlash(encoded)
		default:
			return nil, eris.Errorf("found argument of type %s but only strings and paths are supported: %s", arg.Type(), arg.String())
		}

		var part syntax.WordPart
		if strings.ContainsAny(encoded, " $'\"*?") {
			part = &syntax.SglQuoted{Value: encoded}
		} else {
			part = &syntax.Lit{Value: encoded}
		}

		call.Args = append(call.Args, &syntax.Word{Parts: []syntax.WordPart{part}})
	}

	return call, nil
}

func logAt(thread *starlark.Thread) (string, starlark.CallFrame) {
	ctx := getCtx(thread)
	return simplifyPath(ctx, ctx.filepath), thread.CallFrame(1)
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	file, frame := logAt(thread)
	log(getCtx(thread).ctx).Info().
		Msgf("%s:%d:%d: %s", file, frame.Pos.Line, frame.Pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	file, frame := logAt(thread)
	log(getCtx(thread).ctx).Warn().
		Msgf("%s:%d:%d: %s", file, frame.Pos.Line, frame.Pos.Col, fmt.Sprintf(msg, args...))
}

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue string
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return starlark.String(defaultValue), nil
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps, skipIfExists, inputs, outputs, cmds *starlark.List
	var env *starlark.Dict

	ctx := getCtx(thread)
	if ctx.initPhase {
		return nil, eris.New("tasks can only be declared inside configure()")
	}

	task := &Task{Env: map[string]string{}}
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short?", &task.Short, "hidden?", &task.Hidden,
		"desc?", &task.Desc, "deps?", &deps, "base?", &task.Base, "skip_if_exists?", &skipIfExists,
		"inputs?", &inputs, "outputs?", &outputs, "env?", &env, "cmds?", &cmds)
	if err != nil {
		return nil, err
	}

	if task.Short == "" {
		task.Hidden = true
		task.Short = "auto#" + nanoid.New()
	}

	if task.Short == "configure" {
		return nil, eris.New(`the task name "configure" is reserved, please use a different name`)
	}

	if task.Base == "" {
		task.Base = "."
	}
	task.Base = normalizePath(ctx, task.Base)

	if task.Deps, err = stringList(deps, "deps"); err != nil {
		return nil, err
	}
	if task.SkipIfExists, err = stringList(skipIfExists, "skip_if_exists"); err != nil {
		return nil, err
	}
	if task.Inputs, err = stringList(inputs, "inputs"); err != nil {
		return nil, err
	}
	if task.Outputs, err = stringList(outputs, "outputs"); err != nil {
		return nil, err
	}

	if env != nil {
		for _, item := range env.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, eris.Errorf("found key type %s in env map but only strings are supported", item[0].Type())
			}

			value, ok := stringOrPath(item[1])
			if !ok {
				return nil, eris.Errorf("found value of type %s for key %s but only strings are supported", item[1].Type(), key.GoString())
			}
			task.Env[key.GoString()] = value
		}
	}

	task.Cmds, err = convertCmds(task, cmds)
	if err != nil {
		return nil, eris.Wrapf(err, "%s", fn.Name())
	}

	if len(task.Inputs) > 0 && len(task.Outputs) == 0 {
		warn(thread, "%s: found inputs but no outputs", task.Short)
	}

	ctx.tasks = append(ctx.tasks, task)
	return task, nil
}

func convertCmds(task *Task, cmds *starlark.List) ([]TaskCmd, error) {
	result := make([]TaskCmd, 0)
	if cmds == nil {
		return result, nil
	}

	buffer := strings.Builder{}
	printer := syntax.NewPrinter(syntax.Minify(true))
	parser := syntax.NewParser()

	for idx := 0; idx < cmds.Len(); idx++ {
		var parts starlark.Tuple

		switch value := cmds.Index(idx).(type) {
		case starlark.String:
			result = append(result, ScriptCmd{TaskName: task.Short, Index: idx, Content: value.GoString()})
			continue
		case *Task:
			result = append(result, TaskRefCmd{Task: value})
			continue
		case starlark.Tuple:
			parts = value
		case *starlark.List:
			parts = make(starlark.Tuple, value.Len())
			for i := range parts {
				parts[i] = value.Index(i)
			}
		default:
			return nil, eris.Errorf("unexpected type %s in command #%d. Only strings, tuples, lists and tasks are valid", value.Type(), idx)
		}

		call, err := buildCall(parts, parser, task.Base)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to process command #%d", idx)
		}

		buffer.Reset()
		err = printer.Print(&buffer, call)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to process command #%d", idx)
		}

		result = append(result, ScriptCmd{TaskName: task.Short, Index: idx, Content: buffer.String()})
	}

	return result, nil
}

func builtins() starlark.StringDict {
	return starlark.StringDict{
		"OS":              starlark.String(runtime.GOOS),
		"ARCH":            starlark.String(runtime.GOARCH),
		"info":            starlark.NewBuiltin("info", starInfo),
		"warn":            starlark.NewBuiltin("warn", starWarn),
		"error":           starlark.NewBuiltin("error", starError),
		"resolve_path":    starlark.NewBuiltin("resolve_path", resolvePath),
		"option":          starlark.NewBuiltin("option", option),
		"getenv":          starlark.NewBuiltin("getenv", getenv),
		"setenv":          starlark.NewBuiltin("setenv", setenv),
		"prepend_path":    starlark.NewBuiltin("prepend_path", prependPath),
		"read_yaml":       starlark.NewBuiltin("read_yaml", readYaml),
		"load_dotenv":     starlark.NewBuiltin("load_dotenv", loadDotenv),
		"isdir":           starlark.NewBuiltin("isdir", starIsdir),
		"isfile":          starlark.NewBuiltin("isfile", starIsfile),
		"execute":         starlark.NewBuiltin("execute", starExec),
		"package_version": starlark.NewBuiltin("package_version", packageVersion),
		"task":            starlark.NewBuiltin("task", task),
	}
}

func evalError(ctx *parserCtx, err error, action string) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return eris.Errorf("failed to %s %s:\n%s", action, simplifyPath(ctx, ctx.filepath), evalErr.Backtrace())
	}
	return eris.Wrapf(err, "failed to %s %s", action, simplifyPath(ctx, ctx.filepath))
}

// RunScript executes a task script and returns the declared options. If doConfigure is
// true, the script's configure function is called and the declared tasks are returned.
func RunScript(ctx context.Context, filename, projectRoot string, options map[string]string, doConfigure bool) (TaskList, map[string]ScriptOption, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, nil, err
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	pctx := &parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		tasks:        make([]*Task, 0),
		yamlCache:    make(map[string]interface{}),
		initPhase:    true,
	}
	thread.SetLocal("parserCtx", pctx)

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to read %s", filename)
	}

	globals, err := starlark.ExecFile(thread, simplifyPath(pctx, filename), script, builtins())
	if err != nil {
		return nil, nil, evalError(pctx, err, "execute")
	}

	tasks := TaskList{}
	if !doConfigure {
		return tasks, pctx.options, nil
	}

	configure, ok := globals["configure"].(starlark.Callable)
	if !ok {
		return nil, nil, eris.Errorf("%s did not declare a configure function", simplifyPath(pctx, filename))
	}

	pctx.initPhase = false
	_, err = starlark.Call(thread, configure, starlark.Tuple{}, nil)
	if err != nil {
		return nil, nil, evalError(pctx, err, "configure")
	}

	for _, task := range pctx.tasks {
		for name, value := range pctx.envOverrides {
			if _, present := task.Env[name]; !present {
				task.Env[name] = value
			}
		}

		if task.Hidden {
			continue
		}

		if _, dup := tasks[task.Short]; dup {
			return nil, nil, eris.Errorf("task %s was declared twice", task.Short)
		}
		tasks[task.Short] = task
	}

	return tasks, pctx.options, nil
}
