package buildsys

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/iCMLab/stranding/pkg/release"
)

func resolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ctx := getCtx(thread)
	base := ""

	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		if key != "base" {
			return nil, eris.Errorf("%s: unexpected keyword argument %s", fn.Name(), key)
		}

		value, ok := stringOrPath(kv[1])
		if !ok {
			return nil, eris.Errorf("%s: invalid type %s for keyword base, expected string or path", fn.Name(), kv[1].Type())
		}
		base = normalizePath(ctx, value)
	}

	if len(args) < 1 {
		return nil, eris.Errorf("%s: expects at least one argument", fn.Name())
	}

	parts := make([]string, len(args))
	for idx, arg := range args {
		value, ok := arg.(starlark.String)
		if !ok {
			return nil, eris.Errorf("%s: only accepts string arguments but argument %d was a %s", fn.Name(), idx, arg.Type())
		}
		parts[idx] = value.GoString()
	}

	result := normalizePath(ctx, parts...)
	if base != "" {
		var err error
		result, err = filepath.Rel(base, result)
		if err != nil {
			return nil, err
		}
	}

	return Path(result), nil
}

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	info(thread, "%s", message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	warn(thread, "%s", message)
	return starlark.None, nil
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var fallback string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key, &fallback); err != nil {
		return nil, err
	}

	value, ok := getCtx(thread).envOverrides[key]
	if !ok {
		value, ok = os.LookupEnv(key)
	}
	if !ok {
		value = fallback
	}

	return starlark.String(value), nil
}

func setenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value); err != nil {
		return nil, err
	}

	str, ok := stringOrPath(value)
	if !ok {
		return nil, eris.Errorf("%s: got %s, want string or path", fn.Name(), value.Type())
	}

	getCtx(thread).envOverrides[key] = str
	return starlark.True, nil
}

func prependPath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 1 || len(kwargs) != 0 {
		return nil, eris.Errorf("%s: got %d arguments, want 1", fn.Name(), len(args)+len(kwargs))
	}

	dir, ok := stringOrPath(args[0])
	if !ok {
		return nil, eris.Errorf("%s: got %s, want path or string", fn.Name(), args[0].Type())
	}

	ctx := getCtx(thread)
	path, ok := ctx.envOverrides["PATH"]
	if !ok {
		path = os.Getenv("PATH")
	}

	ctx.envOverrides["PATH"] = normalizePath(ctx, dir) + string(os.PathListSeparator) + path
	return starlark.String(ctx.envOverrides["PATH"]), nil
}

func lookupKey(doc interface{}, key string) (interface{}, bool) {
	value := doc
	for _, part := range strings.Split(key, ".") {
		switch current := value.(type) {
		case map[string]interface{}:
			next, ok := current[part]
			if !ok {
				return nil, false
			}
			value = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(current) {
				return nil, false
			}
			value = current[idx]
		default:
			return nil, false
		}
	}
	return value, value != nil
}

func readYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file string
	var key string
	var defaultValue starlark.Value = starlark.None

	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &file, &key, &defaultValue); err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	file = normalizePath(ctx, file)

	doc, loaded := ctx.yamlCache[file]
	if !loaded {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to open file %s", file)
		}

		err = yaml.Unmarshal(content, &doc)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse file %s", file)
		}
		ctx.yamlCache[file] = doc
	}

	value, found := lookupKey(doc, key)
	if !found {
		return defaultValue, nil
	}
	return toStarlark(value)
}

func loadDotenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file string
	var required bool
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "file?", &file, "required?", &required); err != nil {
		return nil, err
	}

	if file == "" {
		file = ".env"
	}

	ctx := getCtx(thread)
	file = normalizePath(ctx, file)

	values, err := godotenv.Read(file)
	if err != nil {
		if !required && eris.Is(err, os.ErrNotExist) {
			return starlark.False, nil
		}
		return nil, eris.Wrapf(err, "failed to load %s", simplifyPath(ctx, file))
	}

	for key, value := range values {
		ctx.envOverrides[key] = value
	}
	return starlark.True, nil
}

func starIsdir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &dir); err != nil {
		return nil, err
	}

	info, err := os.Stat(normalizePath(getCtx(thread), dir))
	return starlark.Bool(err == nil && info.IsDir()), nil
}

func starIsfile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &file); err != nil {
		return nil, err
	}

	info, err := os.Stat(normalizePath(getCtx(thread), file))
	return starlark.Bool(err == nil && info.Mode().IsRegular()), nil
}

func starExec(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var command starlark.Value
	var format string
	var showError bool

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "command", &command, "format?", &format, "show_error?", &showError)
	if err != nil {
		return nil, err
	}

	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return nil, eris.Errorf("unsupported format %s", format)
	}

	ctx := getCtx(thread)
	parser := syntax.NewParser()
	base := filepath.Dir(ctx.filepath)

	var nodes []syntax.Node
	switch command := command.(type) {
	case starlark.String:
		stmts, err := ScriptCmd{TaskName: fn.Name(), Content: command.GoString()}.Stmts(parser)
		if err != nil {
			return nil, err
		}

		for _, stmt := range stmts {
			nodes = append(nodes, stmt)
		}
	case starlark.Tuple:
		call, err := buildCall(command, parser, base)
		if err != nil {
			return nil, err
		}

		nodes = []syntax.Node{call}
	default:
		return nil, eris.Errorf("unexpected type %s for command parameter, only strings and tuples are valid", command.Type())
	}

	output := strings.Builder{}
	var errOut io.Writer
	if showError {
		errOut = os.Stderr
	}

	runner, err := interp.New(
		interp.Dir(base),
		interp.Env(expand.ListEnviron(mergeEnv(ctx.envOverrides)...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, &output, errOut),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}

	for _, node := range nodes {
		err := runner.Run(ctx.ctx, node)
		if err != nil {
			if showError {
				log(ctx.ctx).Error().Err(err).Msg("shell error")
			}
			return starlark.False, nil
		}
	}

	if format == "json" {
		var decoded interface{}
		err = json.Unmarshal([]byte(output.String()), &decoded)
		if err != nil {
			return nil, eris.Wrap(err, "failed to parse command output")
		}

		return toStarlark(decoded)
	}

	return starlark.String(output.String()), nil
}

func packageVersion(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	versionFile := "VERSION"
	binary := "stranding"
	prefix := ""

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "version_file?", &versionFile, "binary?", &binary, "prefix?", &prefix)
	if err != nil {
		return nil, err
	}

	resolver := &release.Resolver{
		ProjectRoot: getCtx(thread).projectRoot,
		VersionFile: versionFile,
		Binary:      binary,
	}

	version, err := resolver.Resolve()
	if err != nil {
		return nil, err
	}

	return starlark.String(version.TagName(prefix)), nil
}
