package buildsys

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"
	"mvdan.cc/sh/v3/syntax"
)

// TaskCmd is a single entry in a task's cmds list. It's either a shell script or a
// reference to another task.
type TaskCmd interface {
	SubTask() *Task
	Stmts(*syntax.Parser) ([]*syntax.Stmt, error)
}

// ScriptCmd is a shell command line
type ScriptCmd struct {
	TaskName string
	Index    int
	Content  string
}

// SubTask always returns nil since scripts don't reference tasks
func (s ScriptCmd) SubTask() *Task {
	return nil
}

// Stmts parses the script into shell statements
func (s ScriptCmd) Stmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	result, err := parser.Parse(strings.NewReader(s.Content), fmt.Sprintf("%s:%d", s.TaskName, s.Index))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", s.Content)
	}

	return result.Stmts, nil
}

// TaskRefCmd runs another (usually anonymous) task in place
type TaskRefCmd struct {
	Task *Task
}

func (t TaskRefCmd) SubTask() *Task {
	return t.Task
}

func (t TaskRefCmd) Stmts(*syntax.Parser) ([]*syntax.Stmt, error) {
	return nil, nil
}

// Task contains the processed values passed to task() by tasks.star
type Task struct {
	Short        string
	Desc         string
	Base         string
	Env          map[string]string
	Deps         []string
	Inputs       []string
	Outputs      []string
	SkipIfExists []string
	Cmds         []TaskCmd
	Hidden       bool
}

// TaskList maps task names to tasks
type TaskList map[string]*Task

// Names returns the sorted names of all visible tasks
func (l TaskList) Names() []string {
	names := make([]string, 0, len(l))
	for name, task := range l {
		if !task.Hidden {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names
}

// ScriptOption describes an option() declared by the script
type ScriptOption struct {
	DefaultValue string
	Help         string
}

// String returns a string representation of the task
func (t *Task) String() string {
	return fmt.Sprintf("<Task %s: %s>", t.Short, t.Desc)
}

// Type always returns "task"
func (t *Task) Type() string {
	return "task"
}

// Freeze doesn't do anything since tasks can't be modified from Starlark
func (t *Task) Freeze() {}

func (t *Task) Truth() starlark.Bool {
	return starlark.True
}

// Hash fails because tasks can't be used as dict keys
func (t *Task) Hash() (uint32, error) {
	return 0, eris.New("task is not a hashable type")
}

// Path is a normalized file system path returned by resolve_path()
type Path string

func (p Path) String() string {
	return starlark.String(p).String()
}

func (p Path) Type() string {
	return "path"
}

func (p Path) Freeze() {}

func (p Path) Truth() starlark.Bool {
	return p != ""
}

func (p Path) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

func (p Path) CompareSameType(op starsyntax.Token, other starlark.Value, depth int) (bool, error) {
	y := other.(Path)

	switch op {
	case starsyntax.EQL:
		return p == y, nil
	case starsyntax.NEQ:
		return p != y, nil
	case starsyntax.LT:
		return p < y, nil
	case starsyntax.LE:
		return p <= y, nil
	case starsyntax.GT:
		return p > y, nil
	case starsyntax.GE:
		return p >= y, nil
	}

	return false, eris.Errorf("unknown operator %v", op)
}

func (p Path) Index(i int) starlark.Value {
	return starlark.String(p[i])
}

func (p Path) Len() int {
	return len(p)
}

func (p Path) Slice(start, end, step int) starlark.Value {
	return starlark.String(p).Slice(start, end, step)
}

// stringOrPath converts strings and paths to a Go string
func stringOrPath(value starlark.Value) (string, bool) {
	switch value := value.(type) {
	case starlark.String:
		return value.GoString(), true
	case Path:
		return string(value), true
	}
	return "", false
}
