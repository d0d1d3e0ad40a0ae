// Package cmd implements the task command which runs targets from tasks.star
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iCMLab/stranding/pkg/buildsys"
)

// DefaultTarget runs when no target is passed
const DefaultTarget = "all"

// FindScript returns the closest tasks.star in the working directory or one of its parents
func FindScript() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "failed to retrieve the current working directory")
	}

	path := wd
	for {
		taskPath := filepath.Join(path, "tasks.star")
		_, err := os.Stat(taskPath)
		if err == nil {
			return taskPath, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", taskPath)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.New("no tasks.star file found")
		}
		path = parent
	}
}

func printTasks(cmd *cobra.Command, tasks buildsys.TaskList) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Task", "Description", "Depends on"})

	for _, name := range tasks.Names() {
		task := tasks[name]
		t.AppendRow(table.Row{name, task.Desc, strings.Join(task.Deps, ", ")})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}

// TaskCmd parses the closest tasks.star and runs the given targets in order
var TaskCmd = &cobra.Command{
	Use:   "task [target...] [option=value...]",
	Short: "Run targets from tasks.star",
	Long: `This command parses the closest tasks.star file and executes the given targets.
Without targets, the "all" target is run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := zerolog.Ctx(ctx)

		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		list, err := cmd.Flags().GetBool("list")
		if err != nil {
			return err
		}

		targets := make([]string, 0)
		options := make(map[string]string)
		for _, part := range args {
			if pos := strings.Index(part, "="); pos > -1 {
				options[part[:pos]] = part[pos+1:]
			} else {
				targets = append(targets, part)
			}
		}

		taskPath, err := FindScript()
		if err != nil {
			return err
		}
		projectRoot := filepath.Dir(taskPath)

		tasks, err := buildsys.Parse(ctx, taskPath, projectRoot, options)
		if err != nil {
			return eris.Wrap(err, "failed to parse tasks")
		}

		if list {
			printTasks(cmd, tasks)
			return nil
		}

		if len(targets) == 0 {
			if _, ok := tasks[DefaultTarget]; !ok {
				printTasks(cmd, tasks)
				return nil
			}
			targets = []string{DefaultTarget}
		}

		for _, name := range targets {
			err = buildsys.RunTask(ctx, projectRoot, name, tasks, buildsys.Options{
				DryRun: dryRun,
				Force:  force,
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
			})
			if err != nil {
				logger.Error().Str("task", name).Msgf("failed with exit code %d", buildsys.ExitCode(err))
				return err
			}
		}

		return nil
	},
}

func init() {
	TaskCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	TaskCmd.Flags().BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
	TaskCmd.Flags().BoolP("list", "l", false, "list the declared tasks")
}
