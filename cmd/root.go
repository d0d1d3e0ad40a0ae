package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/interp"

	"github.com/iCMLab/stranding/pkg"
	"github.com/iCMLab/stranding/pkg/buildsys"
	taskcmd "github.com/iCMLab/stranding/pkg/buildsys/cmd"
	"github.com/iCMLab/stranding/pkg/config"
)

var (
	settings    *config.Config
	projectRoot string
	logger      = newLogger(os.Stderr, false, zerolog.InfoLevel)
)

func newLogger(out io.Writer, json bool, level zerolog.Level) zerolog.Logger {
	if json {
		return zerolog.New(out).With().Timestamp().Logger().Level(level)
	}
	return zerolog.New(taskcmd.NewConsoleWriter(out)).Level(level)
}

var rootCmd = &cobra.Command{
	Use:   "stranding",
	Short: "Strand genotyping flanks against the human reference genome",
	Long: `stranding determines on which strand of the reference genome a pair of flanking
sequences lies. It also bundles the project's task runner and release tooling.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		root, err := pkg.GetProjectRoot(".")
		if err != nil {
			root, err = os.Getwd()
			if err != nil {
				return eris.Wrap(err, "failed to retrieve the current working directory")
			}
		}
		projectRoot = root

		cfg, err := config.Load(root)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("json") {
			cfg.Log.JSON, _ = cmd.Flags().GetBool("json")
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
			if err = cfg.Validate(); err != nil {
				return err
			}
		}

		settings = cfg
		logger = newLogger(cmd.ErrOrStderr(), cfg.Log.JSON, cfg.LogLevel())
		cmd.SetContext(buildsys.WithLogger(cmd.Context(), &logger))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "log JSON lines instead of coloured messages")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(taskcmd.TaskCmd)
}

// Execute runs the CLI and exits with the status of the failed shell command or 1 for
// any other error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		if _, ok := interp.IsExitStatus(err); !ok {
			logger.Error().Err(err).Msg("Command failed")
		}
		os.Exit(buildsys.ExitCode(err))
	}
}
