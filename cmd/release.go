package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/iCMLab/stranding/pkg"
	"github.com/iCMLab/stranding/pkg/release"
)

func newResolver(override string) *release.Resolver {
	return &release.Resolver{
		ProjectRoot: projectRoot,
		VersionFile: settings.Release.VersionFile,
		Binary:      settings.Release.Binary,
		Override:    override,
	}
}

func relativePath(item string) string {
	rel, err := filepath.Rel(projectRoot, item)
	if err != nil {
		return item
	}
	return rel
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the package version that releases are tagged with",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, err := cmd.Flags().GetBool("tag")
		if err != nil {
			return err
		}

		version, err := newResolver("").Resolve()
		if err != nil {
			return err
		}

		logger.Debug().Str("source", version.Source).Msg("Resolved version")
		if tag {
			fmt.Fprintln(cmd.OutOrStdout(), version.TagName(settings.Release.TagPrefix))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), version.Original())
		}
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean [path...]",
	Short: "Remove generated files",
	Long: `Removes the passed paths and every file or directory below the project root that
matches one of the patterns. Without arguments, the paths and patterns from stranding.toml
are used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		patterns, err := cmd.Flags().GetStringArray("pattern")
		if err != nil {
			return err
		}

		dryRun, err := cmd.Flags().GetBool("dry-run")
		if err != nil {
			return err
		}

		cleaner := &release.Cleaner{
			Root:     projectRoot,
			Paths:    args,
			Patterns: patterns,
			DryRun:   dryRun,
		}
		if len(args) == 0 && len(patterns) == 0 {
			cleaner.Paths = settings.Clean.Paths
			cleaner.Patterns = settings.Clean.Patterns
		}

		removed, err := cleaner.Clean(cmd.Context())
		for _, item := range removed {
			pkg.PrintSubtask(relativePath(item))
		}

		var removeErr *release.RemoveError
		if errors.As(err, &removeErr) {
			for _, item := range removeErr.Paths {
				pkg.PrintError(relativePath(item))
			}
		}
		return err
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Tag the current commit with the package version and push the tags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		override, _ := flags.GetString("version")
		remote, _ := flags.GetString("remote")
		prefix, _ := flags.GetString("prefix")
		message, _ := flags.GetString("message")
		noPush, _ := flags.GetBool("no-push")

		if !flags.Changed("remote") {
			remote = settings.Release.Remote
		}
		if !flags.Changed("prefix") {
			prefix = settings.Release.TagPrefix
		}

		loader := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		releaser := &release.Releaser{
			Git:      &release.Git{Dir: projectRoot},
			Resolver: newResolver(override),
			Remote:   remote,
			Prefix:   prefix,
			Message:  message,
			SkipPush: noPush,
			BeforePush: func(tag string) {
				loader.Suffix = fmt.Sprintf(" Pushing %s to %s", tag, remote)
				loader.Start()
			},
		}

		tag, err := releaser.Release(cmd.Context())
		loader.Stop()
		if err != nil {
			return err
		}

		pkg.PrintTask(fmt.Sprintf("Released %s", tag))
		return nil
	},
}

var sdistCmd = &cobra.Command{
	Use:   "sdist",
	Short: "Pack the files tracked by git into a .tar.xz source archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, err := cmd.Flags().GetString("output")
		if err != nil {
			return err
		}

		version, err := newResolver("").Resolve()
		if err != nil {
			return err
		}

		prefix := fmt.Sprintf("%s-%s", settings.Release.Name, strings.TrimPrefix(version.Original(), "v"))
		if output == "" {
			output = filepath.Join(projectRoot, "dist", prefix+".tar.xz")
		}

		archive := &release.SourceArchive{
			Git:    &release.Git{Dir: projectRoot},
			Prefix: prefix,
		}

		count, err := archive.Write(cmd.Context(), output)
		if err != nil {
			return err
		}

		pkg.PrintTask(fmt.Sprintf("Packed %d files into %s", count, output))
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("tag", false, "print the tag name instead of the plain version")

	cleanCmd.Flags().StringArrayP("pattern", "p", nil, "remove files and directories matching this pattern anywhere below the project root")
	cleanCmd.Flags().BoolP("dry-run", "n", false, "only list what would be removed")

	releaseCmd.Flags().String("version", "", "use this version instead of querying the package")
	releaseCmd.Flags().String("remote", "origin", "remote to push the tags to")
	releaseCmd.Flags().String("prefix", "v", "tag name prefix")
	releaseCmd.Flags().StringP("message", "m", "", "create an annotated tag with this message")
	releaseCmd.Flags().Bool("no-push", false, "only create the tag")

	sdistCmd.Flags().StringP("output", "o", "", "archive path (defaults to dist/<name>-<version>.tar.xz)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(sdistCmd)
}
