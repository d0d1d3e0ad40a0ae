package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/iCMLab/stranding/pkg"
	"github.com/iCMLab/stranding/pkg/seqref"
)

func getProgressBar(length int64, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

var fetchReferenceCmd = &cobra.Command{
	Use:   "fetch-reference [chromosome...]",
	Short: "Download the reference chromosomes listed in the manifest",
	Long: `Downloads, verifies and unpacks the chromosome sequences of a build into the
reference data directory. Files that haven't changed since the last run are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		build, _ := flags.GetString("build")
		manifestPath, _ := flags.GetString("manifest")
		dataDir, _ := flags.GetString("data-dir")

		if !flags.Changed("build") {
			build = settings.Reference.Build
		}
		if !flags.Changed("manifest") {
			manifestPath = settings.Reference.Manifest
		}
		if !flags.Changed("data-dir") {
			dataDir = settings.Reference.DataDir
		}
		if !filepath.IsAbs(manifestPath) {
			manifestPath = filepath.Join(projectRoot, manifestPath)
		}

		pkg.PrintTask("Loading manifest")
		manifest, err := seqref.LoadManifest(manifestPath)
		if err != nil {
			return err
		}

		pkg.PrintTask(fmt.Sprintf("Downloading %s into %s", build, dataDir))
		fetcher := &seqref.Fetcher{
			DataDir:  dataDir,
			Progress: getProgressBar,
		}

		fetched, err := fetcher.Fetch(cmd.Context(), manifest, build, args...)
		for _, name := range fetched {
			pkg.PrintSubtask(seqref.ChromosomePath(dataDir, build, name))
		}
		if err != nil {
			return err
		}

		pkg.PrintTask(fmt.Sprintf("Done (%d updated)", len(fetched)))
		return nil
	},
}

func init() {
	fetchReferenceCmd.Flags().String("build", "GRCh37", "reference assembly to download")
	fetchReferenceCmd.Flags().String("manifest", "reference.yml", "manifest listing the chromosome files")
	fetchReferenceCmd.Flags().String("data-dir", "", "target directory (defaults to reference.data_dir)")

	rootCmd.AddCommand(fetchReferenceCmd)
}
