package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/iCMLab/stranding/pkg/batch"
	"github.com/iCMLab/stranding/pkg/seqref"
	"github.com/iCMLab/stranding/pkg/stranding"
)

func newStranding(cmd *cobra.Command) *stranding.GenomeStranding {
	store := seqref.NewStore(settings.Reference.DataDir)
	return stranding.New(cmd.Context(), store, settings.StrandingParams())
}

var strandCmd = &cobra.Command{
	Use:   "strand",
	Short: "Determine the strand of a pair of flanking sequences",
	Long: `Aligns the 5' and 3' flanks of a variant against the reference around the given
position and prints 1 for the forward and -1 for the reverse strand.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		build, _ := flags.GetString("build")
		chr, _ := flags.GetString("chr")
		pos, _ := flags.GetInt64("pos")
		five, _ := flags.GetString("five")
		three, _ := flags.GetString("three")
		window, _ := flags.GetInt("window")

		if !flags.Changed("build") {
			build = settings.Reference.Build
		}
		if !flags.Changed("window") {
			window = settings.Stranding.Window
		}

		strand, err := newStranding(cmd).StrandFlanks(cmd.Context(), five, three, build, chr, pos, window)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), int(strand))
		return nil
	},
}

func newBatchProgress(length int) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" {
		return progressbar.NewOptions(length, progressbar.OptionSetVisibility(false))
	}
	return progressbar.Default(int64(length), "stranding")
}

var batchCmd = &cobra.Command{
	Use:   "batch <input.tsv>",
	Short: "Strand every row of a tab separated file",
	Long: `Reads a TSV file with the columns id, build, chr, pos, five_prime, three_prime and
an optional window column and writes the columns id, strand and error. Rows that can't be
stranded are reported in the error column and don't abort the batch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		output, _ := flags.GetString("output")
		workers, _ := flags.GetInt("workers")
		asTable, _ := flags.GetBool("table")
		quiet, _ := flags.GetBool("quiet")

		if !flags.Changed("workers") {
			workers = settings.Batch.Workers
		}

		input, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "failed to open %s", args[0])
		}
		defer input.Close()

		jobs, err := batch.Read(input, batch.Row{
			Build:  settings.Reference.Build,
			Window: settings.Stranding.Window,
		})
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", args[0])
		}

		var progress func()
		if !quiet {
			bar := newBatchProgress(len(jobs))
			progress = func() { _ = bar.Add(1) }
		}

		results, err := batch.Run(cmd.Context(), newStranding(cmd), jobs, workers, progress)
		if err != nil {
			return err
		}

		var out io.Writer = cmd.OutOrStdout()
		if output != "" && output != "-" {
			hdl, err := os.Create(output)
			if err != nil {
				return eris.Wrapf(err, "failed to create %s", output)
			}
			defer hdl.Close()
			out = hdl
		}

		if asTable {
			batch.RenderTable(out, results)
			return nil
		}
		return batch.WriteTSV(out, results)
	},
}

func init() {
	strandCmd.Flags().String("build", "GRCh37", "reference assembly (GRCh37 or GRCh38)")
	strandCmd.Flags().String("chr", "", "chromosome (1-22, X, Y, XY or MT)")
	strandCmd.Flags().Int64("pos", 0, "1-based position of the variant")
	strandCmd.Flags().String("five", "", "5' flank")
	strandCmd.Flags().String("three", "", "3' flank")
	strandCmd.Flags().Int("window", 0, "extend the reference flanks by this many bases")
	for _, name := range []string{"chr", "pos", "five", "three"} {
		_ = strandCmd.MarkFlagRequired(name)
	}

	batchCmd.Flags().StringP("output", "o", "", "output file (defaults to stdout)")
	batchCmd.Flags().IntP("workers", "w", 4, "number of rows stranded in parallel")
	batchCmd.Flags().Bool("table", false, "print a table instead of TSV")
	batchCmd.Flags().BoolP("quiet", "q", false, "don't show a progress bar")

	rootCmd.AddCommand(strandCmd)
	rootCmd.AddCommand(batchCmd)
}
