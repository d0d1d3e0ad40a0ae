// Package batch strands many flanks read from a tab separated file.
package batch

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mitchellh/mapstructure"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iCMLab/stranding/pkg/stranding"
)

// Row is a single line of the input file
type Row struct {
	ID         string `mapstructure:"id"`
	Build      string `mapstructure:"build"`
	Chr        string `mapstructure:"chr"`
	Pos        int64  `mapstructure:"pos"`
	FivePrime  string `mapstructure:"five_prime"`
	ThreePrime string `mapstructure:"three_prime"`
	Window     int    `mapstructure:"window"`
}

// Job is a decoded row. Err is set if the row could not be decoded.
type Job struct {
	Line int
	Row  Row
	Err  error
}

// Result is the outcome of a Job
type Result struct {
	Job
	Strand stranding.Strand
}

// Strander is implemented by *stranding.GenomeStranding
type Strander interface {
	StrandFlanks(ctx context.Context, five, three, build, chr string, pos int64, window int) (stranding.Strand, error)
}

var requiredColumns = []string{"id", "chr", "pos", "five_prime", "three_prime"}

// Read parses a TSV file with a header line. Missing optional columns (build, window) are
// taken from defaults. Rows that can't be decoded are returned with Err set.
func Read(r io.Reader, defaults Row) ([]Job, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, eris.New("input is empty")
		}
		return nil, eris.Wrap(err, "failed to read header")
	}

	for idx, name := range header {
		header[idx] = strings.ToLower(strings.TrimSpace(name))
	}

	for _, name := range requiredColumns {
		found := false
		for _, column := range header {
			if column == name {
				found = true
				break
			}
		}

		if !found {
			return nil, eris.Errorf("column %s is missing", name)
		}
	}

	jobs := []Job{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		job := Job{Row: defaults}
		if err != nil {
			parseErr, ok := err.(*csv.ParseError)
			if !ok {
				return nil, eris.Wrap(err, "failed to read input")
			}

			job.Line = parseErr.Line
			job.Err = eris.Wrap(err, "failed to read row")
			jobs = append(jobs, job)
			continue
		}

		line, _ := reader.FieldPos(0)
		job.Line = line

		if len(record) != len(header) {
			job.Err = eris.Errorf("line %d: expected %d columns but found %d", line, len(header), len(record))
			jobs = append(jobs, job)
			continue
		}

		values := make(map[string]interface{}, len(header))
		for idx, column := range header {
			value := strings.TrimSpace(record[idx])
			if value != "" {
				values[column] = value
			}
		}

		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &job.Row,
		})
		if err != nil {
			return nil, err
		}

		err = decoder.Decode(values)
		if err != nil {
			job.Err = eris.Wrapf(err, "line %d", line)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Run strands all jobs using at most workers goroutines. The results are returned in input
// order. Errors of individual rows are stored in their result. Only a cancelled context
// aborts the batch.
func Run(ctx context.Context, s Strander, jobs []Job, workers int, progress func()) ([]Result, error) {
	if workers < 1 {
		workers = 1
	}

	results := make([]Result, len(jobs))
	var failed int64

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for idx := range jobs {
		idx := idx
		results[idx].Job = jobs[idx]
		if jobs[idx].Err != nil {
			atomic.AddInt64(&failed, 1)
			if progress != nil {
				progress()
			}
			continue
		}

		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			row := jobs[idx].Row
			strand, err := s.StrandFlanks(groupCtx, row.FivePrime, row.ThreePrime, row.Build, row.Chr, row.Pos, row.Window)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				results[idx].Err = err
			} else {
				results[idx].Strand = strand
			}

			if progress != nil {
				progress()
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		return results, err
	}

	zerolog.Ctx(ctx).Info().
		Int("rows", len(jobs)).
		Int64("failed", atomic.LoadInt64(&failed)).
		Msg("Batch finished")
	return results, nil
}

func (r Result) columns() []string {
	id := r.Row.ID
	if r.Err != nil {
		if id == "" {
			id = "line " + strconv.Itoa(r.Line)
		}
		return []string{id, "", r.Err.Error()}
	}
	return []string{id, strconv.Itoa(int(r.Strand)), ""}
}

// WriteTSV writes one id/strand/error line per result
func WriteTSV(w io.Writer, results []Result) error {
	writer := csv.NewWriter(w)
	writer.Comma = '\t'

	err := writer.Write([]string{"id", "strand", "error"})
	if err != nil {
		return err
	}

	for _, result := range results {
		err = writer.Write(result.columns())
		if err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// RenderTable prints the results as a table
func RenderTable(w io.Writer, results []Result) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"ID", "Strand", "Error"})

	for _, result := range results {
		columns := result.columns()
		t.AppendRow(table.Row{columns[0], columns[1], columns[2]})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}
