package batch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iCMLab/stranding/pkg/stranding"
)

type fakeStrander struct {
	lock    sync.Mutex
	calls   []Row
	active  int32
	maxSeen int32
}

func (f *fakeStrander) StrandFlanks(ctx context.Context, five, three, build, chr string, pos int64, window int) (stranding.Strand, error) {
	current := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)

	f.lock.Lock()
	if current > f.maxSeen {
		f.maxSeen = current
	}
	f.calls = append(f.calls, Row{Build: build, Chr: chr, Pos: pos, FivePrime: five, ThreePrime: three, Window: window})
	f.lock.Unlock()

	switch five {
	case "AAAA":
		return stranding.Forward, nil
	case "TTTT":
		return stranding.Reverse, nil
	}
	return 0, stranding.ErrUnstrandable
}

const input = "id\tbuild\tchr\tpos\tfive_prime\tthree_prime\n" +
	"rs1\tGRCh38\t1\t100\tAAAA\tCCCC\n" +
	"rs2\t\tX\t200\tTTTT\tGGGG\n" +
	"# comment\n" +
	"rs3\tGRCh37\t2\tnot-a-number\tAAAA\tCCCC\n" +
	"rs4\tGRCh37\t3\t300\tNNNN\tNNNN\n"

func TestRead(t *testing.T) {
	jobs, err := Read(strings.NewReader(input), Row{Build: "GRCh37", Window: 5})
	require.NoError(t, err)
	require.Len(t, jobs, 4)

	assert.NoError(t, jobs[0].Err)
	assert.Equal(t, Row{ID: "rs1", Build: "GRCh38", Chr: "1", Pos: 100, FivePrime: "AAAA", ThreePrime: "CCCC", Window: 5}, jobs[0].Row)
	assert.Equal(t, 2, jobs[0].Line)

	// empty build falls back to the default
	assert.Equal(t, "GRCh37", jobs[1].Row.Build)

	assert.Error(t, jobs[2].Err)
	assert.Equal(t, 5, jobs[2].Line)
	assert.NoError(t, jobs[3].Err)
}

func TestReadFailingInput(t *testing.T) {
	r := io.MultiReader(
		strings.NewReader("id\tchr\tpos\tfive_prime\tthree_prime\nrs1\t1\t100\tAAAA\tCCCC\n"),
		iotest.ErrReader(errors.New("disk failure")),
	)

	jobs, err := Read(r, Row{})
	require.Error(t, err)
	assert.Nil(t, jobs)
	assert.Contains(t, err.Error(), "disk failure")
}

func TestReadMissingColumn(t *testing.T) {
	_, err := Read(strings.NewReader("id\tchr\tpos\tfive_prime\n"), Row{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column three_prime is missing")

	_, err = Read(strings.NewReader(""), Row{})
	assert.Error(t, err)
}

func TestRunKeepsInputOrder(t *testing.T) {
	jobs, err := Read(strings.NewReader(input), Row{Build: "GRCh37"})
	require.NoError(t, err)

	strander := &fakeStrander{}
	var progress int32
	results, err := Run(context.Background(), strander, jobs, 2, func() { atomic.AddInt32(&progress, 1) })
	require.NoError(t, err)

	require.Len(t, results, 4)
	assert.Equal(t, stranding.Forward, results[0].Strand)
	assert.Equal(t, stranding.Reverse, results[1].Strand)
	assert.Error(t, results[2].Err)
	assert.ErrorIs(t, results[3].Err, stranding.ErrUnstrandable)

	assert.Equal(t, int32(4), progress)
	assert.Len(t, strander.calls, 3)
	assert.LessOrEqual(t, strander.maxSeen, int32(2))
}

func TestRunCancelled(t *testing.T) {
	jobs, err := Read(strings.NewReader(input), Row{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Run(ctx, &fakeStrander{}, jobs, 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteTSV(t *testing.T) {
	results := []Result{
		{Job: Job{Line: 2, Row: Row{ID: "rs1"}}, Strand: stranding.Forward},
		{Job: Job{Line: 3, Row: Row{ID: "rs2"}}, Strand: stranding.Reverse},
		{Job: Job{Line: 4, Err: stranding.ErrUnstrandable}},
	}

	buffer := &bytes.Buffer{}
	require.NoError(t, WriteTSV(buffer, results))

	lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
	assert.Equal(t, []string{
		"id\tstrand\terror",
		"rs1\t1\t",
		"rs2\t-1\t",
		"line 4\t\t" + stranding.ErrUnstrandable.Error(),
	}, lines)
}

func TestRenderTable(t *testing.T) {
	buffer := &bytes.Buffer{}
	RenderTable(buffer, []Result{{Job: Job{Row: Row{ID: "rs1"}}, Strand: stranding.Forward}})

	assert.Contains(t, buffer.String(), "rs1")
	assert.Contains(t, buffer.String(), "STRAND")
}
