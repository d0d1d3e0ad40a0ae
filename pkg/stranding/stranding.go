// Package stranding determines which strand of a reference assembly SNP flanking sequences
// were taken from.
//
// This is not BLAT or BLAST: mapping coordinates are required. Given one or both flanks and
// the position of the SNP, the flanks are compared against the reference sequences around
// that position and against their reverse complements.
package stranding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/iCMLab/stranding/pkg/align"
	"github.com/iCMLab/stranding/pkg/seqref"
)

// Empirically derived defaults from stranding hundreds of thousands of flanks from an
// Illumina beadchip. Gaps are strongly discouraged.
const (
	DefaultMinFlankLength  = 15
	DefaultWindowExtension = 0
	DefaultMatchScore      = 2
	DefaultMismatchPenalty = -1
	DefaultGapOpenPenalty  = -5
	DefaultTolerance       = 0.77
)

// Strand is either Forward or Reverse
type Strand int

const (
	Forward Strand = 1
	Reverse Strand = -1
)

func (s Strand) String() string {
	switch s {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	}
	return fmt.Sprintf("Strand(%d)", int(s))
}

// Params contains the tunable parameters of the algorithm
type Params struct {
	MinFlankLength  int
	Tolerance       float64
	MatchScore      int
	MismatchPenalty int
	GapOpenPenalty  int
}

// DefaultParams returns the default parameters
func DefaultParams() Params {
	return Params{
		MinFlankLength:  DefaultMinFlankLength,
		Tolerance:       DefaultTolerance,
		MatchScore:      DefaultMatchScore,
		MismatchPenalty: DefaultMismatchPenalty,
		GapOpenPenalty:  DefaultGapOpenPenalty,
	}
}

// GenomeStranding strands flanks against a reference Source
type GenomeStranding struct {
	Params
	Reference seqref.Source
}

// New creates a GenomeStranding instance
func New(ctx context.Context, ref seqref.Source, params Params) *GenomeStranding {
	if params.MinFlankLength < DefaultMinFlankLength {
		zerolog.Ctx(ctx).Warn().
			Int("min_flank_length", params.MinFlankLength).
			Msg("Short flank lengths may lead to inaccurate alignments")
	}

	return &GenomeStranding{
		Params:    params,
		Reference: ref,
	}
}

func (g *GenomeStranding) scoring() align.Scoring {
	return align.Scoring{
		Match:     g.MatchScore,
		Mismatch:  g.MismatchPenalty,
		GapOpen:   g.GapOpenPenalty,
		GapExtend: g.MismatchPenalty,
	}
}

// IsHighScoring reports whether score is accepted for query
func (g *GenomeStranding) IsHighScoring(score int, query string) bool {
	if len(query) < g.MinFlankLength {
		return false
	}
	return float64(score) > float64(len(query)*g.MatchScore)*g.Tolerance
}

// IsPerfectScore reports whether score means that query matched without any mismatch
func (g *GenomeStranding) IsPerfectScore(score int, query string) bool {
	if len(query) < g.MinFlankLength {
		return false
	}
	return score == len(query)*g.MatchScore
}

// Score returns the best local alignment score of query against ref
func (g *GenomeStranding) Score(ref, query string) int {
	return align.LocalScore(ref, query, g.scoring())
}

func (g *GenomeStranding) logAlignment(ctx context.Context, ref, query string) {
	alignment, ok := align.Local(ref, query, g.scoring())
	if ok && g.IsHighScoring(alignment.Score, query) {
		zerolog.Ctx(ctx).Error().Msg(alignment.Format())
	}
}

type outcome struct {
	reference string
	query     string
	strand    Strand
	score     int
}

// StrandFlanks determines the strand of the flanks five and three (5' and 3') for the SNP
// at pos on chromosome chr of build.
//
// window extends the compared reference region on both sides. With a window of 0 exact
// matches are tried first, which is the cheapest case. If Tolerance is also 1.0, only exact
// matches are accepted and no alignments are performed.
//
// Otherwise each flank and reference region (and the reverse complements) are aligned. An
// alignment is accepted if it scores above len(query) * MatchScore * Tolerance.
// ErrInconsistentAlignment is returned if alignments are accepted on both strands and
// ErrUnstrandable if none are accepted.
func (g *GenomeStranding) StrandFlanks(ctx context.Context, five, three, build, chr string, pos int64, window int) (Strand, error) {
	five = strings.ToUpper(five)
	three = strings.ToUpper(three)

	if pos == 0 {
		return 0, eris.Wrap(ErrUnstrandable, "position 0 is unmapped")
	}
	if chr == "0" {
		return 0, eris.Wrap(ErrUnstrandable, "chromosome 0 is unmapped")
	}

	maxLength := len(five)
	if len(three) > maxLength {
		maxLength = len(three)
	}
	if maxLength < g.MinFlankLength {
		return 0, eris.Wrapf(ErrFlanksTooShort, "at least one flank must be longer than the minimum flank length of %d", g.MinFlankLength)
	}

	circular := chr == "MT"
	if chr == "XY" {
		chr = "X"
	}

	w := int64(window)
	l := int64(maxLength)
	ref5, err := g.Reference.Sequence(build, chr, pos-w-l, pos+w, circular)
	if err == nil {
		var ref3 string
		ref3, err = g.Reference.Sequence(build, chr, pos-w, pos+l+w+1, circular)
		if err == nil {
			return g.strand(ctx, five, three, ref5, ref3, window)
		}
	}

	if eris.Is(err, seqref.ErrOutOfRange) || eris.Is(err, seqref.ErrMissingData) {
		return 0, eris.Wrapf(ErrMissingReferenceFlank, "could not find flanks for %s %d %d: %s", chr, pos, window, err.Error())
	}
	return 0, eris.Wrap(err, "failed to load reference flanks")
}

func (g *GenomeStranding) strand(ctx context.Context, five, three, ref5, ref3 string, window int) (Strand, error) {
	if window == 0 && (three == ref3 || five == ref5) {
		return Forward, nil
	}

	ref5RC := ReverseComplement(ref5)
	ref3RC := ReverseComplement(ref3)

	if window == 0 && (three == ref5RC || five == ref3RC) {
		return Reverse, nil
	}

	if window == 0 && g.Tolerance == 1.0 {
		return 0, eris.Wrap(ErrUnstrandable, "strict stranding failed")
	}

	outcomes := []*outcome{
		{reference: ref5, query: five, strand: Forward},
		{reference: ref3, query: three, strand: Forward},
		{reference: ref5RC, query: three, strand: Reverse},
		{reference: ref3RC, query: five, strand: Reverse},
	}

	for _, o := range outcomes {
		o.score = g.Score(o.reference, o.query)
		if g.IsPerfectScore(o.score, o.query) {
			return o.strand, nil
		}
	}

	isFwd := false
	isRev := false
	for _, o := range outcomes {
		if g.IsHighScoring(o.score, o.query) {
			if o.strand == Forward {
				isFwd = true
			} else {
				isRev = true
			}
		}
	}

	switch {
	case isFwd && isRev:
		// The flanks may be too short or the tolerance may be too loose.
		logger := zerolog.Ctx(ctx)
		logger.Error().Msg("Forward alignments")
		g.logAlignment(ctx, ref5, five)
		g.logAlignment(ctx, ref3, three)
		logger.Error().Msg("Reverse alignments")
		g.logAlignment(ctx, ref5RC, three)
		g.logAlignment(ctx, ref3RC, five)
		return 0, eris.Wrap(ErrInconsistentAlignment, "alignments were accepted on both strands")
	case isFwd:
		return Forward, nil
	case isRev:
		return Reverse, nil
	}

	return 0, eris.Wrap(ErrUnstrandable, "no matching alignments")
}

// IUPAC codes; S, W and N are their own complement
var complement = strings.NewReplacer(
	"A", "T", "T", "A", "C", "G", "G", "C",
	"R", "Y", "Y", "R", "K", "M", "M", "K",
	"B", "V", "V", "B", "D", "H", "H", "D",
	"a", "t", "t", "a", "c", "g", "g", "c",
	"r", "y", "y", "r", "k", "m", "m", "k",
	"b", "v", "v", "b", "d", "h", "h", "d",
)

// ReverseComplement returns the reverse complement of a DNA sequence including the IUPAC
// ambiguity codes. Other characters are kept as they are.
func ReverseComplement(seq string) string {
	comp := []byte(complement.Replace(seq))
	for l, r := 0, len(comp)-1; l < r; l, r = l+1, r-1 {
		comp[l], comp[r] = comp[r], comp[l]
	}
	return string(comp)
}
