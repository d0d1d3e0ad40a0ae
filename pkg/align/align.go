// Package align implements local (Smith-Waterman) alignment with affine gap scores.
//
// Scores follow the usual "localms" convention: every aligned pair adds Match or Mismatch,
// the first position of a gap adds GapOpen and every further position adds GapExtend.
// Penalties are therefore passed as negative numbers.
package align

import (
	"fmt"
	"strings"
)

// Scoring holds the parameters for an alignment
type Scoring struct {
	Match     int
	Mismatch  int
	GapOpen   int
	GapExtend int
}

// Alignment is a single best-scoring local alignment
type Alignment struct {
	Reference string
	Query     string
	Score     int
	// RefStart and QueryStart are the 0-based offsets of the first aligned position.
	RefStart   int
	QueryStart int
}

const negInf = -1 << 30

func (s Scoring) pair(a, b byte) int {
	if a == b {
		return s.Match
	}
	return s.Mismatch
}

func max2(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// LocalScore returns the best local alignment score of ref and query. It returns 0 if no
// alignment scores above zero.
func LocalScore(ref, query string, s Scoring) int {
	n := len(query)
	if len(ref) == 0 || n == 0 {
		return 0
	}

	// rolling rows: h/f hold the previous row, e is carried along the current row
	h := make([]int, n+1)
	f := make([]int, n+1)
	for j := range f {
		f[j] = negInf
	}

	best := 0
	for i := 1; i <= len(ref); i++ {
		diag := 0
		left := 0
		e := negInf
		for j := 1; j <= n; j++ {
			up := h[j]
			e = max2(left+s.GapOpen, e+s.GapExtend)
			f[j] = max2(up+s.GapOpen, f[j]+s.GapExtend)

			cell := max2(0, diag+s.pair(ref[i-1], query[j-1]))
			cell = max2(cell, max2(e, f[j]))

			diag = up
			h[j] = cell
			left = cell
			if cell > best {
				best = cell
			}
		}
	}

	return best
}

type state uint8

const (
	stateH state = iota
	stateE
	stateF
)

// Local computes a best local alignment including the traceback. The second return value
// is false if nothing aligns with a positive score.
func Local(ref, query string, s Scoring) (Alignment, bool) {
	rows := len(ref) + 1
	cols := len(query) + 1
	if rows < 2 || cols < 2 {
		return Alignment{}, false
	}

	h := make([][]int, rows)
	e := make([][]int, rows)
	f := make([][]int, rows)
	for i := 0; i < rows; i++ {
		h[i] = make([]int, cols)
		e[i] = make([]int, cols)
		f[i] = make([]int, cols)
		for j := 0; j < cols; j++ {
			e[i][j] = negInf
			f[i][j] = negInf
		}
	}

	best, bi, bj := 0, 0, 0
	for i := 1; i < rows; i++ {
		for j := 1; j < cols; j++ {
			e[i][j] = max2(h[i][j-1]+s.GapOpen, e[i][j-1]+s.GapExtend)
			f[i][j] = max2(h[i-1][j]+s.GapOpen, f[i-1][j]+s.GapExtend)

			cell := max2(0, h[i-1][j-1]+s.pair(ref[i-1], query[j-1]))
			cell = max2(cell, max2(e[i][j], f[i][j]))
			h[i][j] = cell

			if cell > best {
				best, bi, bj = cell, i, j
			}
		}
	}

	if best == 0 {
		return Alignment{}, false
	}

	var refOut, queryOut []byte
	i, j := bi, bj
	st := stateH
	for i > 0 && j > 0 {
		switch st {
		case stateH:
			if h[i][j] == 0 {
				goto done
			}

			switch h[i][j] {
			case h[i-1][j-1] + s.pair(ref[i-1], query[j-1]):
				refOut = append(refOut, ref[i-1])
				queryOut = append(queryOut, query[j-1])
				i--
				j--
			case e[i][j]:
				st = stateE
			case f[i][j]:
				st = stateF
			default:
				goto done
			}
		case stateE:
			refOut = append(refOut, '-')
			queryOut = append(queryOut, query[j-1])
			if e[i][j] == h[i][j-1]+s.GapOpen {
				st = stateH
			}
			j--
		case stateF:
			refOut = append(refOut, ref[i-1])
			queryOut = append(queryOut, '-')
			if f[i][j] == h[i-1][j]+s.GapOpen {
				st = stateH
			}
			i--
		}
	}

done:
	reverse(refOut)
	reverse(queryOut)

	return Alignment{
		Reference:  string(refOut),
		Query:      string(queryOut),
		Score:      best,
		RefStart:   i,
		QueryStart: j,
	}, true
}

func reverse(b []byte) {
	for l, r := 0, len(b)-1; l < r; l, r = l+1, r-1 {
		b[l], b[r] = b[r], b[l]
	}
}

// Format renders the alignment as reference line, match line, query line and score.
func (a Alignment) Format() string {
	bar := strings.Builder{}
	for idx := 0; idx < len(a.Reference); idx++ {
		switch {
		case a.Reference[idx] == '-' || a.Query[idx] == '-':
			bar.WriteByte(' ')
		case a.Reference[idx] == a.Query[idx]:
			bar.WriteByte('|')
		default:
			bar.WriteByte('.')
		}
	}

	pad := len(fmt.Sprint(max2(a.RefStart, a.QueryStart) + 1))
	return fmt.Sprintf("%*d %s\n%*s %s\n%*d %s\n  Score=%d\n",
		pad, a.RefStart+1, a.Reference,
		pad, "", bar.String(),
		pad, a.QueryStart+1, a.Query,
		a.Score)
}
