package seqref

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Map is an in-memory Source keyed by build and chromosome name
type Map map[string]map[string]string

var _ Source = Map(nil)

// Add stores seq as the sequence of chr in build
func (m Map) Add(build, chr, seq string) {
	chroms, ok := m[build]
	if !ok {
		chroms = make(map[string]string)
		m[build] = chroms
	}
	chroms[chr] = strings.ToUpper(seq)
}

// Sequence implements Source
func (m Map) Sequence(build, chr string, start, end int64, circular bool) (string, error) {
	seq, ok := m[build][chr]
	if !ok {
		return "", eris.Wrapf(ErrMissingData, "no sequence for chromosome %s (%s)", chr, build)
	}

	return slice(int64(len(seq)), start, end, circular, func(from, to int64) (string, error) {
		return seq[from:to], nil
	})
}
