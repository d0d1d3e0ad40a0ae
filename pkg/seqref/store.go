// Package seqref provides access to reference assembly sequences.
//
// The on-disk layout is compatible with seqseek: one file per chromosome at
// <data dir>/homo_sapiens_<build>/chr<name>.fa containing an optional single header line
// followed by the whole sequence on one line. Reads seek directly to the requested range.
package seqref

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Common assembly names
const (
	Build37 = "GRCh37"
	Build38 = "GRCh38"
)

var (
	// ErrOutOfRange is returned for coordinates outside of a chromosome
	ErrOutOfRange = eris.New("coordinates out of range")
	// ErrMissingData is returned if no sequence is available for a chromosome
	ErrMissingData = eris.New("reference data missing")
)

// Source returns reference sequences for the half-open range [start, end).
// Circular sequences (the mitochondrial chromosome) wrap around both ends.
type Source interface {
	Sequence(build, chr string, start, end int64, circular bool) (string, error)
}

// DefaultDataDir returns $SEQSEEK_DATA_DIR or ~/.seqseek
func DefaultDataDir() string {
	if dir := os.Getenv("SEQSEEK_DATA_DIR"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".seqseek"
	}
	return filepath.Join(home, ".seqseek")
}

// BuildDir returns the directory holding the chromosome files for build
func BuildDir(dataDir, build string) string {
	return filepath.Join(dataDir, "homo_sapiens_"+build)
}

// ChromosomePath returns the file name used for a chromosome
func ChromosomePath(dataDir, build, chr string) string {
	return filepath.Join(BuildDir(dataDir, build), "chr"+chr+".fa")
}

type fileMeta struct {
	offset int64
	length int64
}

// Store reads sequences from a seqseek-style data directory
type Store struct {
	DataDir string

	lock sync.Mutex
	meta map[string]fileMeta
}

var _ Source = (*Store)(nil)

// NewStore returns a Store for dataDir
func NewStore(dataDir string) *Store {
	return &Store{
		DataDir: dataDir,
		meta:    make(map[string]fileMeta),
	}
}

func (s *Store) lookup(path string, hdl *os.File) (fileMeta, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.meta == nil {
		s.meta = make(map[string]fileMeta)
	}

	meta, ok := s.meta[path]
	if ok {
		return meta, nil
	}

	info, err := hdl.Stat()
	if err != nil {
		return meta, eris.Wrapf(err, "failed to stat %s", path)
	}

	reader := bufio.NewReader(hdl)
	first, err := reader.Peek(1)
	if err != nil && err != io.EOF {
		return meta, eris.Wrapf(err, "failed to read %s", path)
	}

	if len(first) > 0 && first[0] == '>' {
		header, err := reader.ReadString('\n')
		if err != nil {
			return meta, eris.Wrapf(err, "failed to read header of %s", path)
		}
		meta.offset = int64(len(header))
	}

	meta.length = info.Size() - meta.offset

	// ignore a trailing line break
	if meta.length > 0 {
		tail := make([]byte, 2)
		readFrom := info.Size() - 2
		if readFrom < meta.offset {
			readFrom = meta.offset
		}
		n, err := hdl.ReadAt(tail, readFrom)
		if err != nil && err != io.EOF {
			return meta, eris.Wrapf(err, "failed to read %s", path)
		}
		trimmed := strings.TrimRight(string(tail[:n]), "\r\n")
		meta.length -= int64(n - len(trimmed))
	}

	s.meta[path] = meta
	return meta, nil
}

func (s *Store) read(hdl *os.File, meta fileMeta, start, end int64) (string, error) {
	buf := make([]byte, end-start)
	n, err := hdl.ReadAt(buf, meta.offset+start)
	if err != nil && !(err == io.EOF && n == len(buf)) {
		return "", eris.Wrap(err, "failed to read sequence")
	}

	return strings.ToUpper(string(buf)), nil
}

// Sequence implements Source
func (s *Store) Sequence(build, chr string, start, end int64, circular bool) (string, error) {
	path := ChromosomePath(s.DataDir, build, chr)
	hdl, err := os.Open(path)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(ErrMissingData, "no sequence for chromosome %s (%s) at %s", chr, build, path)
		}
		return "", eris.Wrapf(err, "failed to open %s", path)
	}
	defer hdl.Close()

	meta, err := s.lookup(path, hdl)
	if err != nil {
		return "", err
	}

	return slice(meta.length, start, end, circular, func(from, to int64) (string, error) {
		return s.read(hdl, meta, from, to)
	})
}

// slice validates the requested range against a sequence of the given length and
// assembles the result from one or more reads.
func slice(length, start, end int64, circular bool, read func(from, to int64) (string, error)) (string, error) {
	if end < start {
		return "", eris.Wrapf(ErrOutOfRange, "end %d is before start %d", end, start)
	}

	if !circular {
		if start < 0 || end > length {
			return "", eris.Wrapf(ErrOutOfRange, "range [%d, %d) is outside of [0, %d)", start, end, length)
		}
		return read(start, end)
	}

	if end-start > length {
		return "", eris.Wrapf(ErrOutOfRange, "range [%d, %d) is longer than the sequence", start, end)
	}

	if start < 0 {
		if start < -length {
			return "", eris.Wrapf(ErrOutOfRange, "start %d wraps more than once", start)
		}

		head, err := read(length+start, length)
		if err != nil {
			return "", err
		}
		tail, err := read(0, end)
		if err != nil {
			return "", err
		}
		return head + tail, nil
	}

	if end > length {
		if end > 2*length {
			return "", eris.Wrapf(ErrOutOfRange, "end %d wraps more than once", end)
		}

		head, err := read(start, length)
		if err != nil {
			return "", err
		}
		tail, err := read(0, end-length)
		if err != nil {
			return "", err
		}
		return head + tail, nil
	}

	return read(start, end)
}
