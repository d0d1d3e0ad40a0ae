package release

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/ulikunitz/xz"
)

// SourceArchive packs the files tracked by git into a .tar.xz archive
type SourceArchive struct {
	Git *Git
	// Prefix is the top-level directory inside the archive (i.e. stranding-1.2.0)
	Prefix string
}

// Write creates the archive at dest and returns the number of packed files
func (s *SourceArchive) Write(ctx context.Context, dest string) (int, error) {
	files, err := s.Git.ListFiles(ctx)
	if err != nil {
		return 0, err
	}

	err = os.MkdirAll(filepath.Dir(dest), 0770)
	if err != nil {
		return 0, eris.Wrapf(err, "failed to create %s", filepath.Dir(dest))
	}

	hdl, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrapf(err, "failed to create %s", dest)
	}
	defer hdl.Close()

	xzw, err := xz.NewWriter(hdl)
	if err != nil {
		return 0, eris.Wrap(err, "failed to initialize xz writer")
	}

	archive := tar.NewWriter(xzw)
	buf := make([]byte, 4096)
	count := 0
	for _, item := range files {
		src := filepath.Join(s.Git.Dir, filepath.FromSlash(item))
		info, err := os.Lstat(src)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				// deleted but not yet committed
				zerolog.Ctx(ctx).Warn().Str("path", item).Msg("tracked file is missing, skipping")
				continue
			}
			return count, eris.Wrapf(err, "failed to stat %s", src)
		}

		err = s.addFile(archive, src, item, info, buf)
		if err != nil {
			return count, err
		}
		count++
	}

	err = archive.Close()
	if err != nil {
		return count, eris.Wrap(err, "failed to finish tar stream")
	}

	err = xzw.Close()
	if err != nil {
		return count, eris.Wrap(err, "failed to finish xz stream")
	}

	return count, hdl.Close()
}

func (s *SourceArchive) addFile(archive *tar.Writer, src, name string, info os.FileInfo, buf []byte) error {
	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		var err error
		link, err = os.Readlink(src)
		if err != nil {
			return eris.Wrapf(err, "failed to read link %s", src)
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return eris.Wrapf(err, "failed to build header for %s", src)
	}
	header.Name = path.Join(s.Prefix, name)

	err = archive.WriteHeader(header)
	if err != nil {
		return eris.Wrapf(err, "failed to write header for %s", name)
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	reader, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", src)
	}
	defer reader.Close()

	_, err = io.CopyBuffer(archive, reader, buf)
	if err != nil {
		return eris.Wrapf(err, "failed to pack %s", src)
	}
	return nil
}
