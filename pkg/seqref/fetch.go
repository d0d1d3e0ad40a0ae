package seqref

import (
	"compress/bzip2"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"
)

// FileSpec describes a single downloadable chromosome file
type FileSpec struct {
	URL    string `yaml:"url"`
	Sha256 string `yaml:"sha256"`
}

// Manifest lists the chromosome files for each build. URLs may contain {VAR} placeholders
// which are replaced with entries from Vars.
type Manifest struct {
	Vars   map[string]string              `yaml:"vars"`
	Builds map[string]map[string]FileSpec `yaml:"builds"`
}

// LoadManifest parses a reference manifest
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "could not open file %s", path)
	}

	manifest := new(Manifest)
	err = yaml.Unmarshal(data, manifest)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", path)
	}

	return manifest, nil
}

var varMatcher = regexp.MustCompile(`\{([A-Z0-9_]+)\}`)

func (m *Manifest) expand(url string) string {
	return varMatcher.ReplaceAllStringFunc(url, func(name string) string {
		return m.Vars[name[1:len(name)-1]]
	})
}

// Fetcher downloads reference files into a data directory
type Fetcher struct {
	DataDir  string
	Client   *http.Client
	Attempts uint
	Delay    time.Duration
	// Progress is called to create a progress bar for each download. Optional.
	Progress func(length int64, desc string) *progressbar.ProgressBar
}

const stampFile = "stamps.json"

func (f *Fetcher) stampPath(build string) string {
	return filepath.Join(BuildDir(f.DataDir, build), stampFile)
}

func (f *Fetcher) readStamps(build string) (map[string]string, error) {
	stamps := map[string]string{}
	data, err := os.ReadFile(f.stampPath(build))
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return stamps, nil
		}
		return nil, eris.Wrapf(err, "failed to read stamps for %s", build)
	}

	err = json.Unmarshal(data, &stamps)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse stamps for %s", build)
	}
	return stamps, nil
}

func (f *Fetcher) writeStamps(build string, stamps map[string]string) error {
	data, err := json.Marshal(stamps)
	if err != nil {
		return err
	}
	return os.WriteFile(f.stampPath(build), data, 0660)
}

// Fetch downloads every chromosome of build listed in the manifest. Files whose URL and
// checksum match the recorded stamp are skipped. If chroms is not empty, only the listed
// chromosomes are fetched. It returns the names of the chromosomes that were written.
func (f *Fetcher) Fetch(ctx context.Context, manifest *Manifest, build string, chroms ...string) ([]string, error) {
	files, ok := manifest.Builds[build]
	if !ok {
		return nil, eris.Errorf("build %s is not listed in the manifest", build)
	}

	wanted := map[string]bool{}
	for _, name := range chroms {
		wanted[name] = true
	}

	err := os.MkdirAll(BuildDir(f.DataDir, build), 0770)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create data directory for %s", build)
	}

	stamps, err := f.readStamps(build)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		if len(wanted) == 0 || wanted[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	fetched := []string{}
	for _, name := range names {
		spec := files[name]
		spec.URL = manifest.expand(spec.URL)
		if spec.Sha256 == "" {
			return fetched, eris.Errorf("chromosome %s of %s doesn't have a checksum", name, build)
		}

		dest := ChromosomePath(f.DataDir, build, name)
		token := spec.URL + "#" + spec.Sha256
		if stamps[name] == token {
			if _, err := os.Stat(dest); err == nil {
				zerolog.Ctx(ctx).Debug().Str("chr", name).Msg("up to date")
				continue
			}
		}

		err = f.fetchOne(ctx, spec, dest)
		if err != nil {
			// keep the stamps of everything that did succeed
			if sErr := f.writeStamps(build, stamps); sErr != nil {
				zerolog.Ctx(ctx).Error().Err(sErr).Msg("failed to write stamps")
			}
			return fetched, eris.Wrapf(err, "failed to fetch chromosome %s", name)
		}

		stamps[name] = token
		fetched = append(fetched, name)
	}

	return fetched, f.writeStamps(build, stamps)
}

func (f *Fetcher) fetchOne(ctx context.Context, spec FileSpec, dest string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return eris.Wrap(err, "failed to create temporary file")
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	attempts := f.Attempts
	if attempts == 0 {
		attempts = 3
	}
	delay := f.Delay
	if delay == 0 {
		delay = time.Second
	}

	err = retry.Do(func() error {
		return f.download(ctx, spec, tmp)
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			zerolog.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Str("url", spec.URL).Msg("download failed, retrying")
		}),
	)
	if err != nil {
		return err
	}

	_, err = tmp.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}

	reader, err := decompressor(spec.URL, tmp)
	if err != nil {
		return err
	}

	out, err := os.Create(dest + ".tmp")
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", dest)
	}

	_, err = io.Copy(out, reader)
	if cErr := out.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		os.Remove(out.Name())
		return eris.Wrapf(err, "failed to write %s", dest)
	}

	return os.Rename(out.Name(), dest)
}

func (f *Fetcher) download(ctx context.Context, spec FileSpec, tmp *os.File) error {
	if err := tmp.Truncate(0); err != nil {
		return retry.Unrecoverable(err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return retry.Unrecoverable(err)
	}

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return retry.Unrecoverable(eris.Wrapf(err, "invalid URL %s", spec.URL))
	}

	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrapf(err, "failed to start download for %s", spec.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = eris.Errorf("unexpected status %s for %s", resp.Status, spec.URL)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.Unrecoverable(err)
		}
		return err
	}

	hash := sha256.New()
	writers := []io.Writer{tmp, hash}
	if f.Progress != nil {
		bar := f.Progress(resp.ContentLength, "     download")
		defer bar.Finish()
		writers = append(writers, bar)
	}

	_, err = io.Copy(io.MultiWriter(writers...), resp.Body)
	if err != nil {
		return eris.Wrapf(err, "failed during download of %s", spec.URL)
	}

	digest := hex.EncodeToString(hash.Sum(nil))
	if !strings.EqualFold(digest, spec.Sha256) {
		return retry.Unrecoverable(eris.Errorf("checksum check failed for %s: got %s", spec.URL, digest))
	}

	return nil
}

func decompressor(url string, r io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(url, ".gz"):
		reader, err := gzip.NewReader(r)
		if err != nil {
			return nil, eris.Wrap(err, "failed to open gzip stream")
		}
		return reader, nil
	case strings.HasSuffix(url, ".bz2"):
		return bzip2.NewReader(r), nil
	case strings.HasSuffix(url, ".xz"):
		reader, err := xz.NewReader(r)
		if err != nil {
			return nil, eris.Wrap(err, "failed to open xz stream")
		}
		return reader, nil
	case strings.HasSuffix(url, ".fa"):
		return r, nil
	}

	return nil, eris.Errorf("unsupported file format for %s", url)
}
