// Package release implements the release chores of the project: querying the package
// version, cleaning generated files, tagging releases and building source archives.
package release

import (
	"debug/buildinfo"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
)

// ErrNoVersion is returned if none of the version sources produced a value
var ErrNoVersion = eris.New("no package version found")

// Version is a resolved package version
type Version struct {
	*semver.Version
	// Source names where the version was found (override, file, binary or buildinfo)
	Source string
}

// TagName returns the name of the release tag for this version. The version is used as
// it was found; the prefix is only added if the value doesn't start with it already.
func (v Version) TagName(prefix string) string {
	original := v.Original()
	if prefix != "" && strings.HasPrefix(original, prefix) {
		return original
	}
	return prefix + original
}

// Resolver looks up the package version. The sources are tried in order:
// Override, the version file in ProjectRoot, the build metadata of the installed Binary
// and finally the build metadata of the running executable.
type Resolver struct {
	ProjectRoot string
	VersionFile string
	Binary      string
	Override    string

	// readBuildInfo is replaced in tests
	readBuildInfo func() (*debug.BuildInfo, bool)
}

type versionSource struct {
	name   string
	lookup func() (string, error)
}

func usable(value string) bool {
	return value != "" && value != "(devel)"
}

// Resolve returns the first usable version. The value must be a valid semantic version.
func (r *Resolver) Resolve() (Version, error) {
	sources := []versionSource{
		{"override", func() (string, error) { return r.Override, nil }},
		{"file", r.fromFile},
		{"binary", r.fromBinary},
		{"buildinfo", r.fromBuildInfo},
	}

	for _, source := range sources {
		value, err := source.lookup()
		if err != nil {
			return Version{}, eris.Wrapf(err, "failed to query version from %s", source.name)
		}

		value = strings.TrimSpace(value)
		if !usable(value) {
			continue
		}

		parsed, err := semver.NewVersion(value)
		if err != nil {
			return Version{}, eris.Wrapf(err, "invalid version %q from %s", value, source.name)
		}

		return Version{Version: parsed, Source: source.name}, nil
	}

	return Version{}, ErrNoVersion
}

func (r *Resolver) fromFile() (string, error) {
	if r.VersionFile == "" {
		return "", nil
	}

	path := r.VersionFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.ProjectRoot, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	return string(data), nil
}

func (r *Resolver) fromBinary() (string, error) {
	if r.Binary == "" {
		return "", nil
	}

	path, err := exec.LookPath(r.Binary)
	if err != nil {
		// not installed
		return "", nil
	}

	info, err := buildinfo.ReadFile(path)
	if err != nil {
		// not a Go binary or built without module support
		return "", nil
	}

	return info.Main.Version, nil
}

func (r *Resolver) fromBuildInfo() (string, error) {
	read := r.readBuildInfo
	if read == nil {
		read = debug.ReadBuildInfo
	}

	info, ok := read()
	if !ok {
		return "", nil
	}
	return info.Main.Version, nil
}
