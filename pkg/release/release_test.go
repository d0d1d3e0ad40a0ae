package release

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func newReleaser(work string) *Releaser {
	return &Releaser{
		Git:      &Git{Dir: work},
		Resolver: &Resolver{ProjectRoot: work, VersionFile: "VERSION", readBuildInfo: noBuildInfo},
		Remote:   "origin",
		Prefix:   "v",
	}
}

func TestReleaseTagsAndPushes(t *testing.T) {
	work, remote := setupRepo(t)
	ctx := context.Background()

	var pushed string
	releaser := newReleaser(work)
	releaser.BeforePush = func(tag string) { pushed = tag }

	tag, err := releaser.Release(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", tag)
	assert.Equal(t, "v1.2.3", pushed)

	assert.Equal(t, "v1.2.3", strings.TrimSpace(run(t, work, "git", "tag", "--list")))
	assert.Equal(t, "v1.2.3", strings.TrimSpace(run(t, remote, "git", "tag", "--list")))
}

func TestReleaseRefusesExistingTag(t *testing.T) {
	work, _ := setupRepo(t)
	run(t, work, "git", "tag", "v1.2.3")

	_, err := newReleaser(work).Release(context.Background())
	assert.True(t, eris.Is(err, ErrTagExists))
}

func TestReleaseKeepsTagWhenPushFails(t *testing.T) {
	work, _ := setupRepo(t)

	releaser := newReleaser(work)
	releaser.Remote = "nowhere"

	tag, err := releaser.Release(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was created but pushing to nowhere failed")

	exists, err := releaser.Git.TagExists(context.Background(), tag)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestReleaseAnnotatedWithoutPush(t *testing.T) {
	work, remote := setupRepo(t)

	releaser := newReleaser(work)
	releaser.SkipPush = true
	releaser.Message = "Release 1.2.3"

	tag, err := releaser.Release(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tag", strings.TrimSpace(run(t, work, "git", "cat-file", "-t", tag)))
	assert.Empty(t, strings.TrimSpace(run(t, remote, "git", "tag", "--list")))
}

func TestSourceArchive(t *testing.T) {
	work, _ := setupRepo(t)
	writeFile(t, filepath.Join(work, "untracked.txt"), "ignored")

	dest := filepath.Join(work, "dist", "stranding-1.2.3.tar.xz")
	archive := &SourceArchive{Git: &Git{Dir: work}, Prefix: "stranding-1.2.3"}

	count, err := archive.Write(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	hdl, err := os.Open(dest)
	require.NoError(t, err)
	defer hdl.Close()

	xzr, err := xz.NewReader(hdl)
	require.NoError(t, err)

	names := []string{}
	contents := map[string]string{}
	reader := tar.NewReader(xzr)
	for {
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		data, err := io.ReadAll(reader)
		require.NoError(t, err)
		names = append(names, header.Name)
		contents[header.Name] = string(data)
	}

	sort.Strings(names)
	assert.Equal(t, []string{
		"stranding-1.2.3/VERSION",
		"stranding-1.2.3/main.go",
		"stranding-1.2.3/pkg/lib.go",
	}, names)
	assert.Equal(t, "1.2.3\n", contents["stranding-1.2.3/VERSION"])
}
