package release

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not installed")
	}
}

func run(t *testing.T, dir string, name string, args ...string) string {
	t.Helper()

	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, string(output))
	return string(output)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o770))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o660))
}

// setupRepo creates a working copy with a single commit and a bare remote named origin
func setupRepo(t *testing.T) (string, string) {
	t.Helper()
	requireGit(t)

	base := t.TempDir()
	remote := filepath.Join(base, "remote.git")
	work := filepath.Join(base, "work")
	require.NoError(t, os.MkdirAll(work, 0o770))

	run(t, base, "git", "init", "--bare", remote)
	run(t, work, "git", "init")
	run(t, work, "git", "config", "user.email", "test@localhost")
	run(t, work, "git", "config", "user.name", "Test")
	run(t, work, "git", "config", "commit.gpgsign", "false")
	run(t, work, "git", "config", "tag.gpgsign", "false")

	writeFile(t, filepath.Join(work, "VERSION"), "1.2.3\n")
	writeFile(t, filepath.Join(work, "main.go"), "package main\n\nfunc main() {}\n")
	writeFile(t, filepath.Join(work, "pkg", "lib.go"), "package pkg\n")

	run(t, work, "git", "add", ".")
	run(t, work, "git", "commit", "-m", "initial commit")
	run(t, work, "git", "remote", "add", "origin", remote)

	return work, remote
}
