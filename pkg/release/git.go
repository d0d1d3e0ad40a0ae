package release

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Git runs git commands inside a working copy
type Git struct {
	Dir string
}

// Run executes git with the given arguments and returns its standard output. The error
// includes git's standard error output.
func (g *Git) Run(ctx context.Context, args ...string) ([]byte, error) {
	arguments := append([]string{"-C", g.Dir}, args...)
	cmd := exec.CommandContext(ctx, "git", arguments...)

	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	zerolog.Ctx(ctx).Debug().Strs("args", args).Msg("git")
	output, err := cmd.Output()
	if err != nil {
		return output, eris.Wrapf(err, "git %s failed: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))
	}

	return output, nil
}

// TagExists reports whether the local repository already has the tag
func (g *Git) TagExists(ctx context.Context, name string) (bool, error) {
	output, err := g.Run(ctx, "tag", "--list", name)
	if err != nil {
		return false, err
	}

	return strings.TrimSpace(string(output)) == name, nil
}

// CreateTag creates a lightweight tag, or an annotated one if message isn't empty
func (g *Git) CreateTag(ctx context.Context, name, message string) error {
	args := []string{"tag"}
	if message != "" {
		args = append(args, "-a", "-m", message)
	}
	args = append(args, name)

	_, err := g.Run(ctx, args...)
	return err
}

// PushTags pushes all tags to remote
func (g *Git) PushTags(ctx context.Context, remote string) error {
	_, err := g.Run(ctx, "push", remote, "--tags")
	return err
}

// ListFiles returns the files tracked by git, relative to the working copy
func (g *Git) ListFiles(ctx context.Context) ([]string, error) {
	output, err := g.Run(ctx, "ls-files", "-z")
	if err != nil {
		return nil, err
	}

	result := []string{}
	for _, item := range strings.Split(string(output), "\x00") {
		if item != "" {
			result = append(result, item)
		}
	}
	return result, nil
}
