package release

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/iCMLab/stranding/pkg"
)

// RemoveError lists the paths Clean couldn't remove
type RemoveError struct {
	Paths []string
}

func (e *RemoveError) Error() string {
	return "failed to remove " + strings.Join(e.Paths, ", ")
}

// Cleaner removes generated files below Root
type Cleaner struct {
	Root string
	// Paths are removed as they are (relative to Root)
	Paths []string
	// Patterns are matched against file and directory names anywhere below Root
	Patterns []string
	DryRun   bool
}

func insideGitDir(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".git" {
			return true
		}
	}
	return false
}

func outsideRoot(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel)
}

// Targets returns the existing files and directories that Clean would remove. Matches
// outside of Root and inside .git are never returned.
func (c *Cleaner) Targets() ([]string, error) {
	globs := make([]string, 0, len(c.Paths)+len(c.Patterns)*2)
	globs = append(globs, c.Paths...)
	for _, pattern := range c.Patterns {
		globs = append(globs, pattern, filepath.Join("**", pattern))
	}

	matches, err := pkg.GlobIn(c.Root, globs...)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	result := []string{}
	for _, match := range matches {
		rel, err := filepath.Rel(c.Root, match)
		if err != nil || rel == "." || outsideRoot(rel) || insideGitDir(rel) || seen[match] {
			continue
		}

		if _, err := os.Lstat(match); err != nil {
			continue
		}

		seen[match] = true
		result = append(result, match)
	}

	sort.Strings(result)
	return result, nil
}

// Clean removes the generated files. Missing paths are not errors. Failures to remove
// individual paths are logged and returned together after everything was tried.
func (c *Cleaner) Clean(ctx context.Context) ([]string, error) {
	logger := zerolog.Ctx(ctx)

	targets, err := c.Targets()
	if err != nil {
		return nil, err
	}

	removed := []string{}
	failed := []string{}
	for _, item := range targets {
		if c.DryRun {
			logger.Info().Str("path", item).Msg("would remove")
			removed = append(removed, item)
			continue
		}

		err := os.RemoveAll(item)
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", item).Msg("could not remove")
			failed = append(failed, item)
			continue
		}

		logger.Debug().Str("path", item).Msg("removed")
		removed = append(removed, item)
	}

	if len(failed) > 0 {
		return removed, &RemoveError{Paths: failed}
	}
	return removed, nil
}
