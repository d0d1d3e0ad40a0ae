package pkg

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// GetProjectRoot returns the closest parent directory of start that contains a .git
// folder or a tasks.star file.
func GetProjectRoot(start string) (string, error) {
	mypath, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrap(err, "Failed to determine the absolute path")
	}

	for {
		for _, marker := range []string{".git", "tasks.star"} {
			_, err := os.Stat(filepath.Join(mypath, marker))
			if err == nil {
				return mypath, nil
			}

			if !eris.Is(err, os.ErrNotExist) {
				return "", eris.Wrap(err, "Error ocurred while searching for project root")
			}
		}

		nextPath := filepath.Dir(mypath)
		if mypath == nextPath {
			break
		}
		mypath = nextPath
	}

	return "", eris.New("Project root not found")
}

func readDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	result := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// removed in the meantime
			continue
		}
		result = append(result, info)
	}
	return result, nil
}

// quoteLiteral returns word parts that expand to s without any globbing, splitting or
// variable expansion.
func quoteLiteral(s string) []syntax.WordPart {
	parts := []syntax.WordPart{}
	for idx, chunk := range strings.Split(s, "'") {
		if idx > 0 {
			parts = append(parts, &syntax.DblQuoted{Parts: []syntax.WordPart{&syntax.Lit{Value: "'"}}})
		}
		if chunk != "" {
			parts = append(parts, &syntax.SglQuoted{Value: chunk})
		}
	}
	return parts
}

// globWord builds a shell word from pattern. Only *, ? and [...] are wildcards;
// everything else (spaces, $, quotes, braces) is literal text.
func globWord(pattern string) (*syntax.Word, bool) {
	word := &syntax.Word{}
	literal := strings.Builder{}
	hasGlob := false

	flush := func() {
		if literal.Len() > 0 {
			word.Parts = append(word.Parts, quoteLiteral(literal.String())...)
			literal.Reset()
		}
	}

	for idx := 0; idx < len(pattern); idx++ {
		switch c := pattern[idx]; c {
		case '*', '?':
			flush()
			word.Parts = append(word.Parts, &syntax.Lit{Value: string(c)})
			hasGlob = true
		case '[':
			end := strings.IndexByte(pattern[idx+1:], ']')
			if end < 0 {
				literal.WriteByte(c)
				continue
			}

			flush()
			word.Parts = append(word.Parts, &syntax.Lit{Value: pattern[idx : idx+end+2]})
			idx += end + 1
			hasGlob = true
		default:
			literal.WriteByte(c)
		}
	}
	flush()

	return word, hasGlob
}

// globAll expands patterns. Relative patterns are resolved in root (or the working
// directory if root is empty) and root itself is never part of a pattern.
func globAll(root string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  readDir,
		GlobStar: true,
	}
	if root != "" {
		cfg.Env = expand.ListEnviron("PWD=" + root)
	}

	for _, item := range patterns {
		item = filepath.ToSlash(item)
		word, hasGlob := globWord(item)
		if len(word.Parts) == 0 {
			continue
		}

		matches, err := expand.Fields(&cfg, word)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// A pattern that didn't match anything is returned as it is. Skip those results.
			if hasGlob && match == item {
				continue
			}

			match = filepath.FromSlash(match)
			if root != "" && !filepath.IsAbs(match) {
				match = filepath.Join(root, match)
			}
			result = append(result, match)
		}
	}
	return result, nil
}

// Glob expands the wildcards *, ?, [...] and ** in each pattern. Patterns that don't
// match anything are dropped while plain paths are returned whether they exist or not.
// No other shell syntax is interpreted: spaces, quotes and $ are part of the path.
func Glob(patterns ...string) ([]string, error) {
	return globAll("", patterns)
}

// GlobIn works like Glob but resolves relative patterns below root. root is never
// treated as a pattern.
func GlobIn(root string, patterns ...string) ([]string, error) {
	return globAll(root, patterns)
}

func PrintTask(msg string) {
	colorstring.Printf("[blue][bold]==>[default] %s\n", msg)
}

func PrintSubtask(msg string) {
	colorstring.Printf("[green][bold]  ->[reset] %s\n", msg)
}

func PrintError(msg string) {
	colorstring.Printf("[red][bold]  ->[reset] %s\n", msg)
}
