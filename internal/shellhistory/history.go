// Package shellhistory reads the user's shell command history and derives a
// safety verdict and command usage statistics from it.
package shellhistory

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Locate when no recognised history file exists.
var ErrNotFound = errors.New("history file not found")

// DefaultPaths lists recognised history files in preference order.
func DefaultPaths() []string {
	return []string{"~/.bash_history", "~/.zsh_history"}
}

// Locate returns the first path in paths that exists as a regular file.
// A leading "~/" is expanded to the current user's home directory.
func Locate(paths []string) (string, error) {
	for _, p := range paths {
		expanded, err := expandHome(p)
		if err != nil {
			continue
		}
		if info, err := os.Stat(expanded); err == nil && !info.IsDir() {
			return expanded, nil
		}
	}
	return "", ErrNotFound
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// ReadLines reads path and returns its non-blank lines, trimmed, in file
// order. Invalid UTF-8 is dropped rather than failing the read, and zsh
// extended-history prefixes (": <epoch>:<elapsed>;") are removed. The read
// stops early with ctx's error if ctx is cancelled.
func ReadLines(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	defer f.Close()

	return readLines(ctx, f)
}

func readLines(ctx context.Context, r io.Reader) ([]string, error) {
	var lines []string

	br := bufio.NewReader(r)
	for n := 0; ; n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		raw, err := br.ReadString('\n')
		if line := cleanLine(raw); line != "" {
			lines = append(lines, line)
		}

		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read history: %w", err)
		}
	}
}

func cleanLine(raw string) string {
	line := strings.TrimSpace(strings.ToValidUTF8(raw, ""))
	return strings.TrimSpace(stripZshPrefix(line))
}

// stripZshPrefix removes the ": 1700000000:0;" timestamp header zsh writes
// when EXTENDED_HISTORY is set.
func stripZshPrefix(line string) string {
	if !strings.HasPrefix(line, ": ") {
		return line
	}

	semi := strings.IndexByte(line, ';')
	if semi < 0 {
		return line
	}

	meta := line[2:semi]
	colon := strings.IndexByte(meta, ':')
	if colon <= 0 || !allDigits(meta[:colon]) || !allDigits(meta[colon+1:]) {
		return line
	}
	return line[semi+1:]
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Tail returns the last n lines, or all of them when there are fewer.
func Tail(lines []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
