package shellhistory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeHistory(t *testing.T, dir, name string, lines []string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("Failed to write history: %v", err)
	}
	return path
}

func numberedLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("ls -la /tmp/%d", i)
	}
	return lines
}

func TestScan_EarliestLineWins(t *testing.T) {
	lines := numberedLines(DefaultWindow)
	lines[10] = "mkfs /dev/sda"
	lines[40] = "chmod 777 /etc"

	f, ok := Scan(lines, DangerousPatterns())
	if !ok {
		t.Fatal("Scan() found nothing")
	}

	if f.Pattern != "mkfs" || f.Index != 10 {
		t.Errorf("Scan() = %+v, want mkfs at 10", f)
	}
}

func TestScan_PatternOrderBreaksTies(t *testing.T) {
	lines := []string{"dd if=/dev/zero of=x; chmod 777 x; mkfs x"}

	f, ok := Scan(lines, DangerousPatterns())
	if !ok || f.Pattern != "mkfs" {
		t.Errorf("Scan() = %+v, %v; want mkfs", f, ok)
	}
}

func TestScan_AllPatterns(t *testing.T) {
	for _, p := range DangerousPatterns() {
		lines := []string{"echo safe", "sudo " + p + " something"}

		f, ok := Scan(lines, DangerousPatterns())
		if !ok || f.Pattern != p || f.Index != 1 {
			t.Errorf("Scan() for %q = %+v, %v", p, f, ok)
		}
	}
}

func TestScan_NoMatch(t *testing.T) {
	if f, ok := Scan(numberedLines(20), DangerousPatterns()); ok {
		t.Errorf("Scan() = %+v, want no finding", f)
	}
}

func TestTail(t *testing.T) {
	lines := numberedLines(100)

	if got := Tail(lines, 80); len(got) != 80 || got[0] != lines[20] {
		t.Errorf("Tail(100 lines, 80) starts at %q, len %d", got[0], len(got))
	}
	if got := Tail(lines[:5], 80); len(got) != 5 {
		t.Errorf("Tail(5 lines, 80) len = %d, want 5", len(got))
	}
	if got := Tail(lines, 0); got != nil {
		t.Errorf("Tail(n=0) = %v, want nil", got)
	}
}

func TestTopCommands(t *testing.T) {
	lines := []string{
		"git status",
		"ls",
		"git diff",
		"vim main.go",
		"ls -la",
		"make test",
		"git commit",
		"make",
	}

	got := TopCommands(lines, 3)
	want := []CommandCount{{"git", 3}, {"ls", 2}, {"make", 2}}

	if len(got) != len(want) {
		t.Fatalf("TopCommands() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("TopCommands()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTopCommands_TiesKeepFirstSeenOrder(t *testing.T) {
	lines := []string{"zz", "aa", "mm", "aa", "zz", "mm"}

	got := TopCommands(lines, 3)
	if got[0].Command != "zz" || got[1].Command != "aa" || got[2].Command != "mm" {
		t.Errorf("TopCommands() = %v, want first-seen order zz, aa, mm", got)
	}
}

func TestTopCommands_Edges(t *testing.T) {
	if got := TopCommands(nil, 3); len(got) != 0 {
		t.Errorf("TopCommands(nil) = %v", got)
	}
	if got := TopCommands([]string{"a"}, 0); got != nil {
		t.Errorf("TopCommands(n=0) = %v", got)
	}
	if got := (CommandCount{"git", 4}).String(); got != "git (4)" {
		t.Errorf("String() = %q", got)
	}
}

func TestReadLines_TolerantDecoding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hist")
	content := "ls\n\n   \ncat \xff\xfefile\n: 1700000000:0;git push\n: not a stamp;echo hi\n  make  \n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	lines, err := ReadLines(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadLines() error = %v", err)
	}

	want := []string{"ls", "cat file", "git push", ": not a stamp;echo hi", "make"}
	if len(lines) != len(want) {
		t.Fatalf("ReadLines() = %q, want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestReadLines_Cancelled(t *testing.T) {
	path := writeHistory(t, t.TempDir(), "hist", numberedLines(10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ReadLines(ctx, path); err == nil {
		t.Error("ReadLines() with cancelled context should fail")
	}
}

func TestLocate_PreferenceOrder(t *testing.T) {
	dir := t.TempDir()
	zsh := writeHistory(t, dir, ".zsh_history", []string{"ls"})
	bash := filepath.Join(dir, ".bash_history")

	got, err := Locate([]string{bash, zsh})
	if err != nil || got != zsh {
		t.Errorf("Locate() = %q, %v; want %q", got, err, zsh)
	}

	writeHistory(t, dir, ".bash_history", []string{"ls"})
	got, err = Locate([]string{bash, zsh})
	if err != nil || got != bash {
		t.Errorf("Locate() = %q, %v; want %q", got, err, bash)
	}
}

func TestLocate_NotFound(t *testing.T) {
	dir := t.TempDir()
	if _, err := Locate([]string{filepath.Join(dir, "a"), dir}); err != ErrNotFound {
		t.Errorf("Locate() error = %v, want ErrNotFound", err)
	}
}

func TestLocate_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	want := writeHistory(t, home, ".bash_history", []string{"ls"})

	got, err := Locate([]string{"~/.bash_history"})
	if err != nil || got != want {
		t.Errorf("Locate() = %q, %v; want %q", got, err, want)
	}
}

func TestAnalyzer_Report(t *testing.T) {
	dir := t.TempDir()
	lines := numberedLines(DefaultWindow)
	lines[10] = "mkfs /dev/sda"
	lines[40] = "chmod 777 /etc"
	// Older than the window, must be ignored by the safety check.
	lines = append([]string{"rm -rf / --no-preserve-root"}, lines...)
	path := writeHistory(t, dir, ".bash_history", lines)

	a := NewAnalyzer(Options{Paths: []string{path}}, nil)
	r := a.Analyze(context.Background())

	if r.Status != StatusOK {
		t.Fatalf("Status = %v, want ok", r.Status)
	}
	if r.SafetyMessage != "WARNING: Dangerous command found -> mkfs" {
		t.Errorf("SafetyMessage = %q", r.SafetyMessage)
	}
	if r.Finding == nil || r.Finding.Index != 10 {
		t.Errorf("Finding = %+v, want index 10", r.Finding)
	}
	if r.TotalCommands != DefaultWindow+1 {
		t.Errorf("TotalCommands = %d, want %d", r.TotalCommands, DefaultWindow+1)
	}
	if len(r.TopCommands) == 0 || r.TopCommands[0].Command != "ls" {
		t.Errorf("TopCommands = %v, want ls first", r.TopCommands)
	}
}

func TestAnalyzer_AllClear(t *testing.T) {
	path := writeHistory(t, t.TempDir(), "hist", []string{"ls", "cd /tmp"})

	r := NewAnalyzer(Options{Paths: []string{path}}, nil).Analyze(context.Background())
	if r.Status != StatusOK || r.SafetyMessage != MessageAllClear || r.Finding != nil {
		t.Errorf("Analyze() = %+v", r)
	}
}

func TestAnalyzer_NotFound(t *testing.T) {
	a := NewAnalyzer(Options{Paths: []string{filepath.Join(t.TempDir(), "missing")}}, nil)

	r := a.Analyze(context.Background())
	if r.Status != StatusNotFound || r.SafetyMessage != MessageNotFound {
		t.Errorf("Analyze() = %+v", r)
	}
}

func TestAnalyzer_ReadError(t *testing.T) {
	path := writeHistory(t, t.TempDir(), "hist", []string{"ls"})

	a := NewAnalyzer(Options{Paths: []string{path}, ReadTimeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := a.Analyze(ctx)
	if r.Status != StatusReadError || r.SafetyMessage != MessageReadError {
		t.Errorf("Analyze() = %+v", r)
	}
}
