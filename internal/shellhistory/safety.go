package shellhistory

import "strings"

// DefaultWindow is how many of the most recent commands the safety check
// inspects.
const DefaultWindow = 80

// DangerousPatterns returns the literal substrings treated as destructive.
// Order is precedence when one line contains several.
func DangerousPatterns() []string {
	return []string{
		"rm -rf /",
		"mkfs",
		":(){ :|:& };:",
		"chmod 777",
		"dd if=",
	}
}

const (
	MessageNotFound  = "History file not found"
	MessageReadError = "Error reading history"
	MessageAllClear  = "No extremely dangerous command found"
)

// Finding locates a dangerous pattern in the history window.
type Finding struct {
	Pattern string `json:"pattern"`
	Line    string `json:"line"`
	// Index is the position within the scanned window, 0 being the oldest.
	Index int `json:"index"`
}

// Scan walks lines oldest to newest and, for each line, tries patterns in
// order. The first hit is returned, so the earliest offending line wins and
// pattern order breaks ties within it.
func Scan(lines, patterns []string) (Finding, bool) {
	for i, line := range lines {
		for _, p := range patterns {
			if p != "" && strings.Contains(line, p) {
				return Finding{Pattern: p, Line: line, Index: i}, true
			}
		}
	}
	return Finding{}, false
}

// WarningMessage renders a finding for display.
func WarningMessage(f Finding) string {
	return "WARNING: Dangerous command found -> " + f.Pattern
}
