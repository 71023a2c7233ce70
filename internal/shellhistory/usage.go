package shellhistory

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultTopCommands is how many frequent commands are reported.
const DefaultTopCommands = 3

// CommandCount is how often a command name appears in history.
type CommandCount struct {
	Command string `json:"command"`
	Count   int    `json:"count"`
}

func (c CommandCount) String() string {
	return fmt.Sprintf("%s (%d)", c.Command, c.Count)
}

// TopCommands counts the first word of every line and returns the n most
// frequent. Equal counts keep the order in which commands were first seen.
func TopCommands(lines []string, n int) []CommandCount {
	if n <= 0 {
		return nil
	}

	index := make(map[string]int)
	var counts []CommandCount

	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		name := fields[0]
		if i, ok := index[name]; ok {
			counts[i].Count++
			continue
		}
		index[name] = len(counts)
		counts = append(counts, CommandCount{Command: name, Count: 1})
	}

	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Count > counts[j].Count
	})

	if len(counts) > n {
		counts = counts[:n]
	}
	return counts
}
