package tools

import (
	"fmt"
	"strings"
)

// Per-tool character caps applied to results before they re-enter the
// model's context. Read and bash keep head and tail (beginnings and ends of
// files and command output both matter); search results keep the head.
var outputCharLimits = map[string]int{
	"read":  50000,
	"bash":  30000,
	"grep":  20000,
	"glob":  20000,
	"edit":  10000,
	"write": 1000,
}

const defaultOutputLimit = 30000

var headTailTools = map[string]bool{
	"read": true,
	"bash": true,
}

func truncateOutput(toolName, output string) string {
	limit, ok := outputCharLimits[toolName]
	if !ok {
		limit = defaultOutputLimit
	}
	if len(output) <= limit {
		return output
	}

	removed := len(output) - limit
	if headTailTools[toolName] {
		half := limit / 2
		return output[:half] +
			fmt.Sprintf("\n[... output truncated, %d characters removed from the middle; re-run with narrower parameters to see more ...]\n", removed) +
			output[len(output)-half:]
	}
	return strings.TrimRight(output[:limit], "\n") +
		fmt.Sprintf("\n[... output truncated, %d trailing characters removed ...]\n", removed)
}
