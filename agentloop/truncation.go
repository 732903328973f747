package agentloop

import (
	"fmt"
	"strings"
)

// TruncationMode specifies which part of oversized output survives.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Per-tool character limits applied before output re-enters the context.
var defaultCharLimits = map[string]int{
	"read":  50000,
	"bash":  30000,
	"grep":  20000,
	"glob":  20000,
	"edit":  10000,
	"write": 1000,
}

var defaultTruncationModes = map[string]TruncationMode{
	"read": TruncateHeadTail,
	"bash": TruncateHeadTail,
	"grep": TruncateTail,
	"glob": TruncateTail,
}

// Line limits applied after character truncation.
var defaultLineLimits = map[string]int{
	"bash": 256,
	"grep": 200,
	"glob": 500,
}

// truncateChars caps output at maxChars, keeping head and tail or just the
// tail depending on mode.
func truncateChars(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars
	if mode == TruncateTail {
		return fmt.Sprintf("[output truncated: first %d characters removed]\n\n", removed) +
			output[len(output)-maxChars:]
	}
	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[output truncated: %d characters removed from the middle. Re-run the tool with narrower parameters to see specific parts.]\n\n", removed) +
		output[len(output)-half:]
}

// truncateLines caps the line count with a head/tail split.
func truncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}
	head := maxLines / 2
	tail := maxLines - head
	omitted := len(lines) - head - tail
	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tail:], "\n")
}

// TruncateToolOutput applies the per-tool character cap and then the line
// cap. Overrides replace the defaults per tool name when non-nil.
func TruncateToolOutput(output, toolName string, charOverrides, lineOverrides map[string]int) string {
	maxChars, ok := charOverrides[toolName]
	if !ok {
		if maxChars, ok = defaultCharLimits[toolName]; !ok {
			maxChars = 30000
		}
	}
	mode, ok := defaultTruncationModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := truncateChars(output, maxChars, mode)

	maxLines, ok := lineOverrides[toolName]
	if !ok {
		maxLines = defaultLineLimits[toolName]
	}
	if maxLines > 0 {
		result = truncateLines(result, maxLines)
	}
	return result
}
