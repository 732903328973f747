package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgesalapa/micro-cc/patch"
)

// Default and maximum subprocess timeouts.
const (
	DefaultCommandTimeout = 10 * time.Second
	MaxCommandTimeout     = 10 * time.Minute
)

// RegisterCoreTools registers the built-in tool set on a Registry.
func RegisterCoreTools(reg *Registry) {
	registerBash(reg)
	registerRead(reg)
	registerWrite(reg)
	registerEdit(reg)
	registerGlob(reg)
	registerGrep(reg)
}

func registerBash(reg *Registry) {
	reg.Register(RegisteredTool{
		Spec: ToolSpec{
			Name:        "bash",
			Description: "Execute a shell command. Returns stdout, stderr, and exit code. Commands run from the project root unless a relative working_dir is given.",
			Dangerous:   true,
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command": map[string]interface{}{
						"type":        "string",
						"description": "The command to run.",
					},
					"timeout_ms": map[string]interface{}{
						"type":        "integer",
						"description": "Timeout in milliseconds. Default 10000, max 600000.",
					},
					"working_dir": map[string]interface{}{
						"type":        "string",
						"description": "Working directory for the command.",
					},
				},
				"required": []string{"command"},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage, env *Env) Outcome {
			args, err := parseArgs(raw)
			if err != nil {
				return Errf("%v", err)
			}
			command, ok := stringArg(args, "command")
			if !ok || command == "" {
				return Errf("command is required")
			}
			timeoutMs, _ := intArg(args, "timeout_ms")
			timeout := DefaultCommandTimeout
			if timeoutMs > 0 {
				timeout = time.Duration(timeoutMs) * time.Millisecond
			}
			if timeout > MaxCommandTimeout {
				timeout = MaxCommandTimeout
			}
			workingDir, _ := stringArg(args, "working_dir")

			result, err := env.Exec(ctx, command, timeout, workingDir)
			if err != nil {
				return Errf("command failed to run: %v", err)
			}

			var sb strings.Builder
			sb.WriteString(result.Output())
			if result.TimedOut {
				fmt.Fprintf(&sb, "\n\n[command timed out after %s; partial output above. Retry with a larger timeout_ms if needed.]", timeout)
			} else if result.ExitCode != 0 {
				fmt.Fprintf(&sb, "\n\n[exit code: %d]", result.ExitCode)
			}
			if result.TimedOut || result.ExitCode != 0 {
				return Outcome{Status: StatusError, Payload: sb.String()}
			}
			return OK(sb.String())
		},
	})
}

func registerRead(reg *Registry) {
	reg.Register(RegisteredTool{
		Spec: ToolSpec{
			Name:        "read",
			Description: "Read a file. Returns content annotated with absolute line numbers.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path to the file.",
					},
					"offset": map[string]interface{}{
						"type":        "integer",
						"description": "1-based line number to start from.",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of lines. Default 2000.",
					},
				},
				"required": []string{"path"},
			},
		},
		Handler: func(_ context.Context, raw json.RawMessage, env *Env) Outcome {
			args, err := parseArgs(raw)
			if err != nil {
				return Errf("%v", err)
			}
			path, ok := stringArg(args, "path")
			if !ok || path == "" {
				return Errf("path is required")
			}
			offset, _ := intArg(args, "offset")
			limit, _ := intArg(args, "limit")
			if limit <= 0 {
				limit = 2000
			}
			content, err := env.ReadNumbered(path, offset, limit)
			if err != nil {
				return Errf("read %s: %v", path, err)
			}
			return OK(content)
		},
	})
}

func registerWrite(reg *Registry) {
	reg.Register(RegisteredTool{
		Spec: ToolSpec{
			Name:        "write",
			Description: "Write content to a file, creating parent directories and overwriting any existing content.",
			Dangerous:   true,
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path to write.",
					},
					"content": map[string]interface{}{
						"type":        "string",
						"description": "Full file content.",
					},
				},
				"required": []string{"path", "content"},
			},
		},
		Handler: func(_ context.Context, raw json.RawMessage, env *Env) Outcome {
			args, err := parseArgs(raw)
			if err != nil {
				return Errf("%v", err)
			}
			path, ok := stringArg(args, "path")
			if !ok || path == "" {
				return Errf("path is required")
			}
			content, ok := stringArg(args, "content")
			if !ok {
				return Errf("content is required")
			}
			if err := env.WriteFile(path, content); err != nil {
				return Errf("write %s: %v", path, err)
			}
			return OKHint(
				fmt.Sprintf("Wrote %d bytes to %s", len(content), path),
				fmt.Sprintf("write %s", path),
			)
		},
	})
}

func registerEdit(reg *Registry) {
	reg.Register(RegisteredTool{
		Spec: ToolSpec{
			Name:        "edit",
			Description: "Replace an exact string in a file. old_string must occur exactly once; add surrounding context to disambiguate repeated text.",
			Dangerous:   true,
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Path to the file.",
					},
					"old_string": map[string]interface{}{
						"type":        "string",
						"description": "Exact text to find. Must be unique in the file.",
					},
					"new_string": map[string]interface{}{
						"type":        "string",
						"description": "Replacement text.",
					},
				},
				"required": []string{"path", "old_string", "new_string"},
			},
		},
		Handler: func(_ context.Context, raw json.RawMessage, env *Env) Outcome {
			args, err := parseArgs(raw)
			if err != nil {
				return Errf("%v", err)
			}
			path, ok := stringArg(args, "path")
			if !ok || path == "" {
				return Errf("path is required")
			}
			oldString, ok := stringArg(args, "old_string")
			if !ok {
				return Errf("old_string is required")
			}
			newString, ok := stringArg(args, "new_string")
			if !ok {
				return Errf("new_string is required")
			}

			result, err := patch.Apply(patch.Request{
				Path:      env.Resolve(path),
				OldString: oldString,
				NewString: newString,
			})
			if err != nil {
				var notFound *patch.NotFoundError
				var ambiguous *patch.AmbiguousMatchError
				switch {
				case errors.As(err, &notFound):
					return Errf("old_string not found in %s; re-read the file and retry with exact text", path)
				case errors.As(err, &ambiguous):
					return Errf("old_string occurs %d times in %s; include more surrounding context to make it unique", ambiguous.Count, path)
				default:
					return Errf("edit %s: %v", path, err)
				}
			}
			return OKHint(
				fmt.Sprintf("Edited %s at line %d (%+d lines)\n%s", path, result.StartLine, result.LineDelta, result.Preview),
				fmt.Sprintf("edit %s:%d", path, result.StartLine),
			)
		},
	})
}

func registerGlob(reg *Registry) {
	reg.Register(RegisteredTool{
		Spec: ToolSpec{
			Name:        "glob",
			Description: "Find files matching a glob pattern (** supported). Paths are ordered most recently modified first.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{
						"type":        "string",
						"description": "Glob pattern, e.g. \"**/*.go\".",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Base directory. Default: project root.",
					},
				},
				"required": []string{"pattern"},
			},
		},
		Handler: func(_ context.Context, raw json.RawMessage, env *Env) Outcome {
			args, err := parseArgs(raw)
			if err != nil {
				return Errf("%v", err)
			}
			pattern, ok := stringArg(args, "pattern")
			if !ok || pattern == "" {
				return Errf("pattern is required")
			}
			base, _ := stringArg(args, "path")

			matches, err := env.Glob(pattern, base)
			if err != nil {
				return Errf("%v", err)
			}
			if len(matches) == 0 {
				return OK("No files matched the pattern.")
			}
			return OK(strings.Join(matches, "\n"))
		},
	})
}

func registerGrep(reg *Registry) {
	reg.Register(RegisteredTool{
		Spec: ToolSpec{
			Name:        "grep",
			Description: "Search file contents with a regex. Returns matching lines with context; binary files are skipped.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{
						"type":        "string",
						"description": "Regex pattern.",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"description": "File or directory to search. Default: project root.",
					},
					"glob_filter": map[string]interface{}{
						"type":        "string",
						"description": "File filter. \"*.go\" matches file names; a filter with a slash, e.g. \"src/**/*.go\", matches project-relative paths.",
					},
					"case_insensitive": map[string]interface{}{
						"type":        "boolean",
						"description": "Case insensitive search.",
					},
					"context_lines": map[string]interface{}{
						"type":        "integer",
						"description": "Lines of context around each match. Default 0.",
					},
					"max_results": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum matches to return. Default 100.",
					},
				},
				"required": []string{"pattern"},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage, env *Env) Outcome {
			args, err := parseArgs(raw)
			if err != nil {
				return Errf("%v", err)
			}
			pattern, ok := stringArg(args, "pattern")
			if !ok || pattern == "" {
				return Errf("pattern is required")
			}
			path, _ := stringArg(args, "path")
			globFilter, _ := stringArg(args, "glob_filter")
			caseInsensitive, _ := boolArg(args, "case_insensitive")
			contextLines, _ := intArg(args, "context_lines")
			maxResults, _ := intArg(args, "max_results")

			result, err := env.Grep(ctx, pattern, path, GrepOptions{
				GlobFilter:      globFilter,
				CaseInsensitive: caseInsensitive,
				ContextLines:    contextLines,
				MaxResults:      maxResults,
			})
			if err != nil {
				return Errf("%v", err)
			}

			var sb strings.Builder
			if len(result.Matches) == 0 {
				sb.WriteString("No matches found.")
			} else {
				sb.WriteString(strings.Join(result.Matches, "\n--\n"))
			}
			if result.Truncated {
				sb.WriteString("\n[result limit reached; narrow the pattern to see more]")
			}
			if result.SkippedFiles > 0 {
				fmt.Fprintf(&sb, "\n[%d non-text files skipped]", result.SkippedFiles)
			}
			return OK(sb.String())
		},
	})
}
