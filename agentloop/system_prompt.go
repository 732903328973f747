package agentloop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024

const baseInstructions = `You are a coding agent operating on a local project directory.

Work by calling the provided tools. Prefer small, verifiable steps: read
before you edit, and re-read after external changes. Use the edit tool for
targeted changes and the write tool only for new files or full rewrites.
When a tool reports an error, correct your input and retry rather than
repeating the same call. When the task is complete, reply with a final
message and no tool calls.`

// projectDocNames are instruction files loaded from the project tree into
// the system prompt.
var projectDocNames = []string{"AGENTS.md", "CLAUDE.md"}

// buildSystemPrompt assembles instructions, environment metadata, project
// instruction files, and optional user instructions.
func buildSystemPrompt(env *Env, model, userInstructions string) string {
	var sb strings.Builder
	sb.WriteString(baseInstructions)
	sb.WriteString("\n\n")
	sb.WriteString(environmentContext(env, model))

	if docs := loadProjectDocs(env.ProjectRoot()); docs != "" {
		sb.WriteString("\n\n# Project instructions\n\n")
		sb.WriteString(docs)
	}
	if git := gitContext(env.ProjectRoot()); git != "" {
		sb.WriteString("\n\n")
		sb.WriteString(git)
	}
	if userInstructions != "" {
		sb.WriteString("\n\n# User instructions\n\n")
		sb.WriteString(userInstructions)
	}
	return sb.String()
}

// environmentContext renders the structured environment block.
func environmentContext(env *Env, model string) string {
	root := env.ProjectRoot()
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", root)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isGitRepository(root))
	if branch := gitBranch(root); branch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", branch)
	}
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// loadProjectDocs collects instruction files from the git root down to the
// project directory, capped at 32KB total.
func loadProjectDocs(projectDir string) string {
	root := gitRoot(projectDir)
	if root == "" {
		root = projectDir
	}

	var docs []string
	totalBytes := 0
	for _, dir := range pathHierarchy(root, projectDir) {
		for _, name := range projectDocNames {
			content, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			remaining := maxProjectDocBytes - totalBytes
			if remaining <= 0 {
				docs = append(docs, "[project instructions truncated at 32KB]")
				return strings.Join(docs, "\n\n---\n\n")
			}
			text := string(content)
			if len(text) > remaining {
				text = text[:remaining] + "\n[project instructions truncated at 32KB]"
			}
			docs = append(docs, fmt.Sprintf("# %s (from %s)\n\n%s", name, dir, text))
			totalBytes += len(text)
		}
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// gitContext summarizes repository state for the prompt.
func gitContext(dir string) string {
	root := gitRoot(dir)
	if root == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<git_context>\n")
	if branch := gitBranch(root); branch != "" {
		fmt.Fprintf(&sb, "Branch: %s\n", branch)
	}
	if status := runGit(root, "status", "--short"); status != "" {
		lines := strings.Split(strings.TrimSpace(status), "\n")
		fmt.Fprintf(&sb, "Modified/untracked files: %d\n", len(lines))
	}
	if log := runGit(root, "log", "--oneline", "-10"); log != "" {
		sb.WriteString("Recent commits:\n")
		sb.WriteString(log)
	}
	sb.WriteString("</git_context>")
	return sb.String()
}

// pathHierarchy returns directories from root to target, inclusive.
func pathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	if root == target {
		return []string{root}
	}
	dirs := []string{root}
	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." {
			continue
		}
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func isGitRepository(dir string) bool {
	return strings.TrimSpace(runGit(dir, "rev-parse", "--is-inside-work-tree")) == "true"
}

func gitRoot(dir string) string {
	return strings.TrimSpace(runGit(dir, "rev-parse", "--show-toplevel"))
}

func gitBranch(dir string) string {
	return strings.TrimSpace(runGit(dir, "rev-parse", "--abbrev-ref", "HEAD"))
}

func runGit(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}
