package agentloop

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
)

// ExecResult holds the result of one subprocess execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// Output returns combined stdout and stderr.
func (r ExecResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// sensitiveEnvSuffixes mark environment variables withheld from child
// processes.
var sensitiveEnvSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"NVM_DIR": true, "RUSTUP_HOME": true, "PYENV_ROOT": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}

func filteredEnviron() []string {
	var filtered []string
	for _, entry := range os.Environ() {
		name, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// Env is the project-scoped environment tool handlers operate against.
// Relative paths resolve against the project root; absolute paths are used
// as given.
type Env struct {
	projectRoot string
}

// NewEnv creates an Env rooted at projectRoot (defaults to the current
// working directory when empty).
func NewEnv(projectRoot string) *Env {
	if projectRoot == "" {
		projectRoot, _ = os.Getwd()
	}
	abs, err := filepath.Abs(projectRoot)
	if err == nil {
		projectRoot = abs
	}
	return &Env{projectRoot: projectRoot}
}

// ProjectRoot returns the absolute project root directory.
func (e *Env) ProjectRoot() string {
	return e.projectRoot
}

// Resolve maps a tool-supplied path onto the filesystem.
func (e *Env) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.projectRoot, path)
}

// ReadNumbered reads a file and returns its content annotated with absolute
// 1-based line numbers. offset is the first line to include (1-based, 0
// means start); limit caps the number of lines (0 means no cap).
func (e *Env) ReadNumbered(path string, offset, limit int) (string, error) {
	data, err := os.ReadFile(e.Resolve(path))
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(data), "\n")
	// A trailing newline produces a phantom empty last element.
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	start := 0
	if offset > 1 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

// WriteFile writes content, creating missing parent directories and
// overwriting any existing file.
func (e *Env) WriteFile(path, content string) error {
	resolved := e.Resolve(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return err
	}
	return os.WriteFile(resolved, []byte(content), 0o644)
}

// Exec runs a shell command with a timeout. The child gets its own process
// group so a timeout or cancellation kills the whole tree, and the process
// is always reaped before Exec returns.
func (e *Env) Exec(ctx context.Context, command string, timeout time.Duration, workingDir string) (*ExecResult, error) {
	if workingDir == "" {
		workingDir = e.projectRoot
	} else {
		workingDir = e.Resolve(workingDir)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shell, shellArg := "/bin/bash", "-c"
	if runtime.GOOS == "windows" {
		shell, shellArg = "cmd.exe", "/c"
	}

	cmd := exec.CommandContext(ctx, shell, shellArg, command)
	cmd.Dir = workingDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = filteredEnviron()
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			result.TimedOut = true
			result.ExitCode = -1
		case ctx.Err() == context.Canceled:
			result.ExitCode = -1
			return result, ctx.Err()
		default:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitCode()
			} else {
				return nil, err
			}
		}
	}
	return result, nil
}

// Glob returns project-relative paths matching pattern (doublestar syntax,
// so ** crosses directory boundaries), ordered most recently modified
// first.
func (e *Env) Glob(pattern, base string) ([]string, error) {
	if base == "" {
		base = e.projectRoot
	} else {
		base = e.Resolve(base)
	}

	matches, err := doublestar.Glob(os.DirFS(base), pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}

	type matched struct {
		path  string
		mtime time.Time
	}
	var files []matched
	for _, m := range matches {
		info, err := os.Stat(filepath.Join(base, m))
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, matched{path: m, mtime: info.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].mtime.After(files[j].mtime)
	})

	result := make([]string, len(files))
	for i, f := range files {
		result[i] = f.path
	}
	return result, nil
}

// GrepOptions configures a content search.
type GrepOptions struct {
	GlobFilter      string
	CaseInsensitive bool
	ContextLines    int
	MaxResults      int
}

// GrepResult is the outcome of one content search.
type GrepResult struct {
	Matches      []string
	SkippedFiles int
	Truncated    bool
}

// Grep scans files under path for a regex pattern and returns matching
// lines with surrounding context. A file that cannot be decoded as text is
// skipped and counted rather than failing the whole search.
func (e *Env) Grep(ctx context.Context, pattern, path string, opts GrepOptions) (*GrepResult, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 100
	}
	if path == "" {
		path = e.projectRoot
	} else {
		path = e.Resolve(path)
	}
	expr := pattern
	if opts.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}

	res := &GrepResult{}
	walkErr := filepath.WalkDir(path, func(p string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if ignored(entry.Name()) && p != path {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if res.Truncated {
			return filepath.SkipAll
		}
		rel, rerr := filepath.Rel(e.projectRoot, p)
		if rerr != nil {
			rel = p
		}
		if opts.GlobFilter != "" {
			// A bare filter like "*.go" matches the file name; a filter with
			// a separator like "src/**/*.go" matches the relative path.
			target := filepath.Base(p)
			if strings.ContainsRune(opts.GlobFilter, '/') {
				target = filepath.ToSlash(rel)
			}
			ok, merr := doublestar.Match(opts.GlobFilter, target)
			if merr != nil || !ok {
				return nil
			}
		}
		e.grepFile(p, rel, re, opts, res)
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		return nil, walkErr
	}
	return res, nil
}

// grepFile scans one file, appending matches to res.
func (e *Env) grepFile(path, rel string, re *regexp.Regexp, opts GrepOptions, res *GrepResult) {
	data, err := os.ReadFile(path)
	if err != nil {
		res.SkippedFiles++
		return
	}
	if !looksLikeText(data) {
		res.SkippedFiles++
		return
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if scanner.Err() != nil {
		res.SkippedFiles++
		return
	}

	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		if len(res.Matches) >= opts.MaxResults {
			res.Truncated = true
			return
		}
		var sb strings.Builder
		lo := i - opts.ContextLines
		if lo < 0 {
			lo = 0
		}
		hi := i + opts.ContextLines
		if hi >= len(lines) {
			hi = len(lines) - 1
		}
		for j := lo; j <= hi; j++ {
			sep := "-"
			if j == i {
				sep = ":"
			}
			fmt.Fprintf(&sb, "%s%s%d%s%s\n", rel, sep, j+1, sep, lines[j])
		}
		res.Matches = append(res.Matches, strings.TrimRight(sb.String(), "\n"))
	}
}

// ignored mirrors the watcher's exclusion list for search and walks.
func ignored(name string) bool {
	switch name {
	case ".git", ".hg", ".svn", "node_modules", "__pycache__", ".venv", "venv", ".idea", ".micro-cc":
		return true
	}
	return false
}

// looksLikeText probes the head of the file for null bytes and UTF-8
// validity.
func looksLikeText(data []byte) bool {
	probe := data
	truncated := false
	if len(probe) > 8192 {
		probe = probe[:8192]
		truncated = true
	}
	if bytes.IndexByte(probe, 0) >= 0 {
		return false
	}
	if truncated {
		// The cut may have split a rune; drop up to the last partial one.
		for i := 0; i < utf8.UTFMax && len(probe) > 0 && !utf8.Valid(probe); i++ {
			probe = probe[:len(probe)-1]
		}
	}
	return utf8.Valid(probe)
}
