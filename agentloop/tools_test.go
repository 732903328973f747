package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coreEnv(t *testing.T) (*Registry, *Env) {
	t.Helper()
	reg := NewRegistry()
	RegisterCoreTools(reg)
	return reg, NewEnv(t.TempDir())
}

func rawArgs(t *testing.T, m map[string]interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return raw
}

func TestExecuteUnknownToolReturnsErrorOutcome(t *testing.T) {
	reg, env := coreEnv(t)
	outcome := reg.Execute(context.Background(), "nope", nil, env)
	assert.True(t, outcome.IsError())
	assert.Contains(t, outcome.Payload, "unknown tool")
}

func TestExecuteRecoversHandlerPanic(t *testing.T) {
	reg := NewRegistry()
	reg.Register(RegisteredTool{
		Spec: ToolSpec{Name: "boom"},
		Handler: func(_ context.Context, _ json.RawMessage, _ *Env) Outcome {
			panic("kaboom")
		},
	})
	outcome := reg.Execute(context.Background(), "boom", nil, NewEnv(t.TempDir()))
	assert.True(t, outcome.IsError())
	assert.Contains(t, outcome.Payload, "kaboom")
}

func TestReadToolNumbersLines(t *testing.T) {
	reg, env := coreEnv(t)
	require.NoError(t, env.WriteFile("f.txt", "alpha\nbeta\ngamma\n"))

	outcome := reg.Execute(context.Background(), "read", rawArgs(t, map[string]interface{}{"path": "f.txt"}), env)
	require.Equal(t, StatusOK, outcome.Status)
	assert.Contains(t, outcome.Payload, "1\talpha")
	assert.Contains(t, outcome.Payload, "3\tgamma")
}

func TestReadToolOffsetAndLimit(t *testing.T) {
	reg, env := coreEnv(t)
	var sb strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&sb, "line%d\n", i)
	}
	require.NoError(t, env.WriteFile("f.txt", sb.String()))

	outcome := reg.Execute(context.Background(), "read", rawArgs(t, map[string]interface{}{
		"path": "f.txt", "offset": 4, "limit": 2,
	}), env)
	require.Equal(t, StatusOK, outcome.Status)
	assert.Contains(t, outcome.Payload, "4\tline4")
	assert.Contains(t, outcome.Payload, "5\tline5")
	assert.NotContains(t, outcome.Payload, "line6")
}

func TestWriteToolCreatesParentDirectories(t *testing.T) {
	reg, env := coreEnv(t)
	outcome := reg.Execute(context.Background(), "write", rawArgs(t, map[string]interface{}{
		"path": "deep/nested/file.txt", "content": "hello",
	}), env)
	require.Equal(t, StatusOK, outcome.Status)

	data, err := os.ReadFile(filepath.Join(env.ProjectRoot(), "deep", "nested", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestEditToolAppliesUniqueMatch(t *testing.T) {
	reg, env := coreEnv(t)
	require.NoError(t, env.WriteFile("f.txt", "a\nb\nc\n"))

	outcome := reg.Execute(context.Background(), "edit", rawArgs(t, map[string]interface{}{
		"path": "f.txt", "old_string": "b", "new_string": "B",
	}), env)
	require.Equal(t, StatusOK, outcome.Status)
	assert.Contains(t, outcome.Payload, "line 2")

	data, err := os.ReadFile(filepath.Join(env.ProjectRoot(), "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\n", string(data))
}

func TestEditToolRefusesAmbiguousMatch(t *testing.T) {
	reg, env := coreEnv(t)
	require.NoError(t, env.WriteFile("f.txt", "dup\ndup\n"))

	outcome := reg.Execute(context.Background(), "edit", rawArgs(t, map[string]interface{}{
		"path": "f.txt", "old_string": "dup", "new_string": "x",
	}), env)
	assert.True(t, outcome.IsError())
	assert.Contains(t, outcome.Payload, "2 times")

	data, err := os.ReadFile(filepath.Join(env.ProjectRoot(), "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "dup\ndup\n", string(data))
}

func TestEditToolReportsMissingText(t *testing.T) {
	reg, env := coreEnv(t)
	require.NoError(t, env.WriteFile("f.txt", "content\n"))

	outcome := reg.Execute(context.Background(), "edit", rawArgs(t, map[string]interface{}{
		"path": "f.txt", "old_string": "absent", "new_string": "x",
	}), env)
	assert.True(t, outcome.IsError())
	assert.Contains(t, outcome.Payload, "not found")
}

func TestGlobOrdersByModTimeDescending(t *testing.T) {
	reg, env := coreEnv(t)
	old := filepath.Join(env.ProjectRoot(), "old.go")
	mid := filepath.Join(env.ProjectRoot(), "mid.go")
	new_ := filepath.Join(env.ProjectRoot(), "new.go")
	for _, p := range []string{old, mid, new_} {
		require.NoError(t, os.WriteFile(p, []byte("package x\n"), 0o644))
	}
	now := time.Now()
	require.NoError(t, os.Chtimes(old, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(mid, now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(new_, now, now))

	outcome := reg.Execute(context.Background(), "glob", rawArgs(t, map[string]interface{}{"pattern": "*.go"}), env)
	require.Equal(t, StatusOK, outcome.Status)
	assert.Equal(t, []string{"new.go", "mid.go", "old.go"}, strings.Split(outcome.Payload, "\n"))
}

func TestGlobDoubleStarCrossesDirectories(t *testing.T) {
	reg, env := coreEnv(t)
	require.NoError(t, env.WriteFile("a/b/deep.go", "package b\n"))
	require.NoError(t, env.WriteFile("top.go", "package top\n"))

	outcome := reg.Execute(context.Background(), "glob", rawArgs(t, map[string]interface{}{"pattern": "**/*.go"}), env)
	require.Equal(t, StatusOK, outcome.Status)
	assert.Contains(t, outcome.Payload, filepath.Join("a", "b", "deep.go"))
	assert.Contains(t, outcome.Payload, "top.go")
}

func TestGrepFindsMatchesWithContext(t *testing.T) {
	reg, env := coreEnv(t)
	require.NoError(t, env.WriteFile("src.go", "one\ntwo target two\nthree\n"))

	outcome := reg.Execute(context.Background(), "grep", rawArgs(t, map[string]interface{}{
		"pattern": "target", "context_lines": 1,
	}), env)
	require.Equal(t, StatusOK, outcome.Status)
	assert.Contains(t, outcome.Payload, "src.go:2:two target two")
	assert.Contains(t, outcome.Payload, "src.go-1-one")
	assert.Contains(t, outcome.Payload, "src.go-3-three")
}

func TestGrepSkipsAndCountsBinaryFiles(t *testing.T) {
	reg, env := coreEnv(t)
	require.NoError(t, env.WriteFile("text.txt", "needle here\n"))
	binary := append([]byte("needle"), 0x00, 0x01, 0x02)
	require.NoError(t, os.WriteFile(filepath.Join(env.ProjectRoot(), "blob.bin"), binary, 0o644))

	outcome := reg.Execute(context.Background(), "grep", rawArgs(t, map[string]interface{}{"pattern": "needle"}), env)
	require.Equal(t, StatusOK, outcome.Status)
	assert.Contains(t, outcome.Payload, "text.txt:1:needle here")
	assert.Contains(t, outcome.Payload, "1 non-text files skipped")
}

func TestGrepGlobFilterMatchesNamesAndPaths(t *testing.T) {
	reg, env := coreEnv(t)
	require.NoError(t, env.WriteFile("src/deep/a.go", "needle\n"))
	require.NoError(t, env.WriteFile("other/b.go", "needle\n"))
	require.NoError(t, env.WriteFile("src/c.txt", "needle\n"))

	byName := reg.Execute(context.Background(), "grep", rawArgs(t, map[string]interface{}{
		"pattern": "needle", "glob_filter": "*.go",
	}), env)
	require.Equal(t, StatusOK, byName.Status)
	assert.Contains(t, byName.Payload, "a.go")
	assert.Contains(t, byName.Payload, "b.go")
	assert.NotContains(t, byName.Payload, "c.txt")

	byPath := reg.Execute(context.Background(), "grep", rawArgs(t, map[string]interface{}{
		"pattern": "needle", "glob_filter": "src/**/*.go",
	}), env)
	require.Equal(t, StatusOK, byPath.Status)
	assert.Contains(t, byPath.Payload, "a.go")
	assert.NotContains(t, byPath.Payload, "b.go")
}

func TestGrepRejectsInvalidRegex(t *testing.T) {
	reg, env := coreEnv(t)
	outcome := reg.Execute(context.Background(), "grep", rawArgs(t, map[string]interface{}{"pattern": "("}), env)
	assert.True(t, outcome.IsError())
}

func TestBashReportsExitCodeAndOutput(t *testing.T) {
	reg, env := coreEnv(t)

	ok := reg.Execute(context.Background(), "bash", rawArgs(t, map[string]interface{}{"command": "echo hello"}), env)
	require.Equal(t, StatusOK, ok.Status)
	assert.Contains(t, ok.Payload, "hello")

	fail := reg.Execute(context.Background(), "bash", rawArgs(t, map[string]interface{}{"command": "exit 3"}), env)
	assert.True(t, fail.IsError())
	assert.Contains(t, fail.Payload, "exit code: 3")
}

func TestBashTimeoutTerminatesProcess(t *testing.T) {
	reg, env := coreEnv(t)
	start := time.Now()
	outcome := reg.Execute(context.Background(), "bash", rawArgs(t, map[string]interface{}{
		"command": "sleep 30", "timeout_ms": 200,
	}), env)
	assert.True(t, outcome.IsError())
	assert.Contains(t, outcome.Payload, "timed out")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRelativePathsResolveAgainstProjectRoot(t *testing.T) {
	env := NewEnv(t.TempDir())
	assert.Equal(t, filepath.Join(env.ProjectRoot(), "sub", "f.txt"), env.Resolve("sub/f.txt"))
	assert.Equal(t, "/abs/path.txt", env.Resolve("/abs/path.txt"))
}
