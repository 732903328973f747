package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readBack(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestApplyUniqueMatch(t *testing.T) {
	path := writeFixture(t, "alpha beta gamma")

	res, err := Apply(Request{Path: path, OldString: "beta", NewString: "BETA"})
	require.NoError(t, err)
	assert.Equal(t, "alpha BETA gamma", readBack(t, path))
	assert.Equal(t, 1, res.StartLine)
	assert.Equal(t, 0, res.LineDelta)
}

func TestApplyLeavesRestByteIdentical(t *testing.T) {
	content := "func main() {\n\tfmt.Println(\"hi\")\n}\n// trailer\n"
	path := writeFixture(t, content)

	_, err := Apply(Request{Path: path, OldString: "\"hi\"", NewString: "\"bye\""})
	require.NoError(t, err)
	assert.Equal(t, "func main() {\n\tfmt.Println(\"bye\")\n}\n// trailer\n", readBack(t, path))
}

func TestApplyNotFound(t *testing.T) {
	content := "alpha beta gamma"
	path := writeFixture(t, content)

	_, err := Apply(Request{Path: path, OldString: "delta", NewString: "x"})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, content, readBack(t, path), "file must be unchanged on failure")
}

func TestApplyAmbiguous(t *testing.T) {
	content := "x = 1\nx = 1\n"
	path := writeFixture(t, content)

	_, err := Apply(Request{Path: path, OldString: "x = 1", NewString: "x = 2"})
	var am *AmbiguousMatchError
	require.ErrorAs(t, err, &am)
	assert.Equal(t, 2, am.Count)
	assert.Equal(t, content, readBack(t, path), "file must be unchanged on failure")
}

func TestApplyReportsStartLine(t *testing.T) {
	path := writeFixture(t, "a\nb\nc\n")

	res, err := Apply(Request{Path: path, OldString: "b", NewString: "B"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.StartLine)
	assert.Equal(t, "a\nB\nc\n", readBack(t, path))
}

func TestApplyLineDelta(t *testing.T) {
	path := writeFixture(t, "start\nmiddle\nend\n")

	res, err := Apply(Request{Path: path, OldString: "middle", NewString: "one\ntwo\nthree"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.LineDelta)

	path2 := writeFixture(t, "start\none\ntwo\nthree\nend\n")
	res2, err := Apply(Request{Path: path2, OldString: "one\ntwo\nthree", NewString: "middle"})
	require.NoError(t, err)
	assert.Equal(t, -2, res2.LineDelta)
}

func TestApplyMissingFile(t *testing.T) {
	_, err := Apply(Request{Path: filepath.Join(t.TempDir(), "nope.txt"), OldString: "a", NewString: "b"})
	require.Error(t, err)
}

func TestApplyEmptyOldString(t *testing.T) {
	path := writeFixture(t, "content")
	_, err := Apply(Request{Path: path, OldString: "", NewString: "b"})
	require.Error(t, err)
	assert.Equal(t, "content", readBack(t, path))
}

func TestApplyIdenticalStringsIsNoOp(t *testing.T) {
	path := writeFixture(t, "a\nb\nc\n")
	before, err := os.Stat(path)
	require.NoError(t, err)

	res, err := Apply(Request{Path: path, OldString: "b", NewString: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.StartLine)
	assert.Equal(t, 0, res.LineDelta)
	assert.Equal(t, "a\nb\nc\n", readBack(t, path))

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime(), "file must not be rewritten")
}

func TestApplyIdenticalStringsStillValidatesMatch(t *testing.T) {
	path := writeFixture(t, "x = 1\nx = 1\n")
	_, err := Apply(Request{Path: path, OldString: "x = 1", NewString: "x = 1"})
	var am *AmbiguousMatchError
	require.ErrorAs(t, err, &am)

	_, err = Apply(Request{Path: path, OldString: "missing", NewString: "missing"})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestApplyPreservesPermissions(t *testing.T) {
	path := writeFixture(t, "#!/bin/sh\necho one\n")
	require.NoError(t, os.Chmod(path, 0o755))

	_, err := Apply(Request{Path: path, OldString: "echo one", NewString: "echo two"})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestApplyLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	_, err := Apply(Request{Path: path, OldString: "hello", NewString: "goodbye"})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "f.txt", entries[0].Name())
}

func TestDiffPreviewMarksChanges(t *testing.T) {
	path := writeFixture(t, "keep\nold line\nkeep\n")

	res, err := Apply(Request{Path: path, OldString: "old line", NewString: "new line"})
	require.NoError(t, err)
	assert.Contains(t, res.Preview, "- old")
	assert.Contains(t, res.Preview, "+ new")
}
