package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanSkipsIgnoredDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.go"), "package main\n")
	writeFile(t, filepath.Join(dir, ".git", "HEAD"), "ref: refs/heads/main\n")
	writeFile(t, filepath.Join(dir, "node_modules", "pkg", "index.js"), "x")
	writeFile(t, filepath.Join(dir, "src", "lib.go"), "package src\n")

	snap := Scan(dir)

	assert.Contains(t, snap, "main.go")
	assert.Contains(t, snap, filepath.Join("src", "lib.go"))
	for path := range snap {
		assert.NotContains(t, path, ".git")
		assert.NotContains(t, path, "node_modules")
	}
}

func TestConsumeDiffReportsAddedModifiedRemoved(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep.txt"), "keep")
	writeFile(t, filepath.Join(dir, "change.txt"), "v1")
	writeFile(t, filepath.Join(dir, "gone.txt"), "bye")

	d := New(dir)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	// First consume right after start sees no changes.
	assert.True(t, d.ConsumeDiff().Empty())

	writeFile(t, filepath.Join(dir, "new.txt"), "hello")
	writeFile(t, filepath.Join(dir, "change.txt"), "v2 longer")
	require.NoError(t, os.Remove(filepath.Join(dir, "gone.txt")))

	diff := d.ConsumeDiff()
	assert.Equal(t, []string{"new.txt"}, diff.Added)
	assert.Equal(t, []string{"change.txt"}, diff.Modified)
	assert.Equal(t, []string{"gone.txt"}, diff.Removed)

	// Consuming advanced the baseline.
	assert.True(t, d.ConsumeDiff().Empty())
}

func TestDiffNoteFormat(t *testing.T) {
	diff := Diff{
		Added:    []string{"a.txt"},
		Modified: []string{"b.txt"},
		Removed:  []string{"c.txt"},
	}
	note := diff.Note()
	assert.Contains(t, note, "<file-changes>")
	assert.Contains(t, note, "added: a.txt")
	assert.Contains(t, note, "modified: b.txt")
	assert.Contains(t, note, "removed: c.txt")
	assert.Contains(t, note, "</file-changes>")

	assert.Empty(t, Diff{}.Note())
}

func TestPollerPicksUpChangesWithoutConsume(t *testing.T) {
	dir := t.TempDir()
	d := New(dir, WithInterval(20*time.Millisecond))
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	writeFile(t, filepath.Join(dir, "late.txt"), "late")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := d.Current()["late.txt"]; ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("poller never observed late.txt")
}

func TestDetectorsAreIndependent(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	da := New(dirA)
	db := New(dirB)
	require.NoError(t, da.Start(context.Background()))
	require.NoError(t, db.Start(context.Background()))
	defer da.Stop()
	defer db.Stop()

	writeFile(t, filepath.Join(dirA, "only-a.txt"), "a")

	diffA := da.ConsumeDiff()
	diffB := db.ConsumeDiff()
	assert.Equal(t, []string{"only-a.txt"}, diffA.Added)
	assert.True(t, diffB.Empty())
}

func TestPublishedSnapshotIsImmutable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "a")

	d := New(dir)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	before := d.Current()
	writeFile(t, filepath.Join(dir, "b.txt"), "b")
	d.ConsumeDiff()

	// The previously returned snapshot still reflects the old state.
	assert.Contains(t, before, "a.txt")
	assert.NotContains(t, before, "b.txt")
}
