// Package patch implements exact-match string splicing in files.
//
// A patch locates old_string in the target file and replaces it with
// new_string. The match must be unique: zero occurrences fail with
// NotFoundError, two or more fail with AmbiguousMatchError, and in both
// cases the file is left untouched. The caller corrects an ambiguous patch
// by resubmitting with a larger, uniquely-identifying old_string. Successful
// writes go through a temp file and rename so a crash never leaves a
// partially-written file.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Request describes a single exact-match edit.
type Request struct {
	Path      string `json:"path"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

// Result reports where the splice landed without requiring a re-read.
type Result struct {
	// StartLine is the 1-based line of the replaced span's first character:
	// 1 + the count of newline characters in the prefix. Derived diagnostic
	// only; matching never uses it.
	StartLine int `json:"start_line"`
	// LineDelta is lines added minus lines removed.
	LineDelta int `json:"line_delta"`
	// Preview is a compact textual diff of the change for display.
	Preview string `json:"preview,omitempty"`
}

// NotFoundError reports that old_string does not occur in the file.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("old_string not found in %s", e.Path)
}

// AmbiguousMatchError reports that old_string occurs more than once.
type AmbiguousMatchError struct {
	Path  string
	Count int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("old_string found %d times in %s; provide more surrounding context to make it unique", e.Count, e.Path)
}

// Apply performs the edit described by req against the filesystem.
func Apply(req Request) (*Result, error) {
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, fmt.Errorf("patch: %w", err)
	}
	content := string(data)

	if req.OldString == "" {
		return nil, fmt.Errorf("patch: old_string must not be empty")
	}
	count := strings.Count(content, req.OldString)
	switch {
	case count == 0:
		return nil, &NotFoundError{Path: req.Path}
	case count > 1:
		return nil, &AmbiguousMatchError{Path: req.Path, Count: count}
	}

	pos := strings.Index(content, req.OldString)
	prefix := content[:pos]
	suffix := content[pos+len(req.OldString):]

	// An identical replacement is a successful no-op: the match is still
	// validated, but the file is not rewritten.
	if req.OldString != req.NewString {
		updated := prefix + req.NewString + suffix
		if err := writeAtomic(req.Path, []byte(updated)); err != nil {
			return nil, err
		}
	}

	return &Result{
		StartLine: 1 + strings.Count(prefix, "\n"),
		LineDelta: strings.Count(req.NewString, "\n") - strings.Count(req.OldString, "\n"),
		Preview:   diffPreview(req.OldString, req.NewString),
	}, nil
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by a rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("patch: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("patch: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("patch: close temp file: %w", err)
	}

	// Preserve the original file's permissions when it exists.
	if info, err := os.Stat(path); err == nil {
		_ = os.Chmod(tmpName, info.Mode())
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("patch: rename: %w", err)
	}
	return nil
}

// diffPreview renders a compact line diff of the replaced span.
func diffPreview(oldString, newString string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldString, newString, true)
	dmp.DiffCleanupSemantic(diffs)

	var sb strings.Builder
	for _, d := range diffs {
		text := strings.TrimRight(d.Text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			for _, line := range strings.Split(text, "\n") {
				sb.WriteString("- " + line + "\n")
			}
		case diffmatchpatch.DiffInsert:
			for _, line := range strings.Split(text, "\n") {
				sb.WriteString("+ " + line + "\n")
			}
		case diffmatchpatch.DiffEqual:
			// Context is bounded: only short equal runs are shown.
			if len(text) <= 120 {
				for _, line := range strings.Split(text, "\n") {
					sb.WriteString("  " + line + "\n")
				}
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
