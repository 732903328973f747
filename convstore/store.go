package convstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/georgesalapa/micro-cc/logging"
)

// DefaultBaseDir returns the root storage directory, ~/.micro-cc/projects.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".micro-cc", "projects")
}

// SessionID derives the stable session identifier for a project directory:
// the sanitized last path element joined with a 16-hex-digit sha256 prefix
// of the absolute path. Distinct project paths that share a folder name
// still get distinct identifiers.
func SessionID(projectDir string) string {
	normalized, err := filepath.Abs(projectDir)
	if err != nil {
		normalized = projectDir
	}

	sum := sha256.Sum256([]byte(normalized))
	pathHash := hex.EncodeToString(sum[:])[:16]

	name := filepath.Base(normalized)
	if name == "/" || name == "." || name == "" {
		name = "root"
	}
	return sanitizeName(name) + "_" + pathHash
}

func sanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

// Store persists the ordered turn log for one project directory.
type Store struct {
	projectDir string
	storageDir string
	sessionID  string
	mu         sync.Mutex
}

// Option configures a Store.
type Option func(*storeConfig)

type storeConfig struct {
	baseDir string
}

// WithBaseDir overrides the root storage directory (used by tests and
// embedding hosts).
func WithBaseDir(dir string) Option {
	return func(c *storeConfig) {
		c.baseDir = dir
	}
}

// Open creates or resumes the store for a project directory.
func Open(projectDir string, opts ...Option) (*Store, error) {
	cfg := &storeConfig{baseDir: DefaultBaseDir()}
	for _, opt := range opts {
		opt(cfg)
	}

	normalized, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("convstore: resolve project dir: %w", err)
	}

	baseID := SessionID(normalized)
	storageDir := filepath.Join(cfg.baseDir, baseID)
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("convstore: create storage dir: %w", err)
	}

	// Record the reverse mapping for debugging.
	mapping := filepath.Join(storageDir, "project_path.txt")
	if _, err := os.Stat(mapping); os.IsNotExist(err) {
		_ = os.WriteFile(mapping, []byte(normalized+"\n"), 0o644)
	}

	s := &Store{
		projectDir: normalized,
		storageDir: storageDir,
	}

	// Resume the active session id, or start with the base id.
	current, err := os.ReadFile(filepath.Join(storageDir, "current"))
	if err == nil && len(strings.TrimSpace(string(current))) > 0 {
		s.sessionID = strings.TrimSpace(string(current))
	} else {
		s.sessionID = baseID
		if err := s.writeCurrent(s.sessionID); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// SessionID returns the active session identifier.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// ProjectDir returns the absolute project directory this store is scoped to.
func (s *Store) ProjectDir() string {
	return s.projectDir
}

func (s *Store) writeCurrent(id string) error {
	if err := os.WriteFile(filepath.Join(s.storageDir, "current"), []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("convstore: write current session marker: %w", err)
	}
	return nil
}

func (s *Store) logPath() string {
	return filepath.Join(s.storageDir, s.sessionID+".jsonl")
}

// Append persists one fully-formed turn as a single JSONL record. Thinking
// blocks are stripped before the record is written.
func (s *Store) Append(turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := json.Marshal(turn.stripThinking())
	if err != nil {
		return fmt.Errorf("convstore: marshal turn: %w", err)
	}

	f, err := os.OpenFile(s.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("convstore: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(record, '\n')); err != nil {
		return fmt.Errorf("convstore: append turn: %w", err)
	}
	return nil
}

// Load reads the ordered turn sequence for the active session. A malformed
// trailing record (a write cut short mid-line) is truncated off the file
// with a warning; a malformed record in the middle of the log is skipped
// with a warning so the valid records after it survive.
func (s *Store) Load(ctx context.Context) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.logPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("convstore: open log: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	last := -1
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			last = i
		}
	}

	var turns []Turn
	var offset int64
	for i, line := range lines {
		lineLen := int64(len(line)) + 1 // newline

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			offset += lineLen
			continue
		}

		var turn Turn
		if err := json.Unmarshal([]byte(trimmed), &turn); err != nil {
			if i == last {
				logging.Warn(ctx, "discarding corrupt trailing record",
					"session_id", s.sessionID, "offset", offset, "error", err.Error())
				if truncErr := os.Truncate(path, offset); truncErr != nil {
					return nil, fmt.Errorf("convstore: truncate corrupt tail: %w", truncErr)
				}
				return turns, nil
			}
			logging.Warn(ctx, "skipping malformed conversation record",
				"session_id", s.sessionID, "line", i+1, "error", err.Error())
			offset += lineLen
			continue
		}

		turns = append(turns, turn)
		offset += lineLen
	}

	return turns, nil
}

// Reset allocates a fresh session identifier and makes it active. Prior
// history is left on disk untouched.
func (s *Store) Reset() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := SessionID(s.projectDir)
	newID := base + "_" + uuid.New().String()[:8]
	if err := s.writeCurrent(newID); err != nil {
		return "", err
	}
	s.sessionID = newID
	return newID, nil
}
