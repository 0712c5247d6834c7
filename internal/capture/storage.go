package capture

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Storage is a line-oriented, append-only event log. Implementations store
// opaque lines with no knowledge of event semantics.
type Storage interface {
	AppendLine(line string) error
	// ReadLines returns all stored lines in insertion order.
	ReadLines() ([]string, error)
	LineCount() (int, error)
	Clear() error
	Delete() error
	// TrimTo retains only the most recent keep lines, discarding the
	// oldest first.
	TrimTo(keep int) error
}

// OpenStorage returns a file-backed storage for the session, falling back
// to an in-memory storage when the capture directory cannot be created.
// Construction never fails.
func OpenStorage(dir, sessionID string, log *zap.SugaredLogger) Storage {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	// Session ids end up in filenames; keep them path-safe.
	sessionID = strings.ReplaceAll(sessionID, string(os.PathSeparator), "_")
	if dir == "" || sessionID == "" {
		return NewMemoryStorage()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Warnf("capture dir %s unavailable, using in-memory storage: %v", dir, err)
		return NewMemoryStorage()
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		log.Warnf("capture file %s unavailable, using in-memory storage: %v", path, err)
		return NewMemoryStorage()
	}
	f.Close()
	return &FileStorage{path: path}
}

// FileStorage persists each line to a per-session JSONL file.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

// NewFileStorage creates a file storage at path without touching the file.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (s *FileStorage) AppendLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open capture log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append capture log: %w", err)
	}
	return nil
}

func (s *FileStorage) ReadLines() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *FileStorage) readLocked() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read capture log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan capture log: %w", err)
	}
	return lines, nil
}

func (s *FileStorage) LineCount() (int, error) {
	lines, err := s.ReadLines()
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

func (s *FileStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.WriteFile(s.path, nil, 0o600); err != nil {
		return fmt.Errorf("clear capture log: %w", err)
	}
	return nil
}

func (s *FileStorage) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete capture log: %w", err)
	}
	return nil
}

// TrimTo rewrites the file keeping only the newest keep lines. Writes go
// through a temp file and rename so a crash mid-trim cannot lose the log.
func (s *FileStorage) TrimTo(keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep < 0 {
		keep = 0
	}
	lines, err := s.readLocked()
	if err != nil {
		return err
	}
	if len(lines) <= keep {
		return nil
	}
	tail := lines[len(lines)-keep:]

	tmp := s.path + ".tmp"
	var b strings.Builder
	for _, line := range tail {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("trim capture log: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("trim capture log: %w", err)
	}
	return nil
}

// MemoryStorage is the in-memory fallback used when no durable filesystem
// is reachable. It satisfies the same behavioral contract as FileStorage.
type MemoryStorage struct {
	mu    sync.Mutex
	lines []string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) AppendLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}

func (s *MemoryStorage) ReadLines() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out, nil
}

func (s *MemoryStorage) LineCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines), nil
}

func (s *MemoryStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	return nil
}

func (s *MemoryStorage) Delete() error {
	return s.Clear()
}

func (s *MemoryStorage) TrimTo(keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep < 0 {
		keep = 0
	}
	if len(s.lines) <= keep {
		return nil
	}
	trimmed := make([]string, keep)
	copy(trimmed, s.lines[len(s.lines)-keep:])
	s.lines = trimmed
	return nil
}
