package capture

import (
	"os"
	"path/filepath"
	"testing"
)

// storage contract shared by both backends.
func runStorageContract(t *testing.T, newStorage func(t *testing.T) Storage) {
	t.Run("round trip preserves order", func(t *testing.T) {
		s := newStorage(t)
		lines := []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}
		for _, l := range lines {
			if err := s.AppendLine(l); err != nil {
				t.Fatalf("AppendLine returned error: %v", err)
			}
		}
		got, err := s.ReadLines()
		if err != nil {
			t.Fatalf("ReadLines returned error: %v", err)
		}
		if len(got) != len(lines) {
			t.Fatalf("expected %d lines, got %d", len(lines), len(got))
		}
		for i := range lines {
			if got[i] != lines[i] {
				t.Fatalf("line %d: expected %q, got %q", i, lines[i], got[i])
			}
		}
		n, err := s.LineCount()
		if err != nil {
			t.Fatalf("LineCount returned error: %v", err)
		}
		if n != len(lines) {
			t.Fatalf("expected line count %d, got %d", len(lines), n)
		}
	})

	t.Run("trim keeps newest", func(t *testing.T) {
		s := newStorage(t)
		for _, l := range []string{"one", "two", "three", "four", "five"} {
			if err := s.AppendLine(l); err != nil {
				t.Fatalf("AppendLine returned error: %v", err)
			}
		}
		if err := s.TrimTo(2); err != nil {
			t.Fatalf("TrimTo returned error: %v", err)
		}
		got, err := s.ReadLines()
		if err != nil {
			t.Fatalf("ReadLines returned error: %v", err)
		}
		if len(got) != 2 || got[0] != "four" || got[1] != "five" {
			t.Fatalf("expected tail [four five], got %v", got)
		}
	})

	t.Run("trim larger than content is a no-op", func(t *testing.T) {
		s := newStorage(t)
		if err := s.AppendLine("only"); err != nil {
			t.Fatalf("AppendLine returned error: %v", err)
		}
		if err := s.TrimTo(10); err != nil {
			t.Fatalf("TrimTo returned error: %v", err)
		}
		got, _ := s.ReadLines()
		if len(got) != 1 || got[0] != "only" {
			t.Fatalf("expected [only], got %v", got)
		}
	})

	t.Run("clear empties but allows reuse", func(t *testing.T) {
		s := newStorage(t)
		if err := s.AppendLine("x"); err != nil {
			t.Fatalf("AppendLine returned error: %v", err)
		}
		if err := s.Clear(); err != nil {
			t.Fatalf("Clear returned error: %v", err)
		}
		n, _ := s.LineCount()
		if n != 0 {
			t.Fatalf("expected empty storage after Clear, got %d lines", n)
		}
		if err := s.AppendLine("y"); err != nil {
			t.Fatalf("AppendLine after Clear returned error: %v", err)
		}
		got, _ := s.ReadLines()
		if len(got) != 1 || got[0] != "y" {
			t.Fatalf("expected [y], got %v", got)
		}
	})

	t.Run("delete then read is empty", func(t *testing.T) {
		s := newStorage(t)
		if err := s.AppendLine("x"); err != nil {
			t.Fatalf("AppendLine returned error: %v", err)
		}
		if err := s.Delete(); err != nil {
			t.Fatalf("Delete returned error: %v", err)
		}
		got, err := s.ReadLines()
		if err != nil {
			t.Fatalf("ReadLines after Delete returned error: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("expected no lines after Delete, got %v", got)
		}
	})
}

func TestFileStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		return NewFileStorage(filepath.Join(t.TempDir(), "session.jsonl"))
	})
}

func TestMemoryStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		return NewMemoryStorage()
	})
}

func TestOpenStorageUsesFileBackend(t *testing.T) {
	dir := t.TempDir()
	s := OpenStorage(dir, "session-1", nil)
	if _, ok := s.(*FileStorage); !ok {
		t.Fatalf("expected FileStorage, got %T", s)
	}
	if err := s.AppendLine("x"); err != nil {
		t.Fatalf("AppendLine returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "session-1.jsonl")); err != nil {
		t.Fatalf("expected capture file to exist: %v", err)
	}
}

func TestOpenStorageFallsBackToMemory(t *testing.T) {
	// A file in place of the capture dir makes MkdirAll fail.
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	s := OpenStorage(filepath.Join(blocked, "captures"), "session-1", nil)
	if _, ok := s.(*MemoryStorage); !ok {
		t.Fatalf("expected MemoryStorage fallback, got %T", s)
	}
	if err := s.AppendLine("x"); err != nil {
		t.Fatalf("fallback AppendLine returned error: %v", err)
	}
}

func TestOpenStorageSanitizesSessionID(t *testing.T) {
	dir := t.TempDir()
	s := OpenStorage(dir, "a/b", nil)
	if err := s.AppendLine("x"); err != nil {
		t.Fatalf("AppendLine returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a_b.jsonl")); err != nil {
		t.Fatalf("expected sanitized capture file: %v", err)
	}
}
