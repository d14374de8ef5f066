package logbook

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.txt.journal")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Append(LevelInfo, fmt.Sprintf("entry-%d", i))
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestTailMissingJournal(t *testing.T) {
	lines, total := Open(filepath.Join(t.TempDir(), "absent.journal")).Tail(10)
	if lines != nil || total != 0 {
		t.Fatalf("Tail on missing journal = %v, %d", lines, total)
	}
}

func TestEventFormatting(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "run", "w.journal"))
	if err != nil {
		t.Fatal(err)
	}
	book.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	book.Event(LevelWarn, "submit_failed", Fields{"slot": 4, "error": "sbatch: invalid partition"})
	lines, _ := book.Tail(1)
	want := `2024-03-01T12:00:00Z WARN  submit_failed error="sbatch: invalid partition" slot=4`
	if len(lines) != 1 || lines[0] != want {
		t.Fatalf("event line = %q, want %q", lines, want)
	}
}

func TestNilLogbookIsSilent(t *testing.T) {
	var book *Logbook
	book.Append(LevelInfo, "ignored")
	book.Event(LevelInfo, "ignored", nil)
	if lines, total := book.Tail(5); lines != nil || total != 0 {
		t.Fatalf("nil logbook returned %v, %d", lines, total)
	}
}
