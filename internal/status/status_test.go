package status

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kingrea/slotfeed/internal/config"
	"github.com/kingrea/slotfeed/internal/filestore"
	"github.com/kingrea/slotfeed/internal/ledger"
	"github.com/kingrea/slotfeed/internal/logbook"
	"github.com/kingrea/slotfeed/internal/slotqueue"
)

func TestTakeReadsRunFiles(t *testing.T) {
	workload := filepath.Join(t.TempDir(), "w.txt")
	paths := config.NewPaths(workload, 1)
	if err := filestore.Write(workload, filestore.Items("a\n", "b\n", "c\n")); err != nil {
		t.Fatal(err)
	}
	if err := filestore.Write(paths.Remaining(), filestore.Items("c\n")); err != nil {
		t.Fatal(err)
	}
	q := slotqueue.New(paths)
	_ = q.Assign(0, filestore.Items("a\n"))
	_ = q.Assign(2, filestore.Items("b\n"))
	_ = filestore.WriteToken(paths.JobID(2), "512")
	book, _ := logbook.New(paths.Journal())
	book.Event(logbook.LevelInfo, "ONE", nil)
	book.Event(logbook.LevelInfo, "TWO", nil)

	snap, err := Take(paths, 3, 1)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if snap.Source != ledger.SourceCheckpoint || snap.Remaining != 1 || snap.Pending != 2 || snap.Bound != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !snap.Slots[2].Bound || snap.Slots[2].Job != "512" || snap.Slots[1].Pending != 0 {
		t.Fatalf("slots = %+v", snap.Slots)
	}
	if len(snap.Journal) != 1 || snap.JournalTotal != 2 {
		t.Fatalf("journal = %v total=%d", snap.Journal, snap.JournalTotal)
	}
	if snap.Drained() || snap.TerminateRequested {
		t.Fatalf("drained=%v terminate=%v", snap.Drained(), snap.TerminateRequested)
	}
}

func TestTakeWritesNothing(t *testing.T) {
	dir := t.TempDir()
	workload := filepath.Join(dir, "w.txt")
	_ = filestore.Write(workload, filestore.Items("x\n"))
	if _, err := Take(config.NewPaths(workload, 1), 4, 10); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("status created files: %v", entries)
	}
}

func TestTakeMissingWorkload(t *testing.T) {
	paths := config.NewPaths(filepath.Join(t.TempDir(), "absent.txt"), 1)
	if _, err := Take(paths, 1, 0); !errors.Is(err, ledger.ErrNoWorkload) {
		t.Fatalf("error = %v, want ErrNoWorkload", err)
	}
}

func TestRequestTermination(t *testing.T) {
	workload := filepath.Join(t.TempDir(), "w.txt")
	_ = filestore.Write(workload, nil)
	paths := config.NewPaths(workload, 1)
	if err := RequestTermination(paths); err != nil {
		t.Fatal(err)
	}
	snap, err := Take(paths, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.TerminateRequested || !snap.Drained() {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestTakeCountsStrandedQueues(t *testing.T) {
	workload := filepath.Join(t.TempDir(), "w.txt")
	paths := config.NewPaths(workload, 1)
	_ = filestore.Write(workload, nil)
	_ = filestore.Write(paths.Remaining(), nil)
	_ = slotqueue.New(paths).Assign(3, filestore.Items("left\n", "behind\n"))

	snap, err := Take(paths, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Stranded != 2 || snap.Pending != 0 || snap.Drained() {
		t.Fatalf("stranded=%d pending=%d drained=%v", snap.Stranded, snap.Pending, snap.Drained())
	}
}
