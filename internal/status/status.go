// Package status rebuilds a view of a run from the files it leaves on disk.
// It never writes any of them, so it is safe to use while a distributor is
// running.
package status

import (
	"fmt"
	"time"

	"github.com/kingrea/slotfeed/internal/config"
	"github.com/kingrea/slotfeed/internal/filestore"
	"github.com/kingrea/slotfeed/internal/ledger"
	"github.com/kingrea/slotfeed/internal/logbook"
	"github.com/kingrea/slotfeed/internal/scheduler"
	"github.com/kingrea/slotfeed/internal/slotqueue"
	"github.com/kingrea/slotfeed/internal/slots"
)

// Slot is one row of a snapshot.
type Slot struct {
	Index   int
	Job     scheduler.JobID
	Bound   bool
	Pending int
	Err     error
}

// Snapshot is the state of a run at one instant. Stranded counts items in
// queue files outside the configured slot pool; the distributor moves them
// back into the ledger on its first cycle.
type Snapshot struct {
	Workload           string
	Source             ledger.Source
	Remaining          int
	Pending            int
	Stranded           int
	Bound              int
	TerminateRequested bool
	Slots              []Slot
	Journal            []string
	JournalTotal       int
	TakenAt            time.Time
}

// Drained reports whether no work is left unassigned or queued.
func (s Snapshot) Drained() bool {
	return s.Remaining == 0 && s.Pending == 0 && s.Stranded == 0
}

// Take reads the run described by paths. journalLines bounds how much of the
// journal is included; zero skips it.
func Take(paths config.Paths, maxSlots, journalLines int) (Snapshot, error) {
	snap := Snapshot{Workload: paths.Workload, TakenAt: time.Now()}

	l := ledger.New(paths.Workload, paths.Remaining())
	if err := l.Load(); err != nil {
		return snap, fmt.Errorf("status: %w", err)
	}
	snap.Source = l.Source()
	snap.Remaining = l.Len()

	mgr := slots.New(maxSlots, paths)
	if err := mgr.Load(); err != nil {
		return snap, fmt.Errorf("status: %w", err)
	}
	queues := slotqueue.New(paths)
	snap.Slots = make([]Slot, maxSlots)
	for i := range snap.Slots {
		row := Slot{Index: i}
		row.Job, row.Bound = mgr.JobFor(i)
		pending, err := queues.Pending(i)
		if err != nil {
			row.Err = err
		}
		row.Pending = len(pending)
		snap.Pending += row.Pending
		if row.Bound {
			snap.Bound++
		}
		snap.Slots[i] = row
	}
	stranded, err := queues.Stranded(maxSlots)
	if err != nil {
		return snap, fmt.Errorf("status: %w", err)
	}
	for _, path := range stranded {
		items, err := filestore.Read(path)
		if err != nil {
			return snap, fmt.Errorf("status: %w", err)
		}
		snap.Stranded += len(items)
	}
	snap.TerminateRequested = filestore.Exists(paths.Terminate())
	if journalLines > 0 {
		snap.Journal, snap.JournalTotal = logbook.Open(paths.Journal()).Tail(journalLines)
	}
	return snap, nil
}

// RequestTermination creates the sentinel that makes the distributor stop at
// its next cycle boundary.
func RequestTermination(paths config.Paths) error {
	if err := filestore.Write(paths.Terminate(), nil); err != nil {
		return fmt.Errorf("status: request termination: %w", err)
	}
	return nil
}
