// Package ledger holds the ordered pool of work items that have not been
// handed to any slot yet, together with its checkpoint file.
package ledger

import (
	"errors"
	"fmt"

	"github.com/kingrea/slotfeed/internal/filestore"
)

// ErrNoWorkload is returned by Load when neither the checkpoint nor the
// original workload exists.
var ErrNoWorkload = errors.New("ledger: no workload file and no checkpoint")

// Source identifies where a ledger was loaded from.
type Source string

const (
	SourceWorkload   Source = "workload"
	SourceCheckpoint Source = "checkpoint"
)

// Ledger is the in-memory pool of unassigned items. It is not safe for
// concurrent use; the distributor owns it.
type Ledger struct {
	workload   string
	checkpoint string
	items      []filestore.Item
	source     Source
}

// New returns an empty ledger bound to its workload and checkpoint paths.
func New(workload, checkpoint string) *Ledger {
	return &Ledger{workload: workload, checkpoint: checkpoint}
}

// Load reads the checkpoint when it exists, otherwise the workload file. The
// checkpoint supersedes the workload once created, even when it is empty.
func (l *Ledger) Load() error {
	path, source := l.workload, SourceWorkload
	if filestore.Exists(l.checkpoint) {
		path, source = l.checkpoint, SourceCheckpoint
	} else if !filestore.Exists(l.workload) {
		return fmt.Errorf("%w: %s", ErrNoWorkload, l.workload)
	}
	items, err := filestore.Read(path)
	if err != nil {
		return fmt.Errorf("ledger: load %s: %w", source, err)
	}
	l.items = items
	l.source = source
	return nil
}

// Source reports which file the last Load used.
func (l *Ledger) Source() Source {
	return l.source
}

// Checkpoint returns the checkpoint path.
func (l *Ledger) Checkpoint() string {
	return l.checkpoint
}

// Len returns the number of unassigned items.
func (l *Ledger) Len() int {
	return len(l.items)
}

// Items returns a copy of the current contents.
func (l *Ledger) Items() []filestore.Item {
	out := make([]filestore.Item, len(l.items))
	copy(out, l.items)
	return out
}

// TakeFront removes and returns the first n items, or all of them when fewer
// remain.
func (l *Ledger) TakeFront(n int) []filestore.Item {
	if n <= 0 {
		return nil
	}
	if n > len(l.items) {
		n = len(l.items)
	}
	taken := make([]filestore.Item, n)
	copy(taken, l.items[:n])
	rest := make([]filestore.Item, len(l.items)-n)
	copy(rest, l.items[n:])
	l.items = rest
	return taken
}

// Extend appends reclaimed items to the back in the order given.
func (l *Ledger) Extend(items []filestore.Item) {
	l.items = append(l.items, items...)
}

// Persist writes the current contents to the checkpoint atomically.
func (l *Ledger) Persist() error {
	if err := filestore.Write(l.checkpoint, l.items); err != nil {
		return fmt.Errorf("ledger: persist checkpoint: %w", err)
	}
	return nil
}
