// Package slotqueue manages the per-slot queue files that hold work assigned
// to a slot but not yet consumed by its job.
//
// The distributor only writes a slot's queue after it has been drained or
// found empty, and only drains slots whose job is gone. The atomic rename in
// filestore is the sole coordination with the workers reading these files.
package slotqueue

import (
	"fmt"

	"github.com/kingrea/slotfeed/internal/config"
	"github.com/kingrea/slotfeed/internal/filestore"
)

// Store reads and writes slot queues under a run's path layout.
type Store struct {
	paths config.Paths
}

// New returns a store for the given layout.
func New(paths config.Paths) *Store {
	return &Store{paths: paths}
}

// Tasks returns how many queue files each slot owns.
func (s *Store) Tasks() int {
	if s.paths.TasksPerJob < 1 {
		return 1
	}
	return s.paths.TasksPerJob
}

// QueueFile returns the path handed to the slot's job.
func (s *Store) QueueFile(slot int) string {
	return s.paths.SlotQueue(slot)
}

// EmptyOrMissing reports whether every task queue of the slot is absent or
// zero-length.
func (s *Store) EmptyOrMissing(slot int) (bool, error) {
	for _, path := range s.paths.TaskQueues(slot) {
		empty, err := filestore.EmptyOrMissing(path)
		if err != nil {
			return false, fmt.Errorf("slotqueue: slot %d: %w", slot, err)
		}
		if !empty {
			return false, nil
		}
	}
	return true, nil
}

// Pending returns the unconsumed items of every task queue of the slot,
// concatenated in task order.
func (s *Store) Pending(slot int) ([]filestore.Item, error) {
	var pending []filestore.Item
	for _, path := range s.paths.TaskQueues(slot) {
		items, err := filestore.Read(path)
		if err != nil {
			return nil, fmt.Errorf("slotqueue: slot %d: %w", slot, err)
		}
		pending = append(pending, items...)
	}
	return pending, nil
}

// Remove deletes every task queue file of the slot.
func (s *Store) Remove(slot int) error {
	for _, path := range s.paths.TaskQueues(slot) {
		if err := filestore.Remove(path); err != nil {
			return fmt.Errorf("slotqueue: slot %d: %w", slot, err)
		}
	}
	return nil
}

// Drain reads and deletes the slot's queues, returning what was never
// consumed. The distributor does not call it: it reads with Pending and only
// calls Remove once the checkpoint holds the items, so a crash in between
// cannot lose them.
func (s *Store) Drain(slot int) ([]filestore.Item, error) {
	pending, err := s.Pending(slot)
	if err != nil {
		return nil, err
	}
	if err := s.Remove(slot); err != nil {
		return nil, err
	}
	return pending, nil
}

// Stranded returns the queue files on disk that no slot below maxSlots owns
// under the current task layout, such as those left by a run with more slots
// or a different tasks_per_job.
func (s *Store) Stranded(maxSlots int) ([]string, error) {
	files, err := s.paths.SlotFiles()
	if err != nil {
		return nil, fmt.Errorf("slotqueue: %w", err)
	}
	var out []string
	for _, f := range files {
		if f.JobID || s.owns(f, maxSlots) {
			continue
		}
		out = append(out, f.Path)
	}
	return out, nil
}

func (s *Store) owns(f config.SlotFile, maxSlots int) bool {
	if f.Slot >= maxSlots {
		return false
	}
	if s.Tasks() == 1 {
		return f.Task < 0
	}
	return f.Task >= 0 && f.Task < s.Tasks()
}

// Assign writes a slot's chunk, spread round-robin over its task queues. Every
// task queue is written, possibly empty.
func (s *Store) Assign(slot int, items []filestore.Item) error {
	paths := s.paths.TaskQueues(slot)
	chunks := Partition(items, len(paths))
	for task, path := range paths {
		if err := filestore.Write(path, chunks[task]); err != nil {
			return fmt.Errorf("slotqueue: assign slot %d: %w", slot, err)
		}
	}
	return nil
}

// Partition deals items round-robin into n chunks. Chunk sizes differ by at
// most one and each chunk keeps the relative order of its items.
func Partition(items []filestore.Item, n int) [][]filestore.Item {
	if n <= 0 {
		return nil
	}
	chunks := make([][]filestore.Item, n)
	for i, item := range items {
		chunks[i%n] = append(chunks[i%n], item)
	}
	return chunks
}
