// Package slots tracks which scheduler job currently serves each slot.
//
// The slot→job and job→slot maps always change together, so a job is bound to
// at most one slot and a slot to at most one job. Bindings are mirrored to
// <workload>_slot_<N>.jobid files so a restarted distributor can recover them.
package slots

import (
	"fmt"
	"sort"

	"github.com/kingrea/slotfeed/internal/config"
	"github.com/kingrea/slotfeed/internal/filestore"
	"github.com/kingrea/slotfeed/internal/scheduler"
)

// Manager owns the binding table for slots 0..max-1.
type Manager struct {
	max     int
	paths   config.Paths
	jobs    map[int]scheduler.JobID
	slotsOf map[scheduler.JobID]int
}

// New returns an empty manager.
func New(max int, paths config.Paths) *Manager {
	return &Manager{
		max:     max,
		paths:   paths,
		jobs:    make(map[int]scheduler.JobID),
		slotsOf: make(map[scheduler.JobID]int),
	}
}

// Max returns the number of slots.
func (m *Manager) Max() int {
	return m.max
}

// Load reads every binding file. Missing or empty files leave the slot
// unbound. When two files name the same job the higher slot wins and the
// lower slot's file is removed.
func (m *Manager) Load() error {
	for slot := 0; slot < m.max; slot++ {
		token, ok, err := filestore.ReadToken(m.paths.JobID(slot))
		if err != nil {
			return fmt.Errorf("slots: load slot %d: %w", slot, err)
		}
		if !ok {
			continue
		}
		id, err := scheduler.ParseJobID(token)
		if err != nil {
			return fmt.Errorf("slots: load slot %d: %w", slot, err)
		}
		if prev, dup := m.slotsOf[id]; dup {
			if err := filestore.Remove(m.paths.JobID(prev)); err != nil {
				return fmt.Errorf("slots: drop duplicate binding of slot %d: %w", prev, err)
			}
		}
		m.bind(slot, id)
	}
	return nil
}

// Stranded returns the binding files of slots at or beyond Max, left by a run
// with a larger pool.
func (m *Manager) Stranded() ([]string, error) {
	files, err := m.paths.SlotFiles()
	if err != nil {
		return nil, fmt.Errorf("slots: %w", err)
	}
	var out []string
	for _, f := range files {
		if f.JobID && f.Slot >= m.max {
			out = append(out, f.Path)
		}
	}
	return out, nil
}

// Bound returns the number of bound slots.
func (m *Manager) Bound() int {
	return len(m.jobs)
}

// JobFor returns the job bound to slot.
func (m *Manager) JobFor(slot int) (scheduler.JobID, bool) {
	id, ok := m.jobs[slot]
	return id, ok
}

// SlotFor returns the slot a job is bound to.
func (m *Manager) SlotFor(id scheduler.JobID) (int, bool) {
	slot, ok := m.slotsOf[id]
	return slot, ok
}

// Bind records that job now serves slot and persists the binding. Any previous
// job of the slot, and any previous slot of the job, is released. If the file
// write fails the in-memory binding is kept and the error returned.
func (m *Manager) Bind(slot int, id scheduler.JobID) error {
	if err := m.check(slot); err != nil {
		return err
	}
	if prev, ok := m.slotsOf[id]; ok && prev != slot {
		if err := m.Unbind(prev); err != nil {
			return err
		}
	}
	m.bind(slot, id)
	if err := filestore.WriteToken(m.paths.JobID(slot), string(id)); err != nil {
		return fmt.Errorf("slots: persist slot %d: %w", slot, err)
	}
	return nil
}

func (m *Manager) bind(slot int, id scheduler.JobID) {
	if stale, ok := m.jobs[slot]; ok {
		delete(m.slotsOf, stale)
	}
	if prev, ok := m.slotsOf[id]; ok {
		delete(m.jobs, prev)
	}
	m.jobs[slot] = id
	m.slotsOf[id] = slot
}

// Unbind releases the slot and removes its binding file.
func (m *Manager) Unbind(slot int) error {
	if err := m.check(slot); err != nil {
		return err
	}
	if id, ok := m.jobs[slot]; ok {
		delete(m.slotsOf, id)
		delete(m.jobs, slot)
	}
	if err := filestore.Remove(m.paths.JobID(slot)); err != nil {
		return fmt.Errorf("slots: unbind slot %d: %w", slot, err)
	}
	return nil
}

// Reconcile splits the slots by the scheduler's view. A slot is active when
// its bound job is in the set; every other slot is available. Jobs in the set
// that are not bound to any slot are ignored. Both lists are ascending.
func (m *Manager) Reconcile(active map[scheduler.JobID]struct{}) (activeSlots, available []int) {
	for slot := 0; slot < m.max; slot++ {
		id, ok := m.jobs[slot]
		if ok {
			if _, running := active[id]; running {
				activeSlots = append(activeSlots, slot)
				continue
			}
		}
		available = append(available, slot)
	}
	return activeSlots, available
}

// All returns every slot index in ascending order.
func (m *Manager) All() []int {
	out := make([]int, m.max)
	for i := range out {
		out[i] = i
	}
	return out
}

// Bindings returns a copy of the slot→job table, sorted by slot.
func (m *Manager) Bindings() []Binding {
	out := make([]Binding, 0, len(m.jobs))
	for slot, id := range m.jobs {
		out = append(out, Binding{Slot: slot, Job: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Binding is one row of the table.
type Binding struct {
	Slot int
	Job  scheduler.JobID
}

func (m *Manager) check(slot int) error {
	if slot < 0 || slot >= m.max {
		return fmt.Errorf("slots: slot %d out of range [0,%d)", slot, m.max)
	}
	return nil
}
