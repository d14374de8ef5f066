package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Paths derives every run artifact from the workload path.
type Paths struct {
	Workload    string
	TasksPerJob int
	journal     string
}

// NewPaths builds a layout without a loaded Config.
func NewPaths(workload string, tasksPerJob int) Paths {
	if tasksPerJob < 1 {
		tasksPerJob = 1
	}
	return Paths{Workload: workload, TasksPerJob: tasksPerJob, journal: workload + ".journal"}
}

// Remaining returns the ledger checkpoint path.
func (p Paths) Remaining() string {
	return p.Workload + ".remaining"
}

// Terminate returns the termination sentinel path.
func (p Paths) Terminate() string {
	return p.Workload + ".terminate"
}

// Journal returns the run journal path.
func (p Paths) Journal() string {
	if p.journal == "" {
		return p.Workload + ".journal"
	}
	return p.journal
}

// SlotQueue returns the queue path handed to a slot's job. With more than one
// task per job the workers append ".<task>" themselves.
func (p Paths) SlotQueue(slot int) string {
	return fmt.Sprintf("%s_slot_%d.queue", p.Workload, slot)
}

// TaskQueues returns every queue file owned by a slot.
func (p Paths) TaskQueues(slot int) []string {
	base := p.SlotQueue(slot)
	if p.TasksPerJob <= 1 {
		return []string{base}
	}
	out := make([]string, p.TasksPerJob)
	for task := range out {
		out[task] = fmt.Sprintf("%s.%d", base, task)
	}
	return out
}

// JobID returns the binding file of a slot.
func (p Paths) JobID(slot int) string {
	return fmt.Sprintf("%s_slot_%d.jobid", p.Workload, slot)
}

// JobName returns the default scheduler job name for a slot.
func (p Paths) JobName(slot int) string {
	base := strings.TrimSuffix(filepath.Base(p.Workload), filepath.Ext(p.Workload))
	return fmt.Sprintf("%s_slot_%d", base, slot)
}

// SlotFile is a queue or binding file found next to the workload.
type SlotFile struct {
	Path string
	Slot int
	// Task is the ".<task>" suffix of a queue file, or -1 when it has none.
	Task  int
	JobID bool
}

// SlotFiles lists every slot queue and binding file of the workload on disk,
// whatever slot count or task layout wrote them. Sorted by slot, then task,
// binding files last.
func (p Paths) SlotFiles() ([]SlotFile, error) {
	dir, base := filepath.Split(p.Workload)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: list %s: %w", dir, err)
	}
	prefix := base + "_slot_"
	var out []SlotFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file, ok := parseSlotFile(entry.Name(), prefix)
		if !ok {
			continue
		}
		file.Path = filepath.Join(dir, entry.Name())
		out = append(out, file)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		if a.JobID != b.JobID {
			return b.JobID
		}
		return a.Task < b.Task
	})
	return out, nil
}

func parseSlotFile(name, prefix string) (SlotFile, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return SlotFile{}, false
	}
	num, kind, ok := strings.Cut(rest, ".")
	if !ok {
		return SlotFile{}, false
	}
	slot, err := strconv.Atoi(num)
	if err != nil || slot < 0 {
		return SlotFile{}, false
	}
	switch kind {
	case "jobid":
		return SlotFile{Slot: slot, Task: -1, JobID: true}, true
	case "queue":
		return SlotFile{Slot: slot, Task: -1}, true
	}
	suffix, ok := strings.CutPrefix(kind, "queue.")
	if !ok {
		return SlotFile{}, false
	}
	task, err := strconv.Atoi(suffix)
	if err != nil || task < 0 {
		return SlotFile{}, false
	}
	return SlotFile{Slot: slot, Task: task}, true
}
