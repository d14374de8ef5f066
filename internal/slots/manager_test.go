package slots

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kingrea/slotfeed/internal/config"
	"github.com/kingrea/slotfeed/internal/filestore"
	"github.com/kingrea/slotfeed/internal/scheduler"
)

func newManager(t *testing.T, max int) (*Manager, config.Paths) {
	t.Helper()
	paths := config.NewPaths(filepath.Join(t.TempDir(), "w.txt"), 1)
	return New(max, paths), paths
}

func jobs(ids ...scheduler.JobID) map[scheduler.JobID]struct{} {
	set := make(map[scheduler.JobID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func TestBindPersistsAndReloads(t *testing.T) {
	m, paths := newManager(t, 4)
	if err := m.Bind(1, "101"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := m.Bind(3, "103"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	data, err := os.ReadFile(paths.JobID(1))
	if err != nil || string(data) != "101\n" {
		t.Fatalf("binding file = %q err=%v", data, err)
	}

	reloaded := New(4, paths)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(reloaded.Bindings(), m.Bindings()) {
		t.Fatalf("reloaded %v, want %v", reloaded.Bindings(), m.Bindings())
	}
	if slot, ok := reloaded.SlotFor("103"); !ok || slot != 3 {
		t.Fatalf("SlotFor(103) = %d,%v", slot, ok)
	}
}

func TestBindReplacesStaleJob(t *testing.T) {
	m, _ := newManager(t, 2)
	_ = m.Bind(0, "1")
	_ = m.Bind(0, "2")
	if _, ok := m.SlotFor("1"); ok {
		t.Fatalf("stale job still mapped")
	}
	if id, _ := m.JobFor(0); id != "2" {
		t.Fatalf("JobFor(0) = %s", id)
	}
	if m.Bound() != 1 {
		t.Fatalf("Bound = %d", m.Bound())
	}
}

func TestBindMovesJobBetweenSlots(t *testing.T) {
	m, paths := newManager(t, 3)
	_ = m.Bind(0, "7")
	if err := m.Bind(2, "7"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.JobFor(0); ok {
		t.Fatalf("job must leave its previous slot")
	}
	if filestore.Exists(paths.JobID(0)) {
		t.Fatalf("previous binding file not removed")
	}
	if slot, _ := m.SlotFor("7"); slot != 2 {
		t.Fatalf("SlotFor = %d", slot)
	}
}

func TestUnbindRemovesFile(t *testing.T) {
	m, paths := newManager(t, 2)
	_ = m.Bind(1, "9")
	if err := m.Unbind(1); err != nil {
		t.Fatal(err)
	}
	if filestore.Exists(paths.JobID(1)) {
		t.Fatalf("binding file survived unbind")
	}
	if err := m.Unbind(1); err != nil {
		t.Fatalf("unbinding an unbound slot: %v", err)
	}
	if err := m.Unbind(5); err == nil {
		t.Fatalf("out of range slot accepted")
	}
}

func TestReconcile(t *testing.T) {
	m, _ := newManager(t, 4)
	_ = m.Bind(0, "10")
	_ = m.Bind(2, "12")
	_ = m.Bind(3, "13")
	active, available := m.Reconcile(jobs("10", "13", "999"))
	if !reflect.DeepEqual(active, []int{0, 3}) {
		t.Fatalf("active = %v", active)
	}
	if !reflect.DeepEqual(available, []int{1, 2}) {
		t.Fatalf("available = %v", available)
	}

	// the same view twice yields the same split
	again, availAgain := m.Reconcile(jobs("10", "13", "999"))
	if !reflect.DeepEqual(again, active) || !reflect.DeepEqual(availAgain, available) {
		t.Fatalf("reconcile not stable")
	}
}

func TestReconcileEmptyView(t *testing.T) {
	m, _ := newManager(t, 3)
	_ = m.Bind(1, "5")
	active, available := m.Reconcile(nil)
	if len(active) != 0 || !reflect.DeepEqual(available, []int{0, 1, 2}) {
		t.Fatalf("active=%v available=%v", active, available)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	m, paths := newManager(t, 2)
	if err := os.WriteFile(paths.JobID(0), []byte("not a job\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Load(); err == nil {
		t.Fatalf("expected error for malformed binding")
	}
}

func TestLoadDropsDuplicateBinding(t *testing.T) {
	m, paths := newManager(t, 3)
	_ = filestore.WriteToken(paths.JobID(0), "42")
	_ = filestore.WriteToken(paths.JobID(2), "42")
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}
	if slot, _ := m.SlotFor("42"); slot != 2 || m.Bound() != 1 {
		t.Fatalf("SlotFor(42) = %d bound=%d", slot, m.Bound())
	}
	if filestore.Exists(paths.JobID(0)) {
		t.Fatalf("losing binding file left on disk")
	}
	reloaded := New(3, paths)
	if err := reloaded.Load(); err != nil || !reflect.DeepEqual(reloaded.Bindings(), m.Bindings()) {
		t.Fatalf("reloaded %v err=%v", reloaded.Bindings(), err)
	}
}

func TestStrandedBindings(t *testing.T) {
	m, paths := newManager(t, 2)
	_ = filestore.WriteToken(paths.JobID(1), "1")
	_ = filestore.WriteToken(paths.JobID(2), "2")
	_ = filestore.WriteToken(paths.JobID(7), "7")
	_ = filestore.Write(paths.SlotQueue(4), filestore.Items("x\n"))
	got, err := m.Stranded()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{paths.JobID(2), paths.JobID(7)}) {
		t.Fatalf("stranded = %v", got)
	}
}
