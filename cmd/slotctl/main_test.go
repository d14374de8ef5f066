package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/slotfeed/internal/config"
	"github.com/kingrea/slotfeed/internal/filestore"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("slotctl %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func newWorkload(t *testing.T) string {
	t.Helper()
	t.Setenv(config.ConfigEnv, "")
	workload := filepath.Join(t.TempDir(), "w.txt")
	if err := filestore.Write(workload, filestore.Items("a\n", "b\n")); err != nil {
		t.Fatal(err)
	}
	return workload
}

func TestConfigCommandPrintsDefaults(t *testing.T) {
	out := execute(t, "config", newWorkload(t))
	if !strings.Contains(out, "# source: built-in defaults") || !strings.Contains(out, "max_items_per_slot: 6") {
		t.Fatalf("config output:\n%s", out)
	}
}

func TestTerminateCreatesSentinel(t *testing.T) {
	workload := newWorkload(t)
	execute(t, "terminate", workload)
	if _, err := os.Stat(workload + ".terminate"); err != nil {
		t.Fatalf("sentinel missing: %v", err)
	}
	out := execute(t, "status", workload)
	if !strings.Contains(out, "terminate requested") || !strings.Contains(out, "remaining") {
		t.Fatalf("status output:\n%s", out)
	}
}
