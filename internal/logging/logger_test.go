package logging

import (
	"bytes"
	"encoding/json"
	stdlib "log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/slotfeed/internal/config"
)

func TestJSONEntriesCarryRunID(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LoggingConfig{Level: "info", Format: config.FormatJSON}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.ForRun("abc").WithField("slot", 3).Info("submitted")
	var fields map[string]any
	if err := json.Unmarshal(buf.Bytes(), &fields); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if fields["msg"] != "submitted" || fields[RunIDField] != "abc" || fields["slot"] != float64(3) {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LoggingConfig{Level: "warn", Format: config.FormatText}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hidden")
	l.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestFileReceivesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "slotfeed.log")
	var buf bytes.Buffer
	l, err := New(config.LoggingConfig{Level: "info", Format: config.FormatText, File: path}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hello")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello") || !strings.Contains(buf.String(), "hello") {
		t.Fatalf("file=%q stderr=%q", data, buf.String())
	}
}

func TestCaptureStdlib(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.LoggingConfig{Level: "info", Format: config.FormatText}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	l.CaptureStdlib()
	defer stdlib.SetOutput(os.Stderr)
	stdlib.Print("from stdlib")
	if !strings.Contains(buf.String(), "from stdlib") || !strings.Contains(buf.String(), "level=info") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestRejectsBadLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud"}, nil); err == nil {
		t.Fatalf("expected level error")
	}
}
