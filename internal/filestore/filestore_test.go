package filestore

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestReadMissingFileIsEmpty(t *testing.T) {
	items, err := Read(filepath.Join(t.TempDir(), "absent.queue"))
	if err != nil {
		t.Fatalf("Read missing: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no items, got %d", len(items))
	}
}

func TestWriteReadPreservesBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work.txt")
	want := Items("echo a\n", "\n", "run --flag 'x y'\r\n", "  padded  \n")
	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "echo a\n\nrun --flag 'x y'\r\n  padded  \n" {
		t.Fatalf("unexpected file contents %q", data)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Read = %q, want %q", got, want)
	}
	if _, err := os.Stat(path + TempSuffix); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestDecodeTerminatesTrailingFragment(t *testing.T) {
	got, err := Decode(strings.NewReader("a\nb"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Items("a\n", "b\n")
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Decode = %q, want %q", got, want)
	}
}

func TestWriteReplacesExistingContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work.remaining")
	if err := Write(path, Items("1\n", "2\n", "3\n")); err != nil {
		t.Fatal(err)
	}
	if err := Write(path, nil); err != nil {
		t.Fatal(err)
	}
	empty, err := EmptyOrMissing(path)
	if err != nil {
		t.Fatal(err)
	}
	if !empty {
		t.Fatalf("expected empty file after writing no items")
	}
	if !Exists(path) {
		t.Fatalf("empty checkpoint must still exist")
	}
}

func TestWriteFailsWithoutParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "work.remaining")
	if err := Write(path, Items("x\n")); err == nil {
		t.Fatalf("expected error writing into a missing directory")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slot.jobid")
	if _, ok, err := ReadToken(path); err != nil || ok {
		t.Fatalf("ReadToken missing = ok %v err %v", ok, err)
	}
	if err := WriteToken(path, "918273"); err != nil {
		t.Fatal(err)
	}
	token, ok, err := ReadToken(path)
	if err != nil || !ok {
		t.Fatalf("ReadToken = ok %v err %v", ok, err)
	}
	if token != "918273" {
		t.Fatalf("token = %q, want 918273", token)
	}
}

func TestRemoveMissingIsNotError(t *testing.T) {
	if err := Remove(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
}
