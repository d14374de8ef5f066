// Package filestore reads and writes newline-delimited item files. Writes go
// to a private temp path and are renamed over the target, so a concurrent
// reader sees either the previous or the new contents and never a partial
// file.
package filestore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TempSuffix is appended to a target path to form its private temp path.
const TempSuffix = ".distributor.tmp"

// Item is one opaque line of work, including its trailing newline.
type Item string

// Items converts raw lines into items. Lines are used verbatim.
func Items(lines ...string) []Item {
	out := make([]Item, len(lines))
	for i, line := range lines {
		out[i] = Item(line)
	}
	return out
}

// Read returns the items stored at path in file order. A missing file yields
// an empty slice and no error.
func Read(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: open %s: %w", path, err)
	}
	defer f.Close()
	items, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	return items, nil
}

// Decode splits r into items on '\n'. A trailing fragment without a newline
// becomes its own item and is terminated, so items never fuse when they are
// concatenated later.
func Decode(r io.Reader) ([]Item, error) {
	var items []Item
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			items = append(items, Item(line))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return items, nil
			}
			return items, err
		}
	}
}

// Write atomically replaces path with items. The parent directory must exist.
func Write(path string, items []Item) error {
	tmp := path + TempSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: create %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	for _, item := range items {
		if _, err := w.WriteString(string(item)); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("filestore: write %s: %w", tmp, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("filestore: flush %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("filestore: sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("filestore: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("filestore: rename %s: %w", filepath.Base(tmp), err)
	}
	return nil
}

// WriteToken atomically replaces path with a single newline-terminated token.
func WriteToken(path, token string) error {
	return Write(path, []Item{Item(strings.TrimSpace(token) + "\n")})
}

// ReadToken returns the trimmed contents of path. ok is false when the file
// does not exist.
func ReadToken(path string) (token string, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("filestore: read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}

// EmptyOrMissing reports whether path is absent or zero-length.
func EmptyOrMissing(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("filestore: stat %s: %w", path, err)
	}
	return info.Size() == 0, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore: remove %s: %w", path, err)
	}
	return nil
}
