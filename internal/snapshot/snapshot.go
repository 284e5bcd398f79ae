package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrRootNotFound is returned when the requested root directory does not exist.
var ErrRootNotFound = errors.New("root directory not found")

// Kind classifies a filesystem entry
type Kind string

const (
	KindDir  Kind = "dir"
	KindFile Kind = "file"
)

// Entry is one filesystem object discovered under a root, keyed by its
// slash-separated path relative to that root. Directory entries at the same
// relative path are considered equal regardless of timestamp.
type Entry struct {
	RelPath string
	Kind    Kind
	ModTime time.Time // files only
	Size    int64
}

// IsDir returns true if the entry is a directory
func (e Entry) IsDir() bool {
	return e.Kind == KindDir
}

// Inventory is the result of one full tree walk: every entry under Root,
// in traversal order (parents before the entries they contain).
type Inventory struct {
	Root string

	entries map[string]Entry
	order   []string
}

// Take walks the tree rooted at root and builds its inventory.
// Symbolic links are recorded neither as files nor directories and are
// never followed, so link loops cannot trap the walk.
func Take(root string) (*Inventory, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return nil, fmt.Errorf("failed to stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	inv := &Inventory{
		Root:    root,
		entries: make(map[string]Entry),
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to compute relative path for %s: %w", path, err)
		}

		entry := Entry{RelPath: filepath.ToSlash(rel)}
		if d.IsDir() {
			entry.Kind = KindDir
		} else {
			fi, err := d.Info()
			if err != nil {
				// File vanished mid-walk; it will be picked up next cycle.
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return fmt.Errorf("failed to stat %s: %w", path, err)
			}
			entry.Kind = KindFile
			entry.ModTime = fi.ModTime()
			entry.Size = fi.Size()
		}

		inv.add(entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return inv, nil
}

func (inv *Inventory) add(e Entry) {
	if _, exists := inv.entries[e.RelPath]; !exists {
		inv.order = append(inv.order, e.RelPath)
	}
	inv.entries[e.RelPath] = e
}

// Len returns the number of entries in the inventory
func (inv *Inventory) Len() int {
	return len(inv.order)
}

// Lookup returns the entry for the given relative path
func (inv *Inventory) Lookup(relPath string) (Entry, bool) {
	e, ok := inv.entries[relPath]
	return e, ok
}

// Paths returns every relative path in traversal order
func (inv *Inventory) Paths() []string {
	out := make([]string, len(inv.order))
	copy(out, inv.order)
	return out
}

// Dirs returns the relative paths of all directories in traversal order,
// so parents always precede their children.
func (inv *Inventory) Dirs() []string {
	var out []string
	for _, rel := range inv.order {
		if inv.entries[rel].IsDir() {
			out = append(out, rel)
		}
	}
	return out
}

// Files returns all file entries in traversal order
func (inv *Inventory) Files() []Entry {
	var out []Entry
	for _, rel := range inv.order {
		if e := inv.entries[rel]; !e.IsDir() {
			out = append(out, e)
		}
	}
	return out
}

// Abs maps a relative path back to an absolute path under the inventory root
func (inv *Inventory) Abs(relPath string) string {
	return filepath.Join(inv.Root, filepath.FromSlash(relPath))
}
