package sync

import (
	"path"

	"github.com/schaermu/replicad/internal/snapshot"
)

// OpKind identifies the kind of filesystem operation
type OpKind string

const (
	OpCreateDir  OpKind = "create-dir"
	OpCopyFile   OpKind = "copy-file"
	OpDeleteFile OpKind = "delete-file"
	OpDeleteDir  OpKind = "delete-dir"
)

// CopyReason records why a file copy was planned
type CopyReason string

const (
	// CopyNew means the file has no replica counterpart yet.
	CopyNew CopyReason = "new"
	// CopyStale means the replica copy has a strictly older modified time.
	CopyStale CopyReason = "stale"
)

// Operation is one planned change against the replica tree, addressed by
// root-relative path.
type Operation struct {
	Kind    OpKind
	RelPath string
	Reason  CopyReason // copy-file only
}

// Diff computes the ordered operations that converge the replica tree toward
// the source tree. Ordering guarantees, which the applier relies on rather
// than re-derives:
//
//   - kind conflicts (a replica file where the source has a directory, or
//     the reverse) are cleared first, child-before-parent, so the
//     constructive op for that path can land within the same cycle
//   - directories are created parent-before-child and deleted
//     child-before-parent
//   - constructive operations (creates, copies) precede the remaining
//     destructive ones, so a rename never transiently loses content within
//     a cycle
//   - file deletions precede directory deletions, leaving directories empty
//     by the time their delete runs
//
// Staleness is a strict modified-time comparison: equal timestamps count as
// already synced even when content differs. Re-hashing every file every cycle
// is the cost this avoids; the verifier surfaces the blind spot in the audit
// log instead.
func Diff(source, replica *snapshot.Inventory) []Operation {
	var ops []Operation

	// Replica entries whose path the source occupies with the other kind,
	// plus everything beneath a conflicting directory. Reverse traversal
	// order keeps these removals child-before-parent.
	removed := make(map[string]bool)
	replicaPaths := replica.Paths()
	for i := len(replicaPaths) - 1; i >= 0; i-- {
		rel := replicaPaths[i]
		if !kindConflicted(source, replica, rel) {
			continue
		}
		entry, _ := replica.Lookup(rel)
		if entry.IsDir() {
			ops = append(ops, Operation{Kind: OpDeleteDir, RelPath: rel})
		} else {
			ops = append(ops, Operation{Kind: OpDeleteFile, RelPath: rel})
		}
		removed[rel] = true
	}

	// Missing directories, parent-first (inventory order). A replica file
	// at the same path was already removed above.
	for _, dir := range source.Dirs() {
		if current, exists := replica.Lookup(dir); !exists || !current.IsDir() {
			ops = append(ops, Operation{Kind: OpCreateDir, RelPath: dir})
		}
	}

	// New and stale files.
	for _, file := range source.Files() {
		current, exists := replica.Lookup(file.RelPath)
		switch {
		case !exists:
			ops = append(ops, Operation{Kind: OpCopyFile, RelPath: file.RelPath, Reason: CopyNew})
		case current.IsDir():
			// The conflicting directory is deleted earlier in the plan.
			ops = append(ops, Operation{Kind: OpCopyFile, RelPath: file.RelPath, Reason: CopyNew})
		case file.ModTime.After(current.ModTime):
			ops = append(ops, Operation{Kind: OpCopyFile, RelPath: file.RelPath, Reason: CopyStale})
		}
	}

	// Orphaned files.
	for _, file := range replica.Files() {
		if _, exists := source.Lookup(file.RelPath); !exists && !removed[file.RelPath] {
			ops = append(ops, Operation{Kind: OpDeleteFile, RelPath: file.RelPath})
		}
	}

	// Orphaned directories, child-first (reversed inventory order).
	dirs := replica.Dirs()
	for i := len(dirs) - 1; i >= 0; i-- {
		if _, exists := source.Lookup(dirs[i]); !exists && !removed[dirs[i]] {
			ops = append(ops, Operation{Kind: OpDeleteDir, RelPath: dirs[i]})
		}
	}

	return ops
}

// kindConflicted reports whether the replica entry at rel, or any directory
// above it, sits at a path the source occupies with the other kind. Entries
// under a conflicting directory are doomed with it.
func kindConflicted(source, replica *snapshot.Inventory, rel string) bool {
	for p := rel; p != "."; p = path.Dir(p) {
		current, ok := replica.Lookup(p)
		if !ok {
			continue
		}
		if src, inSource := source.Lookup(p); inSource && src.IsDir() != current.IsDir() {
			return true
		}
	}
	return false
}
