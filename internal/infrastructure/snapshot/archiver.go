package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5/osfs"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"go.uber.org/zap"
)

// defaultExcludes are artifact and cache directories never captured in
// snapshots.
var defaultExcludes = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	"target":       true,
	".npm-cache":   true,
}

// Archiver takes and restores content-addressed workspace snapshots. When
// the work path sits inside a git checkout its object store is used
// directly; otherwise a hidden per-workspace store is lazily initialized
// under the snapshot directory, keyed by a hash of the absolute work path.
type Archiver struct {
	snapshotDir string
	logger      *zap.Logger
}

// NewArchiver creates an archiver rooted at snapshotDir.
func NewArchiver(snapshotDir string, logger *zap.Logger) *Archiver {
	return &Archiver{snapshotDir: snapshotDir, logger: logger}
}

// repoContext resolves the object store and the tree root for a work path.
type repoContext struct {
	store storer.EncodedObjectStorer
	root  string
}

func (a *Archiver) resolve(workPath string) (*repoContext, error) {
	abs, err := filepath.Abs(workPath)
	if err != nil {
		return nil, fmt.Errorf("resolve work path: %w", err)
	}

	if repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true}); err == nil {
		root := abs
		if wt, err := repo.Worktree(); err == nil {
			root = wt.Filesystem.Root()
		}
		return &repoContext{store: repo.Storer, root: root}, nil
	}

	gitDir := a.hiddenStoreDir(abs)
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}
	storage := filesystem.NewStorage(osfs.New(gitDir), cache.NewObjectLRUDefault())
	return &repoContext{store: storage, root: abs}, nil
}

// hiddenStoreDir keys the per-workspace store by a hash of the absolute
// work path.
func (a *Archiver) hiddenStoreDir(absWorkPath string) string {
	digest := sha256.Sum256([]byte(absWorkPath))
	return filepath.Join(a.snapshotDir, hex.EncodeToString(digest[:])[:16], "git")
}

// CreateTree stages the working tree and writes a tree object. The returned
// tree hash is the snapshot identifier.
func (a *Archiver) CreateTree(workPath string) (string, error) {
	ctx, err := a.resolve(workPath)
	if err != nil {
		return "", err
	}
	hash, empty, err := a.buildTree(ctx.store, ctx.root)
	if err != nil {
		return "", fmt.Errorf("write snapshot tree: %w", err)
	}
	if empty {
		// An empty workspace still snapshots: the empty tree restores to an
		// empty directory.
		a.logger.Debug("Snapshot of empty workspace", zap.String("work_path", workPath))
	}
	a.logger.Info("Workspace snapshot created",
		zap.String("work_path", workPath),
		zap.String("tree_hash", hash.String()),
	)
	return hash.String(), nil
}

// buildTree recursively stores blobs and tree objects for dir, returning the
// tree hash and whether the tree is empty.
func (a *Archiver) buildTree(store storer.EncodedObjectStorer, dir string) (plumbing.Hash, bool, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}

	var entries []object.TreeEntry
	for _, de := range dirEntries {
		name := de.Name()
		if defaultExcludes[name] {
			continue
		}
		full := filepath.Join(dir, name)

		switch {
		case de.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				continue
			}
			hash, err := storeBlobBytes(store, []byte(target))
			if err != nil {
				return plumbing.ZeroHash, false, err
			}
			entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Symlink, Hash: hash})

		case de.IsDir():
			childHash, empty, err := a.buildTree(store, full)
			if err != nil {
				return plumbing.ZeroHash, false, err
			}
			if empty {
				continue // git does not track empty directories
			}
			entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: childHash})

		case de.Type().IsRegular():
			info, err := de.Info()
			if err != nil {
				continue
			}
			hash, err := storeBlobFile(store, full)
			if err != nil {
				return plumbing.ZeroHash, false, err
			}
			mode := filemode.Regular
			if info.Mode()&0o111 != 0 {
				mode = filemode.Executable
			}
			entries = append(entries, object.TreeEntry{Name: name, Mode: mode, Hash: hash})
		}
	}

	sortTreeEntries(entries)
	tree := &object.Tree{Entries: entries}
	obj := store.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, false, err
	}
	hash, err := store.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, false, err
	}
	return hash, len(entries) == 0, nil
}

// sortTreeEntries orders entries the way git does: byte order over names,
// with directories comparing as name plus a trailing slash.
func sortTreeEntries(entries []object.TreeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return treeEntryKey(entries[i]) < treeEntryKey(entries[j])
	})
}

func treeEntryKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

func storeBlobFile(store storer.EncodedObjectStorer, path string) (plumbing.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return plumbing.ZeroHash, err
	}

	obj := store.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(info.Size())
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return store.SetEncodedObject(obj)
}

func storeBlobBytes(store storer.EncodedObjectStorer, data []byte) (plumbing.Hash, error) {
	obj := store.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(data)))
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return store.SetEncodedObject(obj)
}

// RestoreTree materializes the snapshot tree into the work path, overwriting
// tracked files and deleting untracked files and directories so the working
// tree matches the snapshot exactly (excluded paths aside).
func (a *Archiver) RestoreTree(treeHash, workPath string) error {
	ctx, err := a.resolve(workPath)
	if err != nil {
		return err
	}

	tree, err := object.GetTree(ctx.store, plumbing.NewHash(treeHash))
	if err != nil {
		return fmt.Errorf("load snapshot tree %s: %w", treeHash, err)
	}

	expected := map[string]bool{}
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("walk snapshot tree: %w", err)
		}
		if entry.Mode == filemode.Dir {
			expected[name] = true
			continue
		}
		expected[name] = true
		if err := a.restoreEntry(ctx, name, entry); err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
	}

	if err := a.deleteUntracked(ctx.root, "", expected); err != nil {
		return fmt.Errorf("clean untracked files: %w", err)
	}

	a.logger.Info("Workspace snapshot restored",
		zap.String("work_path", workPath),
		zap.String("tree_hash", treeHash),
	)
	return nil
}

func (a *Archiver) restoreEntry(ctx *repoContext, name string, entry object.TreeEntry) error {
	dest := filepath.Join(ctx.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	blob, err := object.GetBlob(ctx.store, entry.Hash)
	if err != nil {
		return err
	}
	reader, err := blob.Reader()
	if err != nil {
		return err
	}
	defer reader.Close()

	if entry.Mode == filemode.Symlink {
		target, err := io.ReadAll(reader)
		if err != nil {
			return err
		}
		_ = os.Remove(dest)
		return os.Symlink(string(target), dest)
	}

	perm := os.FileMode(0o644)
	if entry.Mode == filemode.Executable {
		perm = 0o755
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, reader); err != nil {
		return err
	}
	return f.Chmod(perm)
}

// deleteUntracked removes files and directories not present in the snapshot.
func (a *Archiver) deleteUntracked(root, rel string, expected map[string]bool) error {
	dir := filepath.Join(root, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		name := de.Name()
		if defaultExcludes[name] {
			continue
		}
		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}
		full := filepath.Join(dir, name)

		if de.IsDir() {
			if !expected[childRel] {
				if err := os.RemoveAll(full); err != nil {
					return err
				}
				continue
			}
			if err := a.deleteUntracked(root, childRel, expected); err != nil {
				return err
			}
			continue
		}
		if !expected[childRel] {
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// ExcludedNames exposes the default exclude list for tests and diagnostics.
func ExcludedNames() []string {
	names := make([]string, 0, len(defaultExcludes))
	for name := range defaultExcludes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
