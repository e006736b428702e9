package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, dir, name string) (string, bool) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if os.IsNotExist(err) {
		return "", false
	}
	if err != nil {
		t.Fatal(err)
	}
	return string(data), true
}

func newTestArchiver(t *testing.T) *Archiver {
	t.Helper()
	return NewArchiver(t.TempDir(), zap.NewNop())
}

func TestSnapshotRoundTrip(t *testing.T) {
	work := t.TempDir()
	writeFile(t, work, "a.txt", "original a")
	writeFile(t, work, "sub/b.txt", "original b")

	archiver := newTestArchiver(t)
	treeHash, err := archiver.CreateTree(work)
	if err != nil {
		t.Fatal(err)
	}
	if treeHash == "" {
		t.Fatal("tree hash must be non-empty")
	}

	// Mutate: edit, add, delete.
	writeFile(t, work, "a.txt", "changed")
	writeFile(t, work, "new.txt", "added later")
	if err := os.RemoveAll(filepath.Join(work, "sub")); err != nil {
		t.Fatal(err)
	}

	if err := archiver.RestoreTree(treeHash, work); err != nil {
		t.Fatal(err)
	}

	if content, ok := readFile(t, work, "a.txt"); !ok || content != "original a" {
		t.Errorf("a.txt = %q, want restored content", content)
	}
	if content, ok := readFile(t, work, "sub/b.txt"); !ok || content != "original b" {
		t.Errorf("sub/b.txt = %q, want restored content", content)
	}
	if _, ok := readFile(t, work, "new.txt"); ok {
		t.Error("untracked file must be deleted on restore")
	}
}

func TestSnapshotRestoreIdempotent(t *testing.T) {
	work := t.TempDir()
	writeFile(t, work, "x.txt", "stable")

	archiver := newTestArchiver(t)
	treeHash, err := archiver.CreateTree(work)
	if err != nil {
		t.Fatal(err)
	}

	if err := archiver.RestoreTree(treeHash, work); err != nil {
		t.Fatal(err)
	}

	// A workspace already equal to the snapshot hashes to the same tree.
	again, err := archiver.CreateTree(work)
	if err != nil {
		t.Fatal(err)
	}
	if again != treeHash {
		t.Errorf("tree hash changed after restore: %s != %s", again, treeHash)
	}
}

func TestSnapshotContentAddressing(t *testing.T) {
	work := t.TempDir()
	writeFile(t, work, "f.txt", "v1")

	archiver := newTestArchiver(t)
	first, err := archiver.CreateTree(work)
	if err != nil {
		t.Fatal(err)
	}

	// Identical content: identical hash.
	same, err := archiver.CreateTree(work)
	if err != nil {
		t.Fatal(err)
	}
	if same != first {
		t.Error("identical workspaces must produce identical tree hashes")
	}

	writeFile(t, work, "f.txt", "v2")
	changed, err := archiver.CreateTree(work)
	if err != nil {
		t.Fatal(err)
	}
	if changed == first {
		t.Error("changed content must change the tree hash")
	}
}

func TestSnapshotSkipsExcludedDirs(t *testing.T) {
	work := t.TempDir()
	writeFile(t, work, "keep.txt", "keep")
	writeFile(t, work, "node_modules/pkg/index.js", "junk")

	archiver := newTestArchiver(t)
	withJunk, err := archiver.CreateTree(work)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.RemoveAll(filepath.Join(work, "node_modules")); err != nil {
		t.Fatal(err)
	}
	withoutJunk, err := archiver.CreateTree(work)
	if err != nil {
		t.Fatal(err)
	}
	if withJunk != withoutJunk {
		t.Error("excluded directories must not affect the tree hash")
	}

	// Restore leaves excluded paths alone.
	writeFile(t, work, "node_modules/pkg/index.js", "junk")
	if err := archiver.RestoreTree(withoutJunk, work); err != nil {
		t.Fatal(err)
	}
	if _, ok := readFile(t, work, "node_modules/pkg/index.js"); !ok {
		t.Error("restore must not delete excluded paths")
	}
}

func TestHiddenStoreKeyedByWorkPath(t *testing.T) {
	archiver := newTestArchiver(t)
	a := archiver.hiddenStoreDir("/work/project-a")
	b := archiver.hiddenStoreDir("/work/project-b")
	if a == b {
		t.Error("distinct work paths must map to distinct stores")
	}
	if archiver.hiddenStoreDir("/work/project-a") != a {
		t.Error("store keying must be deterministic")
	}
}
