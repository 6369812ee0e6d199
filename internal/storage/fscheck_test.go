package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func fixedFS(name string) func(string) (string, error) {
	return func(string) (string, error) { return name, nil }
}

func TestRequireLocal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.db")
	if err := requireLocalWith(path, fixedFS("ext4")); err != nil {
		t.Fatalf("local filesystem rejected: %v", err)
	}

	err := requireLocalWith(path, fixedFS("nfs"))
	var nm *NetworkMount
	if !errors.As(err, &nm) {
		t.Fatalf("expected *NetworkMount, got %v", err)
	}
	if nm.FSType != "nfs" || nm.Path != path {
		t.Fatalf("unexpected mount detail %+v", nm)
	}
}

func TestFilesystemType_InspectsNearestAncestor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	var inspected string
	got, err := filesystemTypeWith(filepath.Join(root, "worlds", "design_alice"), func(p string) (string, error) {
		inspected = p
		return "xfs", nil
	})
	if err != nil {
		t.Fatalf("FilesystemType: %v", err)
	}
	if got != "xfs" {
		t.Fatalf("type = %q, want xfs", got)
	}
	if inspected != root {
		t.Fatalf("inspected %q, want nearest existing %q", inspected, root)
	}
}

func TestFilesystemType_EmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := filesystemTypeWith("", fixedFS("ext4")); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	for fs, want := range map[string]bool{
		"nfs":    true,
		"SMBFS":  true,
		" ceph ": true,
		"9p":     true,
		"apfs":   false,
		"ext4":   false,
		"0x6969": false,
	} {
		if got := IsNetworkFilesystem(fs); got != want {
			t.Errorf("IsNetworkFilesystem(%q) = %v, want %v", fs, got, want)
		}
	}
}
