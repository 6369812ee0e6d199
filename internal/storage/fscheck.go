package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem names reported for mounts whose locking and fsync semantics
// cannot be trusted by SQLite or by a flush-then-copy of a live world.
var networkFilesystems = map[string]bool{
	"9p":     true,
	"afpfs":  true,
	"afs":    true,
	"ceph":   true,
	"cifs":   true,
	"nfs":    true,
	"smb2":   true,
	"smbfs":  true,
	"webdav": true,
}

// NetworkMount is returned when a path lives on a network filesystem.
type NetworkMount struct {
	Path   string
	FSType string
}

func (e *NetworkMount) Error() string {
	return fmt.Sprintf("%s is on network filesystem %s", e.Path, e.FSType)
}

// FilesystemType reports the filesystem holding path, or holding its
// nearest existing ancestor when path does not exist yet.
func FilesystemType(path string) (string, error) {
	return filesystemTypeWith(path, detectFilesystemType)
}

func filesystemTypeWith(path string, detect func(string) (string, error)) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	existing, err := nearestExistingPath(path)
	if err != nil {
		return "", err
	}
	fsType, err := detect(existing)
	if err != nil {
		return "", fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	return fsType, nil
}

// RequireLocal returns a *NetworkMount error when path is on a network
// filesystem.
func RequireLocal(path string) error {
	return requireLocalWith(path, detectFilesystemType)
}

func requireLocalWith(path string, detect func(string) (string, error)) error {
	fsType, err := filesystemTypeWith(path, detect)
	if err != nil {
		return err
	}
	if IsNetworkFilesystem(fsType) {
		return &NetworkMount{Path: path, FSType: fsType}
	}
	return nil
}

func IsNetworkFilesystem(fsType string) bool {
	return networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
}

func nearestExistingPath(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	for {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor of %q", path)
		}
		dir = parent
	}
}
