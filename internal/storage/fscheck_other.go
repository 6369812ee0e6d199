//go:build !darwin && !linux

package storage

// Mounts cannot be inspected here; everything is treated as local.
func detectFilesystemType(string) (string, error) {
	return "unknown", nil
}
