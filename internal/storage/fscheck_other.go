//go:build !darwin && !linux

package storage

// detectFilesystemType cannot inspect mounts here, so the cache is assumed to
// be local.
func detectFilesystemType(string) (string, error) {
	return unknownFilesystem, nil
}
