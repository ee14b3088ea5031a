package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// unknownFilesystem is reported where the platform cannot name a mount.
const unknownFilesystem = "unknown"

// networkFilesystems lists mounts on which rename-based artifact publish and
// SQLite locking are unreliable.
var networkFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"ceph":   {},
	"cifs":   {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// CheckLocalFilesystem ensures path (or its nearest existing parent) is on a
// local filesystem. The artifact cache publishes with rename(2) and the
// catalog uses SQLite locking; neither is reliable on network mounts.
func CheckLocalFilesystem(path, setting string) error {
	return checkLocalFilesystemWithDetector(path, setting, detectFilesystemType)
}

func checkLocalFilesystemWithDetector(path, setting string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s is empty", setting)
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve %s %q: %w", setting, path, err)
	}

	fsType, err := detector(inspectPath)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"%s %q is on network filesystem %q; atomic publish and SQLite locking require a local filesystem. Point %s (or -o /path/to/local/cache) at local disk",
			setting,
			path,
			fsType,
			setting,
		)
	}

	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}
