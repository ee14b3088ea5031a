//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// Superblock magic numbers of the network filesystems a shared artifact
// cache is commonly mounted from. See statfs(2).
const (
	linuxNFSMagic  = 0x6969
	linuxCIFSMagic = 0xFF534D42
	linuxSMBMagic  = 0x517B
	linuxSMB2Magic = 0xFE534D42
	linuxCephMagic = 0x00C36400
	linux9PMagic   = 0x01021997
)

var linuxMagicNames = map[uint64]string{
	linuxNFSMagic:  "nfs",
	linuxCIFSMagic: "cifs",
	linuxSMBMagic:  "smbfs",
	linuxSMB2Magic: "smb2",
	linuxCephMagic: "ceph",
	linux9PMagic:   "9p",
}

// detectFilesystemType names the filesystem holding the cache directory.
// Local filesystems are reported by their raw magic, which never matches a
// network name.
func detectFilesystemType(path string) (string, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	magic := uint64(stat.Type)
	if name, ok := linuxMagicNames[magic]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%x", magic), nil
}
