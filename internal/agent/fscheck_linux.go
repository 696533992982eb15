//go:build linux

package agent

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// knownLocalFilesystems are the f_type magic numbers accepted as "a
// real local disk": btrfs, the ext family, xfs, and a handful of
// older or niche local filesystems. Network and virtual filesystems
// (NFS, CIFS, tmpfs, FUSE) are excluded: write latency on those
// measures the network or the kernel's page cache, not a disk.
var knownLocalFilesystems = map[int64]bool{
	0x9123683e: true, // BTRFS_SUPER_MAGIC
	0x73727279: true, // BTRFS_TEST_MAGIC
	0x137d:     true, // EXT_SUPER_MAGIC
	0xef51:     true, // EXT2_OLD_SUPER_MAGIC
	0xef53:     true, // EXT2/3/4_SUPER_MAGIC
	0x4244:     true, // HFS_SUPER_MAGIC
	0xf995e849: true, // HPFS_SUPER_MAGIC
	0x72b6:     true, // JFFS2_SUPER_MAGIC
	0x3153464a: true, // JFS_SUPER_MAGIC
	0x137f:     true, // MINIX_SUPER_MAGIC
	0x138f:     true, // MINIX_SUPER_MAGIC2
	0x2468:     true, // MINIX2_SUPER_MAGIC
	0x2478:     true, // MINIX2_SUPER_MAGIC2
	0x4d5a:     true, // MINIX3_SUPER_MAGIC
	0x4d44:     true, // MSDOS_SUPER_MAGIC
	0x5346544e: true, // NTFS_SB_MAGIC
	0x52654973: true, // REISERFS_SUPER_MAGIC
	0x58465342: true, // XFS_SUPER_MAGIC
	0xa501fcf5: true, // VXFS_SUPER_MAGIC
	0x2fc12fc1: true, // ZFS_SUPER_MAGIC
}

// CheckLocalFilesystem rejects probe files on network or virtual
// filesystems, where write latency would measure the wrong thing.
func CheckLocalFilesystem(f *os.File) error {
	var stat unix.Statfs_t
	if err := unix.Fstatfs(int(f.Fd()), &stat); err != nil {
		return fmt.Errorf("fscheck: statfs: %w", err)
	}
	fType := int64(stat.Type)
	if !knownLocalFilesystems[fType] {
		return fmt.Errorf("fscheck: unknown filesystem type 0x%x; this tool only measures local disk filesystems", uint64(stat.Type))
	}
	return nil
}
