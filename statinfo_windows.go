//go:build windows

package squashfs

import "io/fs"

// statInfo has no uid/gid/rdev equivalent to recover on Windows; every
// added entry is stored as owned by uid/gid 0 with no device number.
func statInfo(info fs.FileInfo) (uid, gid, rdev uint32) {
	return 0, 0, 0
}
