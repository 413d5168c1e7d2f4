//go:build !windows

package squashfs

import (
	"io/fs"
	"syscall"

	"golang.org/x/sys/unix"
)

// statInfo recovers the uid, gid and (for device nodes) rdev that fs.FileInfo
// itself doesn't expose, by reaching into info.Sys(). The teacher's original
// attempt asserted Sys() against an interface with Uid()/Gid() methods, which
// *syscall.Stat_t never satisfies (its Uid/Gid are plain fields) and so could
// never actually fire; this asserts the concrete type instead.
func statInfo(info fs.FileInfo) (uid, gid, rdev uint32) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, 0
	}
	rdev = uint32(unix.Mkdev(unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev))))
	return uint32(st.Uid), uint32(st.Gid), rdev
}
