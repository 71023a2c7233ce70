//go:build !windows

package observability

import "golang.org/x/sys/unix"

// statFilesystem reports the size of the filesystem holding path and the
// space an unprivileged process may still use.
func statFilesystem(path string) (fsSpace, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return fsSpace{}, err
	}

	bsize := uint64(st.Bsize)
	return fsSpace{
		Total:     uint64(st.Blocks) * bsize,
		Available: uint64(st.Bavail) * bsize,
	}, nil
}
