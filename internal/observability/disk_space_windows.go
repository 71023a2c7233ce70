//go:build windows

package observability

import "golang.org/x/sys/windows"

func statFilesystem(path string) (fsSpace, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fsSpace{}, err
	}

	var avail, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, &total, &free); err != nil {
		return fsSpace{}, err
	}
	return fsSpace{Total: total, Available: avail}, nil
}
