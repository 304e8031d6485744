//go:build windows

package fswatcher

import (
	"io/fs"
	"os"
)

// statFile queries the metadata of path. The returned error preserves the
// underlying *fs.PathError so ENOENT can be detected with errors.Is.
func statFile(path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return fileInfoFrom(info), nil
}

func fileInfoFrom(info fs.FileInfo) FileInfo {
	// Windows has no cheap stable inode. The device field only has to keep
	// present entries distinguishable from the zero-valued absence sentinel,
	// so any nonzero value works.
	return FileInfo{
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Kind:    kindOf(info.Mode()),
		Dev:     1,
	}
}

func kindOf(mode fs.FileMode) Kind {
	switch {
	case mode.IsRegular():
		return KindFile
	case mode.IsDir():
		return KindDirectory
	default:
		return KindOther
	}
}
