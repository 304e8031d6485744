//go:build !windows

package fswatcher

import (
	"io/fs"
	"os"
	"syscall"
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
	fi := FileInfo{
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Kind:    kindOf(info.Mode()),
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		fi.Dev = uint64(st.Dev)
		fi.Ino = uint64(st.Ino)
	}
	return fi
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
