package util

import (
	"os"
	"path/filepath"
)

// CheckFile returns true if a file exists
func CheckFile(fpath string) (exists bool) {
	_, err := os.Stat(fpath)
	exists = !os.IsNotExist(err)
	return
}

// EnsureDir makes a directory and all of its parents
func EnsureDir(fpath string) error {
	if fpath == "" {
		return nil
	}
	return os.MkdirAll(fpath, 0700)
}

// WriteFileAtomic writes data next to fpath then renames it into place
// so readers never observe a half written file
func WriteFileAtomic(fpath string, data []byte) (err error) {
	d, _ := filepath.Split(fpath)
	err = EnsureDir(d)
	if err == nil {
		tmp := fpath + ".tmp"
		err = os.WriteFile(tmp, data, 0600)
		if err == nil {
			err = os.Rename(tmp, fpath)
			if err != nil {
				os.Remove(tmp)
			}
		}
	}
	return
}
