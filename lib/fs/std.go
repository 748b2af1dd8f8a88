package fs

import (
	"os"
	"path/filepath"

	"github.com/majestrate/swarmwatch/lib/util"
)

type stdFs struct{}

// STD is the local filesystem
var STD Driver = stdFs{}

func (f stdFs) Open() error {
	return nil
}

func (f stdFs) Close() error {
	return nil
}

func (f stdFs) ReadFile(fname string) ([]byte, error) {
	return os.ReadFile(fname)
}

func (f stdFs) WriteFile(fname string, data []byte) error {
	return util.WriteFileAtomic(fname, data)
}

func (f stdFs) EnsureDir(fname string) error {
	return util.EnsureDir(fname)
}

func (f stdFs) FileExists(fname string) bool {
	return util.CheckFile(fname)
}

func (f stdFs) Glob(glob string) ([]string, error) {
	return filepath.Glob(glob)
}

func (f stdFs) Remove(fname string) error {
	return os.Remove(fname)
}

func (f stdFs) Join(parts ...string) string {
	return filepath.Join(parts...)
}

func (f stdFs) Move(oldpath, newpath string) (err error) {
	dir, _ := filepath.Split(newpath)
	err = f.EnsureDir(dir)
	if err == nil {
		err = os.Rename(oldpath, newpath)
	}
	return
}

func (f stdFs) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}
