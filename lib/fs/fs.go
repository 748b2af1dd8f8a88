// Package fs abstracts the filesystem holding the torrent store so it can
// live on local disk or on a remote host over sftp.
package fs

import (
	"errors"
	"io"
	"os"
)

var ErrNotConnected = errors.New("filesystem not connected")

type Driver interface {
	io.Closer
	// open any underlying contexts
	Open() error
	// read a whole file
	ReadFile(fpath string) ([]byte, error)
	// replace a whole file
	WriteFile(fpath string, data []byte) error
	// return true if file exists
	FileExists(fpath string) bool
	// ensure a directory exists
	EnsureDir(fpath string) error
	// filepath.Glob lookalike
	Glob(str string) ([]string, error)
	// remove single file
	Remove(fpath string) error
	// Join path
	Join(parts ...string) string
	// move file
	Move(oldPath, newPath string) error
	// call stat()
	Stat(path string) (os.FileInfo, error)
}
