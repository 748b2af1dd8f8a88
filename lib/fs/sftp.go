package fs

import (
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"

	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/sync"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// sftp status code for "file exists" style failures
const sshFxFailure = 4

type sftpFS struct {
	username   string
	hostname   string
	keyfile    string
	remotekey  string
	port       int
	access     sync.Mutex
	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// SFTP returns a driver that stores files on a remote host. remotekey is the
// base64 encoded public host key of the server.
func SFTP(username, hostname, keyfile, remotekey string, port int) Driver {
	return &sftpFS{
		username:  username,
		hostname:  hostname,
		keyfile:   keyfile,
		remotekey: remotekey,
		port:      port,
	}
}

func (fs *sftpFS) dial() (err error) {
	var data []byte
	log.Debugf("sftp read key %s", fs.keyfile)
	data, err = os.ReadFile(fs.keyfile)
	if err != nil {
		return
	}
	var ourKey ssh.Signer
	ourKey, err = ssh.ParsePrivateKey(data)
	if err != nil {
		return
	}
	var k []byte
	k, err = base64.StdEncoding.DecodeString(fs.remotekey)
	if err != nil {
		return
	}
	var theirKey ssh.PublicKey
	theirKey, err = ssh.ParsePublicKey(k)
	if err != nil {
		return
	}
	addr := net.JoinHostPort(fs.hostname, fmt.Sprintf("%d", fs.port))
	log.Debugf("sftp dial to %s", addr)
	fs.sshClient, err = ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User: fs.username,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(ourKey),
		},
		HostKeyCallback: ssh.FixedHostKey(theirKey),
	})
	if err == nil {
		fs.sftpClient, err = sftp.NewClient(fs.sshClient)
		if err != nil {
			fs.sshClient.Close()
			fs.sshClient = nil
		}
	}
	return
}

func (fs *sftpFS) Open() error {
	fs.access.Lock()
	defer fs.access.Unlock()
	if fs.sftpClient != nil {
		return nil
	}
	return fs.dial()
}

func (fs *sftpFS) closeLocked() (err error) {
	if fs.sftpClient != nil {
		err = fs.sftpClient.Close()
		fs.sftpClient = nil
	}
	if fs.sshClient != nil {
		e := fs.sshClient.Close()
		if err == nil {
			err = e
		}
		fs.sshClient = nil
	}
	return
}

func (fs *sftpFS) Close() error {
	fs.access.Lock()
	defer fs.access.Unlock()
	return fs.closeLocked()
}

// ensureConn runs visit with a live client, redialing once if needed. a
// failed visit drops the connection so the next call starts fresh.
func (fs *sftpFS) ensureConn(visit func(*sftp.Client) error) (err error) {
	fs.access.Lock()
	defer fs.access.Unlock()
	if fs.sftpClient == nil {
		err = fs.dial()
		if err != nil {
			return
		}
	}
	err = visit(fs.sftpClient)
	if err != nil && !isStatusError(err) {
		fs.closeLocked()
	}
	return
}

func isStatusError(err error) bool {
	if os.IsNotExist(err) {
		return true
	}
	_, ok := err.(*sftp.StatusError)
	return ok
}

func mkdirParents(c *sftp.Client, dir string) (err error) {
	var parents string
	if path.IsAbs(dir) {
		parents = "/"
	}
	for _, name := range strings.Split(dir, "/") {
		if name == "" {
			continue
		}
		parents = path.Join(parents, name)
		if _, e := c.Stat(parents); e == nil {
			continue
		}
		err = c.Mkdir(parents)
		if status, ok := err.(*sftp.StatusError); ok && status.Code == sshFxFailure {
			var fi os.FileInfo
			fi, err = c.Stat(parents)
			if err == nil && !fi.IsDir() {
				err = fmt.Errorf("file exists: %s", parents)
			}
		}
		if err != nil {
			break
		}
	}
	return
}

func (fs *sftpFS) EnsureDir(fname string) error {
	return fs.ensureConn(func(c *sftp.Client) error {
		return mkdirParents(c, fname)
	})
}

func (fs *sftpFS) FileExists(fname string) bool {
	return fs.ensureConn(func(c *sftp.Client) error {
		_, e := c.Stat(fname)
		return e
	}) == nil
}

func (fs *sftpFS) ReadFile(fname string) (data []byte, err error) {
	err = fs.ensureConn(func(c *sftp.Client) error {
		f, e := c.Open(fname)
		if e != nil {
			return e
		}
		defer f.Close()
		data, e = io.ReadAll(f)
		return e
	})
	return
}

func (fs *sftpFS) WriteFile(fname string, data []byte) error {
	return fs.ensureConn(func(c *sftp.Client) error {
		d, _ := sftp.Split(fname)
		if d != "" {
			if e := mkdirParents(c, d); e != nil {
				return e
			}
		}
		tmp := fname + ".tmp"
		f, e := c.Create(tmp)
		if e != nil {
			return e
		}
		_, e = f.Write(data)
		if ce := f.Close(); e == nil {
			e = ce
		}
		if e == nil {
			c.Remove(fname)
			e = c.Rename(tmp, fname)
		}
		return e
	})
}

func (fs *sftpFS) Glob(glob string) (matches []string, err error) {
	err = fs.ensureConn(func(c *sftp.Client) error {
		var e error
		matches, e = c.Glob(glob)
		return e
	})
	return
}

func (fs *sftpFS) Join(paths ...string) string {
	return path.Join(paths...)
}

func (fs *sftpFS) Move(oldpath, newpath string) error {
	return fs.ensureConn(func(c *sftp.Client) error {
		dir, _ := sftp.Split(newpath)
		if e := mkdirParents(c, dir); e != nil {
			return e
		}
		return c.Rename(oldpath, newpath)
	})
}

func (fs *sftpFS) Remove(fpath string) error {
	return fs.ensureConn(func(c *sftp.Client) error {
		return c.Remove(fpath)
	})
}

func (fs *sftpFS) Stat(fpath string) (fi os.FileInfo, err error) {
	err = fs.ensureConn(func(c *sftp.Client) error {
		var e error
		fi, e = c.Stat(fpath)
		return e
	})
	return
}
