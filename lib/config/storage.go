package config

import (
	"os"
	"path/filepath"

	"github.com/majestrate/swarmwatch/lib/configparser"
	"github.com/majestrate/swarmwatch/lib/fs"
)

// EnvRootDir is the name of the environmental variable to set the root storage directory at runtime
const EnvRootDir = "SWARMWATCH_HOME"

type SFTPConfig struct {
	Enabled      bool
	Username     string
	Hostname     string
	Keyfile      string
	RemotePubkey string
	Port         int
}

func (cfg *SFTPConfig) Load(s *configparser.Section) error {
	cfg.Enabled = s.GetBool("sftp", false)
	cfg.Username = s.Get("sftp_user", "")
	cfg.Hostname = s.Get("sftp_host", "")
	cfg.Keyfile = s.Get("sftp_keyfile", "")
	cfg.RemotePubkey = s.Get("sftp_remotekey", "")
	cfg.Port = s.GetInt("sftp_port", 22)
	return nil
}

func (cfg *SFTPConfig) Save(s *configparser.Section) error {
	s.Add("sftp", boolString(cfg.Enabled))
	if cfg.Enabled {
		s.Add("sftp_user", cfg.Username)
		s.Add("sftp_host", cfg.Hostname)
		s.Add("sftp_keyfile", cfg.Keyfile)
		s.Add("sftp_remotekey", cfg.RemotePubkey)
		s.Add("sftp_port", itoa(cfg.Port))
	}
	return nil
}

func (cfg *SFTPConfig) ToFS() fs.Driver {
	return fs.SFTP(cfg.Username, cfg.Hostname, cfg.Keyfile, cfg.RemotePubkey, cfg.Port)
}

type StorageConfig struct {
	// root directory
	Root string
	// sqlite database
	Database string
	// where .torrent blobs are kept, on the sftp host if enabled
	Torrents string
	// tracker info cache file
	TrackerCache string
	// saved download registry
	Downloads string
	// torrent store on a remote host
	SFTP SFTPConfig
}

func (cfg *StorageConfig) Load(s *configparser.Section) error {
	cfg.Root = s.Get("rootdir", "storage")
	cfg.setSubpaths(s)
	return cfg.SFTP.Load(s)
}

func (cfg *StorageConfig) setSubpaths(s *configparser.Section) {
	cfg.Database = s.Get("database", filepath.Join(cfg.Root, "swarmwatch.db"))
	cfg.Torrents = s.Get("torrents", filepath.Join(cfg.Root, "torrents"))
	cfg.TrackerCache = s.Get("tracker_cache", filepath.Join(cfg.Root, "trackers.dat"))
	cfg.Downloads = s.Get("downloads", filepath.Join(cfg.Root, "downloads.dat"))
}

func (cfg *StorageConfig) Save(s *configparser.Section) error {
	s.Add("rootdir", cfg.Root)
	s.Add("database", cfg.Database)
	s.Add("torrents", cfg.Torrents)
	s.Add("tracker_cache", cfg.TrackerCache)
	s.Add("downloads", cfg.Downloads)
	return cfg.SFTP.Save(s)
}

func (cfg *StorageConfig) LoadEnv() {
	dir := os.Getenv(EnvRootDir)
	if dir != "" {
		cfg.Root = dir
		cfg.setSubpaths(nil)
	}
}

// TorrentStore returns the driver .torrent blobs are written with
func (cfg *StorageConfig) TorrentStore() fs.Driver {
	if cfg.SFTP.Enabled {
		return cfg.SFTP.ToFS()
	}
	return fs.STD
}
