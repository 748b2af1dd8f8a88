package config

import (
	"os"
	"strings"
	"time"

	"github.com/majestrate/swarmwatch/lib/configparser"
	"github.com/majestrate/swarmwatch/lib/feed"
)

const EnvFeedsDir = "SWARMWATCH_FEEDS"

const DefaultFeedKey = "default"

const DefaultHistoryTTL = 30 * 24 * time.Hour

type FeedsConfig struct {
	Enabled        bool
	Dir            string
	ReloadInterval time.Duration
	CheckInterval  time.Duration
	FetchTimeout   time.Duration
	HistoryTTL     time.Duration
	// subscription keys torrents are ingested for
	Keys []string
	// start a download for every torrent a feed brings in
	AutoDownload bool
}

func (cfg *FeedsConfig) Load(s *configparser.Section) error {
	cfg.Enabled = s.GetBool("enabled", true)
	cfg.Dir = s.Get("dir", "feeds")
	cfg.ReloadInterval = s.GetDuration("reload_interval", feed.DefaultReloadInterval)
	cfg.CheckInterval = s.GetDuration("check_interval", feed.DefaultCheckInterval)
	cfg.FetchTimeout = s.GetDuration("fetch_timeout", feed.DefaultFetchTimeout)
	cfg.HistoryTTL = s.GetDuration("history_ttl", DefaultHistoryTTL)
	cfg.AutoDownload = s.GetBool("auto_download", false)
	cfg.Keys = nil
	for _, k := range strings.Split(s.Get("keys", DefaultFeedKey), ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			cfg.Keys = append(cfg.Keys, k)
		}
	}
	return nil
}

func (cfg *FeedsConfig) Save(s *configparser.Section) error {
	s.Add("enabled", boolString(cfg.Enabled))
	s.Add("dir", cfg.Dir)
	s.Add("reload_interval", durationString(cfg.ReloadInterval))
	s.Add("check_interval", durationString(cfg.CheckInterval))
	s.Add("fetch_timeout", durationString(cfg.FetchTimeout))
	s.Add("history_ttl", durationString(cfg.HistoryTTL))
	s.Add("auto_download", boolString(cfg.AutoDownload))
	s.Add("keys", strings.Join(cfg.Keys, ","))
	return nil
}

func (cfg *FeedsConfig) LoadEnv() {
	dir := os.Getenv(EnvFeedsDir)
	if dir != "" {
		cfg.Dir = dir
	}
}

func (cfg *FeedsConfig) ToWorkerConfig() feed.Config {
	return feed.Config{
		Dir:            cfg.Dir,
		ReloadInterval: cfg.ReloadInterval,
		CheckInterval:  cfg.CheckInterval,
		FetchTimeout:   cfg.FetchTimeout,
		HistoryTTL:     cfg.HistoryTTL,
	}
}
