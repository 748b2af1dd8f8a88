package config

import (
	"time"

	"github.com/majestrate/swarmwatch/lib/configparser"
	"github.com/majestrate/swarmwatch/lib/search"
)

type SearchConfig struct {
	HitsTTL        time.Duration
	MaxRemotePeers int
	// url prefix used in generated feeds, empty means relative links
	BaseURL         string
	MetafeedTimeout time.Duration
}

func (cfg *SearchConfig) Load(s *configparser.Section) error {
	cfg.HitsTTL = s.GetDuration("hits_ttl", search.DefaultHitsTTL)
	cfg.MaxRemotePeers = s.GetInt("max_remote_peers", search.DefaultMaxRemotePeers)
	cfg.BaseURL = s.Get("base_url", "")
	cfg.MetafeedTimeout = s.GetDuration("metafeed_timeout", search.DefaultMetafeedTimeout)
	return nil
}

func (cfg *SearchConfig) Save(s *configparser.Section) error {
	s.Add("hits_ttl", durationString(cfg.HitsTTL))
	s.Add("max_remote_peers", itoa(cfg.MaxRemotePeers))
	if cfg.BaseURL != "" {
		s.Add("base_url", cfg.BaseURL)
	}
	s.Add("metafeed_timeout", durationString(cfg.MetafeedTimeout))
	return nil
}

func (cfg *SearchConfig) LoadEnv() {
}

func (cfg *SearchConfig) ToManagerConfig() search.Config {
	return search.Config{
		HitsTTL:         cfg.HitsTTL,
		MaxRemotePeers:  cfg.MaxRemotePeers,
		BaseURL:         cfg.BaseURL,
		MetafeedTimeout: cfg.MetafeedTimeout,
	}
}
