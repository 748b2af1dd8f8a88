package config

import (
	"strconv"
	"time"

	"github.com/majestrate/swarmwatch/lib/configparser"
	"github.com/majestrate/swarmwatch/lib/tracker"
	"github.com/majestrate/swarmwatch/lib/tracker/checker"
	"github.com/majestrate/swarmwatch/lib/tracker/infocache"
)

type TrackerConfig struct {
	Enabled          bool
	QueueSize        int
	SelectInterval   time.Duration
	CheckInterval    time.Duration
	RetryBase        time.Duration
	MaxRetries       int
	HTTPTimeout      time.Duration
	UDPRetryInterval time.Duration
	UDPMaxRetries    int
	// failures before a tracker is considered dead
	MaxFailures int
	DeadRetry   time.Duration
}

func (cfg *TrackerConfig) Load(s *configparser.Section) error {
	cfg.Enabled = s.GetBool("enabled", true)
	cfg.QueueSize = s.GetInt("queue_size", checker.DefaultQueueSize)
	cfg.SelectInterval = s.GetDuration("select_interval", checker.DefaultSelectInterval)
	cfg.CheckInterval = s.GetDuration("check_interval", checker.DefaultCheckInterval)
	cfg.RetryBase = s.GetDuration("retry_base", checker.DefaultRetryBase)
	cfg.MaxRetries = s.GetInt("max_retries", checker.DefaultMaxRetries)
	cfg.HTTPTimeout = s.GetDuration("http_timeout", tracker.DefaultHTTPTimeout)
	cfg.UDPRetryInterval = s.GetDuration("udp_retry_interval", tracker.DefaultUDPRetryInterval)
	cfg.UDPMaxRetries = s.GetInt("udp_max_retries", tracker.DefaultUDPMaxRetries)
	cfg.MaxFailures = s.GetInt("max_failures", infocache.DefaultMaxFailures)
	cfg.DeadRetry = s.GetDuration("dead_retry", infocache.DefaultDeadRetry)
	return nil
}

func (cfg *TrackerConfig) Save(s *configparser.Section) error {
	s.Add("enabled", boolString(cfg.Enabled))
	s.Add("queue_size", itoa(cfg.QueueSize))
	s.Add("select_interval", durationString(cfg.SelectInterval))
	s.Add("check_interval", durationString(cfg.CheckInterval))
	s.Add("retry_base", durationString(cfg.RetryBase))
	s.Add("max_retries", itoa(cfg.MaxRetries))
	s.Add("http_timeout", durationString(cfg.HTTPTimeout))
	s.Add("udp_retry_interval", durationString(cfg.UDPRetryInterval))
	s.Add("udp_max_retries", itoa(cfg.UDPMaxRetries))
	s.Add("max_failures", itoa(cfg.MaxFailures))
	s.Add("dead_retry", durationString(cfg.DeadRetry))
	return nil
}

func (cfg *TrackerConfig) LoadEnv() {
}

// ToEngineConfig gives the checking engine settings, callback unset
func (cfg *TrackerConfig) ToEngineConfig() checker.Config {
	return checker.Config{
		QueueSize:        cfg.QueueSize,
		SelectInterval:   cfg.SelectInterval,
		CheckInterval:    cfg.CheckInterval,
		RetryBase:        cfg.RetryBase,
		MaxRetries:       cfg.MaxRetries,
		HTTPTimeout:      cfg.HTTPTimeout,
		UDPRetryInterval: cfg.UDPRetryInterval,
		UDPMaxRetries:    cfg.UDPMaxRetries,
	}
}

// InfoCache creates the tracker info cache persisted at fpath
func (cfg *TrackerConfig) InfoCache(fpath string) *infocache.Cache {
	return infocache.New(fpath, cfg.MaxFailures, cfg.DeadRetry)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
