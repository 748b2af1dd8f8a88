package checker

import (
	"time"

	"github.com/majestrate/swarmwatch/lib/tracker"
)

const DefaultQueueSize = 500
const DefaultSelectInterval = 30 * time.Second
const DefaultCheckInterval = 15 * time.Minute
const DefaultRetryBase = 30 * time.Minute
const DefaultMaxRetries = 5

// Config holds the knobs of the checking engine. Zero values get defaults.
type Config struct {
	// capacity of the external request queue
	QueueSize int
	// how often a tracker is picked for a periodic sweep
	SelectInterval time.Duration
	// minimum age of last_check before a torrent is swept again
	CheckInterval time.Duration
	// base of the next_check backoff
	RetryBase time.Duration
	// retries before a torrent is dead
	MaxRetries       int
	HTTPTimeout      time.Duration
	UDPRetryInterval time.Duration
	UDPMaxRetries    int
	// called on the engine goroutine after every commit
	OnResult func(Result)
}

func (c *Config) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.SelectInterval <= 0 {
		c.SelectInterval = DefaultSelectInterval
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = tracker.DefaultHTTPTimeout
	}
	if c.UDPRetryInterval <= 0 {
		c.UDPRetryInterval = tracker.DefaultUDPRetryInterval
	}
	if c.UDPMaxRetries <= 0 {
		c.UDPMaxRetries = tracker.DefaultUDPMaxRetries
	}
}
