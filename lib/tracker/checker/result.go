package checker

import (
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/repo"
	"github.com/majestrate/swarmwatch/lib/tracker"
)

// Result is one committed check of one torrent
type Result struct {
	TorrentID int64
	Infohash  common.Infohash
	Seeders   int64
	Leechers  int64
	LastCheck int64
	NextCheck int64
	Status    repo.Status
	Retries   int
}

// pending tracks the sessions still out for one infohash
type pending struct {
	id        int64
	remaining int
	seeders   int64
	leechers  int64
}

// offer keeps the best pair seen so far, more seeders wins then more
// leechers
func (p *pending) offer(st tracker.ScrapeStats) {
	if st.Seeders > p.seeders || (st.Seeders == p.seeders && st.Leechers > p.leechers) {
		p.seeders = st.Seeders
		p.leechers = st.Leechers
	}
}

// transition computes status and retry count from a committed pair
func transition(seeders, leechers int64, retries, maxRetries int) (repo.Status, int) {
	if seeders > 0 || leechers > 0 {
		return repo.StatusGood, 0
	}
	retries++
	if retries >= maxRetries {
		return repo.StatusDead, maxRetries
	}
	return repo.StatusUnknown, retries
}

// nextCheck is last + base * 2^min(retries, max)
func nextCheck(last time.Time, base time.Duration, retries, maxRetries int) time.Time {
	if retries > maxRetries {
		retries = maxRetries
	}
	return last.Add(base << uint(retries))
}
