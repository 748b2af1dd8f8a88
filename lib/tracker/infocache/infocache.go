// Package infocache keeps per tracker liveness counters and decides which
// trackers are worth contacting
package infocache

import (
	"bytes"
	"os"
	"sort"
	"time"

	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/sync"
	"github.com/majestrate/swarmwatch/lib/tracker"
	"github.com/majestrate/swarmwatch/lib/util"
	"github.com/zeebo/bencode"
)

const DefaultMaxFailures = 5
const DefaultDeadRetry = time.Hour

// Record is what we know about one tracker
type Record struct {
	Alive       bool  `bencode:"alive"`
	Failures    int   `bencode:"failures"`
	LastCheck   int64 `bencode:"last_check"`
	LastSuccess int64 `bencode:"last_success"`
}

// Cache is the tracker info cache. The checker is its only writer.
type Cache struct {
	access      sync.Mutex
	fpath       string
	maxFailures int
	deadRetry   time.Duration
	records     map[string]*Record
	order       []string
	next        int
	now         func() time.Time
}

// New creates an empty cache persisted at fpath, fpath may be empty
func New(fpath string, maxFailures int, deadRetry time.Duration) *Cache {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if deadRetry <= 0 {
		deadRetry = DefaultDeadRetry
	}
	return &Cache{
		fpath:       fpath,
		maxFailures: maxFailures,
		deadRetry:   deadRetry,
		records:     make(map[string]*Record),
		now:         time.Now,
	}
}

func (c *Cache) addLocked(url string) *Record {
	r, ok := c.records[url]
	if !ok {
		r = &Record{Alive: true}
		c.records[url] = r
		c.order = append(c.order, url)
	}
	return r
}

// Add registers a tracker url we learned about. Markers are ignored.
func (c *Cache) Add(url string) {
	if tracker.IsMarker(url) {
		return
	}
	c.access.Lock()
	c.addLocked(url)
	c.access.Unlock()
}

// Known returns true if we have a record for url
func (c *Cache) Known(url string) (has bool) {
	c.access.Lock()
	_, has = c.records[url]
	c.access.Unlock()
	return
}

// Get returns a copy of the record for url
func (c *Cache) Get(url string) (r Record, has bool) {
	c.access.Lock()
	rec, has := c.records[url]
	if has {
		r = *rec
	}
	c.access.Unlock()
	return
}

// ToCheck returns true if url should be contacted this round
func (c *Cache) ToCheck(url string) bool {
	if tracker.IsMarker(url) {
		return false
	}
	c.access.Lock()
	defer c.access.Unlock()
	r, ok := c.records[url]
	if !ok || r.Alive {
		return true
	}
	last := time.Unix(r.LastCheck, 0)
	return c.now().Sub(last) >= c.deadRetry
}

// MarkSuccess records a finished scrape
func (c *Cache) MarkSuccess(url string) {
	if tracker.IsMarker(url) {
		return
	}
	now := c.now().Unix()
	c.access.Lock()
	r := c.addLocked(url)
	r.Alive = true
	r.Failures = 0
	r.LastCheck = now
	r.LastSuccess = now
	c.access.Unlock()
}

// MarkFailure records a failed scrape, flipping the tracker dead past the
// failure threshold
func (c *Cache) MarkFailure(url string) {
	if tracker.IsMarker(url) {
		return
	}
	c.access.Lock()
	r := c.addLocked(url)
	r.Failures++
	r.LastCheck = c.now().Unix()
	if r.Failures >= c.maxFailures {
		if r.Alive {
			log.Infof("tracker %s marked dead after %d failures", url, r.Failures)
		}
		r.Alive = false
	}
	c.access.Unlock()
}

// NextTracker returns the next checkable tracker in round robin order. The
// cursor advances on every call.
func (c *Cache) NextTracker() (url string, ok bool) {
	c.access.Lock()
	n := len(c.order)
	c.access.Unlock()
	for i := 0; i < n; i++ {
		c.access.Lock()
		if len(c.order) == 0 {
			c.access.Unlock()
			return
		}
		c.next %= len(c.order)
		url = c.order[c.next]
		c.next++
		c.access.Unlock()
		if c.ToCheck(url) {
			ok = true
			return
		}
	}
	url = ""
	return
}

// Len returns the number of known trackers
func (c *Cache) Len() (n int) {
	c.access.Lock()
	n = len(c.records)
	c.access.Unlock()
	return
}

// Load reads the persisted cache. An unreadable file is logged and the cache
// starts empty.
func (c *Cache) Load() {
	if c.fpath == "" || !util.CheckFile(c.fpath) {
		return
	}
	data, err := os.ReadFile(c.fpath)
	if err != nil {
		log.Errorf("failed to read tracker cache %s: %s", c.fpath, err.Error())
		return
	}
	records := make(map[string]*Record)
	err = bencode.DecodeBytes(data, &records)
	if err != nil {
		log.Errorf("bad tracker cache %s: %s", c.fpath, err.Error())
		return
	}
	order := make([]string, 0, len(records))
	for url, r := range records {
		if r == nil || tracker.IsMarker(url) {
			delete(records, url)
			continue
		}
		order = append(order, url)
	}
	sort.Strings(order)
	c.access.Lock()
	c.records = records
	c.order = order
	c.next = 0
	c.access.Unlock()
	log.Debugf("loaded %d trackers from %s", len(order), c.fpath)
}

// Save writes the cache to disk
func (c *Cache) Save() (err error) {
	if c.fpath == "" {
		return
	}
	var buf bytes.Buffer
	c.access.Lock()
	err = bencode.NewEncoder(&buf).Encode(c.records)
	c.access.Unlock()
	if err == nil {
		err = util.WriteFileAtomic(c.fpath, buf.Bytes())
	}
	return
}
