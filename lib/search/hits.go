package search

import (
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/metainfo"
	"github.com/majestrate/swarmwatch/lib/sync"
)

const DefaultHitsTTL = 5 * time.Minute

type Source int

const (
	SourceLocal Source = iota
	SourceRemote
)

func (s Source) String() string {
	if s == SourceLocal {
		return "local"
	}
	return "remote"
}

// MetaType says what a hit's metadata points at
type MetaType int

const (
	// the hit carries or can load the .torrent
	MetaTorrent MetaType = iota
	// the hit is only a link
	MetaURL
)

// Hit is one search result
type Hit struct {
	Source   Source
	Infohash common.Infohash
	Title    string
	Summary  string
	Length   int64
	NumFiles int64
	Seeders  int64
	Leechers int64
	MetaType MetaType
	// raw bencoded torrent carried by a remote hit
	Torrent []byte
	// where a MetaURL hit points
	URL string
}

// hasPayload is true if the hit carries a torrent we can serve
func (h *Hit) hasPayload() bool {
	return h.MetaType == MetaTorrent && len(h.Torrent) > 0
}

// verify strips a remote payload that does not hash to the infohash
func (h *Hit) verify() {
	if h.Source != SourceRemote || len(h.Torrent) == 0 {
		return
	}
	tf, err := metainfo.Parse(h.Torrent)
	if err != nil || tf.Infohash() != h.Infohash {
		logger.Debugf("dropping bad payload for %s", h.Infohash.Hex())
		h.Torrent = nil
		h.MetaType = MetaURL
	}
}

// QueryRecord is one search and the hits it collected
type QueryRecord struct {
	ID        string
	Query     string
	Timestamp time.Time
	Hits      map[common.Infohash]*Hit
}

// HitsCache holds short lived search results. One mutex guards all of it.
type HitsCache struct {
	access  sync.Mutex
	records map[string]*QueryRecord
}

func NewHitsCache() *HitsCache {
	return &HitsCache{
		records: make(map[string]*QueryRecord),
	}
}

func (c *HitsCache) AddQuery(id, query string, ts time.Time) {
	c.access.Lock()
	c.records[id] = &QueryRecord{
		ID:        id,
		Query:     query,
		Timestamp: ts,
		Hits:      make(map[common.Infohash]*Hit),
	}
	c.access.Unlock()
}

// AddHits merges hits into a query. A hit replaces an existing one for the
// same infohash only if it carries a payload. Returns false for an unknown
// query id.
func (c *HitsCache) AddHits(id string, hits []Hit) bool {
	c.access.Lock()
	defer c.access.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return false
	}
	for idx := range hits {
		h := hits[idx]
		h.verify()
		if _, has := rec.Hits[h.Infohash]; has && !h.hasPayload() {
			continue
		}
		rec.Hits[h.Infohash] = &h
	}
	return true
}

// GetHits returns a shallow copy of a query's hits
func (c *HitsCache) GetHits(id string) (query string, hits map[common.Infohash]Hit, ok bool) {
	c.access.Lock()
	defer c.access.Unlock()
	var rec *QueryRecord
	rec, ok = c.records[id]
	if !ok {
		return
	}
	query = rec.Query
	hits = make(map[common.Infohash]Hit, len(rec.Hits))
	for ih, h := range rec.Hits {
		hits[ih] = *h
	}
	return
}

// GarbageCollect drops queries stamped at or before cutoff
func (c *HitsCache) GarbageCollect(cutoff time.Time) (n int) {
	c.access.Lock()
	for id, rec := range c.records {
		if !rec.Timestamp.After(cutoff) {
			delete(c.records, id)
			n++
		}
	}
	c.access.Unlock()
	return
}

// Len returns the number of live queries
func (c *HitsCache) Len() (n int) {
	c.access.Lock()
	n = len(c.records)
	c.access.Unlock()
	return
}
