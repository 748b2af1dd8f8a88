// Package search runs local and overlay keyword searches and serves their
// hits over a path mapped interface
package search

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/feed"
	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/repo"
	"github.com/majestrate/swarmwatch/lib/ttq"
	"github.com/majestrate/swarmwatch/lib/version"
)

var logger = log.For("search")

const DefaultMaxRemotePeers = 10
const DefaultLocalLimit = 50
const DefaultMetafeedTimeout = 15 * time.Second

const (
	CollectionLocal    = "local"
	CollectionOverlay  = "overlay"
	CollectionMetafeed = "metafeed"
)

var ErrBadCollection = errors.New("unknown collection")
var ErrUpstreamTimeout = errors.New("metafeed timed out")
var ErrUpstreamFailed = errors.New("metafeed failed")

// RemoteSearcher sends a keyword query to overlay peers. Replies are handed
// to onHits as they arrive. Returns how many peers were asked.
type RemoteSearcher interface {
	SearchRemote(keywords []string, maxPeers int, onHits func(hits []Hit)) int
}

// Repository is what search needs from the content repository
type Repository interface {
	TorrentReader
	SearchTorrents(keywords []string, limit int) ([]repo.TorrentRecord, error)
	HasTorrentFile(ih common.Infohash) bool
	SaveTorrentBlob(ih common.Infohash, raw []byte) error
}

type Config struct {
	HitsTTL        time.Duration
	MaxRemotePeers int
	// url prefix of links in feeds we generate
	BaseURL         string
	MetafeedTimeout time.Duration
}

// Manager orchestrates searches into the hits cache
type Manager struct {
	cfg    Config
	cache  *HitsCache
	mapper *PathMapper
	repo   Repository
	remote RemoteSearcher
	tq     *ttq.Queue
	client *http.Client
	now    func() time.Time
}

// NewManager creates a search manager. remote may be nil, persistence tasks
// run on tq.
func NewManager(cfg Config, r Repository, remote RemoteSearcher, tq *ttq.Queue) *Manager {
	if cfg.HitsTTL <= 0 {
		cfg.HitsTTL = DefaultHitsTTL
	}
	if cfg.MaxRemotePeers <= 0 {
		cfg.MaxRemotePeers = DefaultMaxRemotePeers
	}
	if cfg.MetafeedTimeout <= 0 {
		cfg.MetafeedTimeout = DefaultMetafeedTimeout
	}
	cache := NewHitsCache()
	return &Manager{
		cfg:    cfg,
		cache:  cache,
		mapper: NewPathMapper(cache, r, cfg.HitsTTL, cfg.BaseURL),
		repo:   r,
		remote: remote,
		tq:     tq,
		client: &http.Client{Timeout: cfg.MetafeedTimeout},
		now:    time.Now,
	}
}

func (m *Manager) Cache() *HitsCache {
	return m.cache
}

func (m *Manager) Mapper() *PathMapper {
	return m.mapper
}

// SetRemote attaches the overlay searcher once it is up
func (m *Manager) SetRemote(remote RemoteSearcher) {
	m.remote = remote
}

// Keywords splits a query into lowercase search terms
func Keywords(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Search starts a query and returns its id. Local hits are in the cache when
// it returns, remote hits trickle in.
func (m *Manager) Search(query, collection string) (id string, err error) {
	switch collection {
	case "", CollectionOverlay, CollectionLocal:
	default:
		return "", ErrBadCollection
	}
	id = uuid.New().String()
	m.cache.AddQuery(id, query, m.now())
	kw := Keywords(query)
	local, err := m.repo.SearchTorrents(kw, DefaultLocalLimit)
	if err != nil {
		logger.Errorf("local search for %q: %s", query, err.Error())
		err = nil
	}
	hits := make([]Hit, 0, len(local))
	for _, t := range local {
		hits = append(hits, Hit{
			Source:   SourceLocal,
			Infohash: t.Infohash,
			Title:    t.Name,
			Summary:  t.Comment,
			Length:   t.Length,
			NumFiles: t.NumFiles,
			Seeders:  t.Seeders,
			Leechers: t.Leechers,
			MetaType: MetaTorrent,
		})
	}
	m.cache.AddHits(id, hits)
	if collection != CollectionLocal && m.remote != nil && len(kw) > 0 {
		n := m.remote.SearchRemote(kw, m.cfg.MaxRemotePeers, func(hits []Hit) {
			m.gotRemoteHits(id, hits)
		})
		logger.Debugf("query %s sent to %d peers", id, n)
	}
	return
}

// gotRemoteHits merges a remote reply and schedules saving its payloads
func (m *Manager) gotRemoteHits(id string, hits []Hit) {
	for idx := range hits {
		hits[idx].Source = SourceRemote
	}
	if !m.cache.AddHits(id, hits) {
		logger.Debugf("late hits for expired query %s", id)
		return
	}
	if m.tq != nil {
		m.tq.AddTask(func() { m.saveRemoteHits(id) }, 0, "save-remote-hits:"+id)
	}
}

// saveRemoteHits writes remote payloads of a query into the torrent store
func (m *Manager) saveRemoteHits(id string) {
	_, hits, ok := m.cache.GetHits(id)
	if !ok {
		return
	}
	for ih, h := range hits {
		if h.Source != SourceRemote || !h.hasPayload() || m.repo.HasTorrentFile(ih) {
			continue
		}
		if err := m.repo.SaveTorrentBlob(ih, h.Torrent); err != nil {
			logger.Warnf("failed to save remote hit %s: %s", ih.Hex(), err.Error())
		}
	}
}

// Handle serves /search: it runs the query and returns the atom feed of its
// hits so far
func (m *Manager) Handle(ctx context.Context, query, collection, metafeed string) StreamInfo {
	var id string
	var err error
	if collection == CollectionMetafeed {
		id, err = m.SearchMetafeed(ctx, metafeed, query)
	} else {
		id, err = m.Search(query, collection)
	}
	switch err {
	case nil:
	case ErrUpstreamTimeout:
		return errorStream(504, "Gateway Timeout")
	case ErrBadCollection:
		return notFound()
	default:
		return errorStream(500, "Internal Server Error")
	}
	return m.mapper.Get("/hits/" + id)
}

var infohashInLink = regexp.MustCompile(`(?i)(?:btih:|/)([0-9a-f]{40})(?:[./?&]|$)`)

// metafeedURL fills the query into an opensearch template or appends q
func metafeedURL(base, query string) string {
	if strings.Contains(base, "{searchTerms}") {
		return strings.ReplaceAll(base, "{searchTerms}", url.QueryEscape(query))
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "q=" + url.QueryEscape(query)
}

// SearchMetafeed runs a query against an external atom search feed. Entries
// are keyed by the infohash found in their links, entries without one are
// dropped.
func (m *Manager) SearchMetafeed(ctx context.Context, feedURL, query string) (id string, err error) {
	if feedURL == "" {
		return "", ErrUpstreamFailed
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.MetafeedTimeout)
	defer cancel()
	var req *http.Request
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, metafeedURL(feedURL, query), nil)
	if err != nil {
		return "", ErrUpstreamFailed
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := m.client.Do(req)
	if err != nil {
		if isTimeout(err) || ctx.Err() == context.DeadlineExceeded {
			return "", ErrUpstreamTimeout
		}
		return "", ErrUpstreamFailed
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrUpstreamTimeout
		}
		return "", ErrUpstreamFailed
	}
	if resp.StatusCode != http.StatusOK {
		return "", ErrUpstreamFailed
	}
	f, err := feed.Parse(bytes.NewReader(body))
	if err != nil {
		logger.Warnf("bad metafeed %s: %s", feedURL, err.Error())
		return "", ErrUpstreamFailed
	}
	var hits []Hit
	for _, item := range f.Items {
		for _, link := range item.Links {
			match := infohashInLink.FindStringSubmatch(link)
			if match == nil {
				continue
			}
			ih, e := common.DecodeInfohash(strings.ToLower(match[1]))
			if e != nil {
				continue
			}
			hits = append(hits, Hit{
				Source:   SourceRemote,
				Infohash: ih,
				Title:    item.Title,
				Summary:  item.Description,
				MetaType: MetaURL,
				URL:      link,
			})
			break
		}
	}
	id = uuid.New().String()
	m.cache.AddQuery(id, query, m.now())
	m.cache.AddHits(id, hits)
	err = nil
	return
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
