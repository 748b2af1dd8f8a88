// Package popularity gossips torrent and channel health between peers.
// Each node keeps a few publishers it listens to and a few subscribers it
// pushes samples of its own checked torrents to.
package popularity

import (
	"math/rand"
	"sort"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/repo"
	"github.com/majestrate/swarmwatch/lib/sync"
)

var logger = log.For("popularity")

const (
	MaxPublishers        = 5
	MaxSubscribers       = 10
	PublishInterval      = 5 * time.Second
	RefreshInterval      = 30 * time.Second
	MaxPacketPayloadSize = 1200
	RequestTimeout       = 10 * time.Second
	// a local record younger than this is only replaced by trusted peers
	FreshnessBound = 10 * time.Minute
	LowTrust       = 1.0
	// how far in the future a gossiped timestamp may be
	MaxClockSkew = time.Minute
	// torrents of each kind sampled per publish
	SampleSize = 5
	// how far back a torrent counts as recently checked
	RecentWindow = time.Hour
	// results returned for one content search
	ContentSearchLimit = 50
)

// Overlay is what the community needs from the overlay endpoint
type Overlay interface {
	Peers() []string
	Send(peer string, data []byte) error
	Post(fn func()) bool
	Every(d time.Duration, fn func())
	Trust(peer string) float64
	MarkValid(peer string)
}

// Repository is the part of the content repository gossip reads and writes
type Repository interface {
	GetTorrent(ih common.Infohash) (*repo.TorrentRecord, error)
	UpdateTorrentHealth(ih common.Infohash, seeders, leechers, ts int64) (bool, error)
	UpdateTorrentInfo(ih common.Infohash, info repo.TorrentInfo) error
	RecentlyChecked(since time.Time, limit int) ([]repo.TorrentRecord, error)
	Popular(limit int) ([]repo.TorrentRecord, error)
	SearchTorrents(keywords []string, limit int) ([]repo.TorrentRecord, error)
	ReadTorrentFile(ih common.Infohash) ([]byte, error)
	UpdateChannelHealth(c repo.ChannelRecord) (bool, error)
	Channels(limit int) ([]repo.ChannelRecord, error)
	SearchChannels(keywords []string, limit int) ([]repo.ChannelRecord, error)
}

type requestKind int

const (
	requestSubscribe requestKind = iota
	requestContent
)

// request is an outstanding request waiting for its answer
type request struct {
	kind    requestKind
	peer    string
	created time.Time
	// for content requests, called with each page of torrent hits
	onResults func(results []TorrentResult)
}

type infoKey struct {
	peer     string
	infohash common.Infohash
}

// Community is the popularity gossip state of this node
type Community struct {
	overlay Overlay
	repo    Repository

	access      sync.Mutex
	publishers  map[string]bool
	subscribers map[string]bool
	requests    map[uint32]*request
	infoWanted  map[infoKey]time.Time
	rand        *rand.Rand
	now         func() time.Time
}

// New creates a community on top of an overlay
func New(o Overlay, r Repository) *Community {
	return &Community{
		overlay:     o,
		repo:        r,
		publishers:  make(map[string]bool),
		subscribers: make(map[string]bool),
		requests:    make(map[uint32]*request),
		infoWanted:  make(map[infoKey]time.Time),
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
	}
}

// Start schedules publishing and peer refresh on the overlay worker
func (c *Community) Start() {
	c.overlay.Every(PublishInterval, c.PublishNextContent)
	c.overlay.Every(RefreshInterval, c.RefreshPeerList)
	c.overlay.Post(c.SubscribePeers)
}

func sortedKeys(m map[string]bool) (l []string) {
	for k := range m {
		l = append(l, k)
	}
	sort.Strings(l)
	return
}

// Publishers returns the peers we are subscribed to
func (c *Community) Publishers() []string {
	c.access.Lock()
	defer c.access.Unlock()
	return sortedKeys(c.publishers)
}

// Subscribers returns the peers subscribed to us
func (c *Community) Subscribers() []string {
	c.access.Lock()
	defer c.access.Unlock()
	return sortedKeys(c.subscribers)
}

func (c *Community) send(peer string, msg Message) {
	if err := c.overlay.Send(peer, msg); err != nil {
		logger.Warnf("send %s to %s failed: %s", msg.MessageID(), peer, err.Error())
	}
}

// newRequest registers an outstanding request, access must be held
func (c *Community) newRequest(r *request) (id uint32) {
	for {
		id = c.rand.Uint32()
		if _, exists := c.requests[id]; !exists {
			break
		}
	}
	r.created = c.now()
	c.requests[id] = r
	return
}

// expire drops timed out requests, access must be held
func (c *Community) expire() {
	now := c.now()
	for id, r := range c.requests {
		if now.Sub(r.created) >= RequestTimeout {
			delete(c.requests, id)
		}
	}
	for k, t := range c.infoWanted {
		if now.Sub(t) >= RequestTimeout {
			delete(c.infoWanted, k)
		}
	}
}

// lookup finds a live request of kind from peer
func (c *Community) lookup(id uint32, kind requestKind, peer string) *request {
	r, ok := c.requests[id]
	if !ok || r.kind != kind || r.peer != peer || c.now().Sub(r.created) >= RequestTimeout {
		return nil
	}
	return r
}

// pendingSubscribes counts subscribe requests still in flight
func (c *Community) pendingSubscribes() (n int) {
	for _, r := range c.requests {
		if r.kind == requestSubscribe {
			n++
		}
	}
	return
}

// byTrust returns peers ordered by trust, highest first
func (c *Community) byTrust(peers []string) []string {
	sort.SliceStable(peers, func(i, j int) bool {
		return c.overlay.Trust(peers[i]) > c.overlay.Trust(peers[j])
	})
	return peers
}

// SubscribePeers asks the most trusted connected peers to publish to us
// until we would have MaxPublishers
func (c *Community) SubscribePeers() {
	c.access.Lock()
	c.expire()
	want := MaxPublishers - len(c.publishers) - c.pendingSubscribes()
	var asked []string
	var msgs []Message
	if want > 0 {
		var candidates []string
		for _, p := range c.overlay.Peers() {
			if !c.publishers[p] {
				candidates = append(candidates, p)
			}
		}
		for _, p := range c.byTrust(candidates) {
			if len(asked) == want {
				break
			}
			id := c.newRequest(&request{kind: requestSubscribe, peer: p})
			asked = append(asked, p)
			msgs = append(msgs, SubscribeMsg{Identifier: id, Subscribe: true}.Encode())
		}
	}
	c.access.Unlock()
	for idx := range asked {
		c.send(asked[idx], msgs[idx])
	}
}

// UnsubscribePeers tells every publisher we no longer listen
func (c *Community) UnsubscribePeers() {
	c.access.Lock()
	peers := sortedKeys(c.publishers)
	c.publishers = make(map[string]bool)
	msgs := make([]Message, len(peers))
	for idx := range peers {
		msgs[idx] = SubscribeMsg{Identifier: c.rand.Uint32(), Subscribe: false}.Encode()
	}
	c.access.Unlock()
	for idx, p := range peers {
		c.send(p, msgs[idx])
	}
}

// RefreshPeerList forgets publishers and subscribers that left the overlay
// then tops up publishers
func (c *Community) RefreshPeerList() {
	connected := make(map[string]bool)
	for _, p := range c.overlay.Peers() {
		connected[p] = true
	}
	c.access.Lock()
	for p := range c.publishers {
		if !connected[p] {
			delete(c.publishers, p)
		}
	}
	for p := range c.subscribers {
		if !connected[p] {
			delete(c.subscribers, p)
		}
	}
	c.access.Unlock()
	c.SubscribePeers()
}

func healthOf(t repo.TorrentRecord) HealthRecord {
	return HealthRecord{
		Infohash:  t.Infohash,
		Seeders:   clampU32(t.Seeders),
		Leechers:  clampU32(t.Leechers),
		Timestamp: uint64(max(t.LastCheck, 0)),
	}
}

func clampU32(v int64) uint32 {
	if v < 0 {
		return 0
	}
	if v > 0xffffffff {
		return 0xffffffff
	}
	return uint32(v)
}

// PublishNextContent sends a sample of recently checked and popular
// torrents to every subscriber
func (c *Community) PublishNextContent() {
	c.access.Lock()
	c.expire()
	subs := sortedKeys(c.subscribers)
	c.access.Unlock()
	if len(subs) == 0 {
		return
	}
	recent, err := c.repo.RecentlyChecked(c.now().Add(-RecentWindow), SampleSize)
	if err != nil {
		logger.Errorf("sampling recent torrents: %s", err.Error())
		return
	}
	popular, err := c.repo.Popular(SampleSize)
	if err != nil {
		logger.Errorf("sampling popular torrents: %s", err.Error())
		return
	}
	var random, top []HealthRecord
	for _, t := range recent {
		random = append(random, healthOf(t))
	}
	for _, t := range popular {
		top = append(top, healthOf(t))
	}
	msgs := healthMessages(random, top, MaxPacketPayloadSize)
	for _, p := range subs {
		for _, m := range msgs {
			c.send(p, m)
		}
	}
	if len(msgs) > 0 {
		logger.Debugf("published %d torrents to %d subscribers", len(random)+len(top), len(subs))
	}
}

// PublishChannel sends the health of one of our channels to subscribers
func (c *Community) PublishChannel(ch repo.ChannelRecord) {
	msg := ChannelHealthMsg{
		ChannelID: ch.ID,
		Name:      ch.Name,
		Votes:     clampU32(ch.Votes),
		Torrents:  clampU32(ch.Torrents),
		SwarmSize: uint64(max(ch.SwarmSize, 0)),
		Timestamp: uint64(max(ch.Timestamp, 0)),
	}.Encode()
	if len(msg) > MaxPacketPayloadSize {
		logger.Warnf("channel %x health too big to publish", ch.ID)
		return
	}
	for _, p := range c.Subscribers() {
		c.send(p, msg)
	}
}
