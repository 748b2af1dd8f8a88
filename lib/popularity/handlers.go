package popularity

import (
	"strings"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/repo"
	"github.com/majestrate/swarmwatch/lib/search"
	"github.com/zeebo/bencode"
)

// HandlePacket dispatches one datagram from peer, it runs on the overlay
// worker
func (c *Community) HandlePacket(from string, data []byte) {
	msg := Message(data)
	payload := msg.Payload()
	var err error
	switch msg.MessageID() {
	case Subscribe:
		var m SubscribeMsg
		if m, err = DecodeSubscribe(payload); err == nil {
			c.onSubscribe(from, m)
		}
	case Subscription:
		var m SubscriptionMsg
		if m, err = DecodeSubscription(payload); err == nil {
			c.onSubscription(from, m)
		}
	case TorrentHealth:
		var h HealthRecord
		if h, err = DecodeTorrentHealth(payload); err == nil {
			c.onHealth(from, []HealthRecord{h})
		}
	case TorrentsHealth:
		var m TorrentsHealthMsg
		if m, err = DecodeTorrentsHealth(payload); err == nil {
			c.onHealth(from, append(m.Random, m.Popular...))
		}
	case ChannelHealth:
		var m ChannelHealthMsg
		if m, err = DecodeChannelHealth(payload); err == nil {
			c.onChannelHealth(from, m)
		}
	case TorrentInfoRequest:
		var m TorrentInfoRequestMsg
		if m, err = DecodeTorrentInfoRequest(payload); err == nil {
			c.onTorrentInfoRequest(from, m)
		}
	case TorrentInfoResponse:
		var m TorrentInfoResponseMsg
		if m, err = DecodeTorrentInfoResponse(payload); err == nil {
			c.onTorrentInfoResponse(from, m)
		}
	case ContentInfoRequest:
		var m ContentInfoRequestMsg
		if m, err = DecodeContentInfoRequest(payload); err == nil {
			c.onContentInfoRequest(from, m)
		}
	case ContentInfoResponse:
		var m ContentInfoResponseMsg
		if m, err = DecodeContentInfoResponse(payload); err == nil {
			c.onContentInfoResponse(from, m)
		}
	default:
		logger.Debugf("unknown message %s from %s", msg.MessageID(), from)
		return
	}
	if err != nil {
		logger.Warnf("malformed %s from %s: %s", msg.MessageID(), from, err.Error())
	}
}

func unknownResponse(t MessageType, from string) {
	logger.Debugf("ERROR_UNKNOWN_RESPONSE: %s from %s", t, from)
}

func (c *Community) onSubscribe(from string, m SubscribeMsg) {
	c.access.Lock()
	subscribed := false
	if m.Subscribe {
		if c.subscribers[from] || len(c.subscribers) < MaxSubscribers {
			c.subscribers[from] = true
			subscribed = true
		}
	} else {
		delete(c.subscribers, from)
	}
	c.access.Unlock()
	c.overlay.MarkValid(from)
	c.send(from, SubscriptionMsg{Identifier: m.Identifier, Subscribed: subscribed}.Encode())
}

func (c *Community) onSubscription(from string, m SubscriptionMsg) {
	c.access.Lock()
	r := c.lookup(m.Identifier, requestSubscribe, from)
	if r == nil {
		c.access.Unlock()
		unknownResponse(Subscription, from)
		return
	}
	delete(c.requests, m.Identifier)
	undo := false
	if m.Subscribed {
		if c.publishers[from] || len(c.publishers) < MaxPublishers {
			c.publishers[from] = true
		} else {
			undo = true
		}
	} else {
		delete(c.publishers, from)
	}
	var msg Message
	if undo {
		msg = SubscribeMsg{Identifier: c.rand.Uint32(), Subscribe: false}.Encode()
	}
	c.access.Unlock()
	c.overlay.MarkValid(from)
	if undo {
		c.send(from, msg)
	}
}

func (c *Community) isPublisher(peer string) bool {
	c.access.Lock()
	defer c.access.Unlock()
	return c.publishers[peer]
}

func (c *Community) onHealth(from string, records []HealthRecord) {
	if !c.isPublisher(from) {
		unknownResponse(TorrentsHealth, from)
		return
	}
	c.overlay.MarkValid(from)
	for _, h := range records {
		c.mergeHealth(from, h)
	}
}

// mergeHealth applies one gossiped health record. Newer timestamps win, on
// equal timestamps more seeders then more leechers win, and a fresh local
// record is kept against a low trust peer.
func (c *Community) mergeHealth(from string, h HealthRecord) (updated bool) {
	now := c.now()
	if h.Timestamp > uint64(now.Add(MaxClockSkew).Unix()) {
		logger.Debugf("health for %s from %s is from the future", h.Infohash.Hex(), from)
		return
	}
	ts := int64(h.Timestamp)
	seeders, leechers := int64(h.Seeders), int64(h.Leechers)
	local, err := c.repo.GetTorrent(h.Infohash)
	if err == repo.ErrNotFound {
		var created bool
		created, err = c.repo.UpdateTorrentHealth(h.Infohash, seeders, leechers, ts)
		if err != nil {
			logger.Errorf("storing health of %s: %s", h.Infohash.Hex(), err.Error())
			return
		}
		if created {
			c.requestInfo(from, h.Infohash)
		}
		return true
	}
	if err != nil {
		logger.Errorf("loading %s: %s", h.Infohash.Hex(), err.Error())
		return
	}
	if ts < local.LastCheck {
		logger.Debugf("stale health for %s from %s", h.Infohash.Hex(), from)
		return
	}
	if ts == local.LastCheck && !(seeders > local.Seeders || (seeders == local.Seeders && leechers > local.Leechers)) {
		return
	}
	if now.Sub(time.Unix(local.LastCheck, 0)) < FreshnessBound && c.overlay.Trust(from) < LowTrust {
		logger.Debugf("keeping fresh health of %s against untrusted %s", h.Infohash.Hex(), from)
		return
	}
	if _, err = c.repo.UpdateTorrentHealth(h.Infohash, seeders, leechers, ts); err != nil {
		logger.Errorf("storing health of %s: %s", h.Infohash.Hex(), err.Error())
		return
	}
	if !local.HasInfo {
		c.requestInfo(from, h.Infohash)
	}
	return true
}

// requestInfo asks peer for the info of a stub torrent once per timeout
func (c *Community) requestInfo(peer string, ih common.Infohash) {
	k := infoKey{peer: peer, infohash: ih}
	c.access.Lock()
	_, pending := c.infoWanted[k]
	if !pending {
		c.infoWanted[k] = c.now()
	}
	c.access.Unlock()
	if !pending {
		c.send(peer, TorrentInfoRequestMsg{Infohash: ih}.Encode())
	}
}

func (c *Community) onChannelHealth(from string, m ChannelHealthMsg) {
	if !c.isPublisher(from) {
		unknownResponse(ChannelHealth, from)
		return
	}
	c.overlay.MarkValid(from)
	if m.Timestamp > uint64(c.now().Add(MaxClockSkew).Unix()) {
		return
	}
	_, err := c.repo.UpdateChannelHealth(repo.ChannelRecord{
		ID:        m.ChannelID,
		Name:      m.Name,
		Votes:     int64(m.Votes),
		Torrents:  int64(m.Torrents),
		SwarmSize: int64(min(m.SwarmSize, 1<<62)),
		Timestamp: int64(m.Timestamp),
	})
	if err != nil {
		logger.Errorf("storing channel %x: %s", m.ChannelID, err.Error())
	}
}

func (c *Community) onTorrentInfoRequest(from string, m TorrentInfoRequestMsg) {
	t, err := c.repo.GetTorrent(m.Infohash)
	if err != nil || !t.HasInfo {
		return
	}
	c.overlay.MarkValid(from)
	msg := TorrentInfoResponseMsg{
		Infohash:     t.Infohash,
		Name:         t.Name,
		Length:       uint64(max(t.Length, 0)),
		CreationDate: uint64(max(t.CreationDate, 0)),
		NumFiles:     clampU32(t.NumFiles),
		Comment:      t.Comment,
	}
	enc := msg.Encode()
	if len(enc) > MaxPacketPayloadSize {
		msg.Comment = ""
		enc = msg.Encode()
	}
	if len(enc) > MaxPacketPayloadSize {
		return
	}
	c.send(from, enc)
}

func (c *Community) onTorrentInfoResponse(from string, m TorrentInfoResponseMsg) {
	k := infoKey{peer: from, infohash: m.Infohash}
	c.access.Lock()
	_, wanted := c.infoWanted[k]
	delete(c.infoWanted, k)
	c.access.Unlock()
	if !wanted {
		unknownResponse(TorrentInfoResponse, from)
		return
	}
	c.overlay.MarkValid(from)
	err := c.repo.UpdateTorrentInfo(m.Infohash, repo.TorrentInfo{
		Name:         m.Name,
		Length:       int64(min(m.Length, 1<<62)),
		CreationDate: int64(min(m.CreationDate, 1<<62)),
		NumFiles:     int64(m.NumFiles),
		Comment:      m.Comment,
	})
	if err != nil {
		logger.Errorf("storing info of %s: %s", m.Infohash.Hex(), err.Error())
	}
}

// pageBudget is what a bencoded result list may take in one response
const pageBudget = MaxPacketPayloadSize - contentInfoResponseOverhead

func (c *Community) onContentInfoRequest(from string, m ContentInfoRequestMsg) {
	kw := search.Keywords(m.Query)
	var pages [][]byte
	var counts []int
	switch m.ContentType {
	case ContentTorrents:
		torrents, err := c.repo.SearchTorrents(kw, ContentSearchLimit)
		if err != nil {
			logger.Errorf("content search %q: %s", m.Query, err.Error())
			return
		}
		results := make([]TorrentResult, 0, len(torrents))
		for _, t := range torrents {
			raw, _ := c.repo.ReadTorrentFile(t.Infohash)
			results = append(results, torrentResultOf(t, raw))
		}
		pages, counts = torrentPages(results, pageBudget)
	case ContentChannels:
		channels, err := c.repo.SearchChannels(kw, ContentSearchLimit)
		if err != nil {
			logger.Errorf("channel search %q: %s", m.Query, err.Error())
			return
		}
		results := make([]ChannelResult, 0, len(channels))
		for _, ch := range channels {
			results = append(results, channelResultOf(ch))
		}
		pages, counts = channelPages(results, pageBudget)
	default:
		logger.Debugf("content type %d from %s not supported", m.ContentType, from)
		return
	}
	c.overlay.MarkValid(from)
	for _, msg := range contentResponses(m.Identifier, m.ContentType, pages, counts) {
		c.send(from, msg)
	}
}

func (c *Community) onContentInfoResponse(from string, m ContentInfoResponseMsg) {
	c.access.Lock()
	r := c.lookup(m.Identifier, requestContent, from)
	if r != nil && !m.More {
		delete(c.requests, m.Identifier)
	}
	c.access.Unlock()
	if r == nil {
		unknownResponse(ContentInfoResponse, from)
		return
	}
	switch m.ContentType {
	case ContentTorrents:
		var results []TorrentResult
		if err := bencode.DecodeBytes(m.Results, &results); err != nil {
			logger.Warnf("bad torrent results from %s: %s", from, err.Error())
			return
		}
		c.overlay.MarkValid(from)
		if r.onResults != nil {
			r.onResults(results)
		}
	case ContentChannels:
		var results []ChannelResult
		if err := bencode.DecodeBytes(m.Results, &results); err != nil {
			logger.Warnf("bad channel results from %s: %s", from, err.Error())
			return
		}
		c.overlay.MarkValid(from)
		for _, ch := range results {
			if len(ch.ChannelID) == 0 {
				continue
			}
			if _, err := c.repo.UpdateChannelHealth(ch.Record()); err != nil {
				logger.Errorf("storing channel %x: %s", ch.ChannelID, err.Error())
			}
		}
	}
}

// searchPeers sends a content request to the most trusted peers
func (c *Community) searchPeers(contentType byte, keywords []string, maxPeers int, onResults func([]TorrentResult)) int {
	if len(keywords) == 0 || maxPeers <= 0 {
		return 0
	}
	peers := c.byTrust(c.overlay.Peers())
	if len(peers) > maxPeers {
		peers = peers[:maxPeers]
	}
	query := strings.Join(keywords, " ")
	msgs := make([]Message, len(peers))
	c.access.Lock()
	c.expire()
	for idx, p := range peers {
		id := c.newRequest(&request{kind: requestContent, peer: p, onResults: onResults})
		msgs[idx] = ContentInfoRequestMsg{Identifier: id, ContentType: contentType, Query: query}.Encode()
	}
	c.access.Unlock()
	for idx, p := range peers {
		c.send(p, msgs[idx])
	}
	return len(peers)
}

// SearchRemote asks up to maxPeers peers for torrents matching keywords.
// onHits runs on the overlay worker once per received page.
func (c *Community) SearchRemote(keywords []string, maxPeers int, onHits func([]search.Hit)) int {
	return c.searchPeers(ContentTorrents, keywords, maxPeers, func(results []TorrentResult) {
		hits := make([]search.Hit, 0, len(results))
		for _, r := range results {
			h, err := r.Hit()
			if err != nil {
				continue
			}
			hits = append(hits, h)
		}
		if len(hits) > 0 {
			onHits(hits)
		}
	})
}

// SearchChannelsRemote asks peers for channels matching keywords, replies
// are merged into the repository
func (c *Community) SearchChannelsRemote(keywords []string, maxPeers int) int {
	return c.searchPeers(ContentChannels, keywords, maxPeers, nil)
}
