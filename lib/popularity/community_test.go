package popularity

import (
	"fmt"
	"testing"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/fs"
	"github.com/majestrate/swarmwatch/lib/mktorrent"
	"github.com/majestrate/swarmwatch/lib/repo"
	"github.com/majestrate/swarmwatch/lib/search"
	"github.com/majestrate/swarmwatch/lib/sync"
)

type sentMsg struct {
	peer string
	msg  Message
}

type fakeOverlay struct {
	access sync.Mutex
	peers  []string
	trust  map[string]float64
	valid  map[string]int
	sent   []sentMsg
}

func newFakeOverlay(peers ...string) *fakeOverlay {
	return &fakeOverlay{
		peers: peers,
		trust: make(map[string]float64),
		valid: make(map[string]int),
	}
}

func (f *fakeOverlay) Peers() []string {
	f.access.Lock()
	defer f.access.Unlock()
	return append([]string(nil), f.peers...)
}

func (f *fakeOverlay) Send(peer string, data []byte) error {
	f.access.Lock()
	defer f.access.Unlock()
	f.sent = append(f.sent, sentMsg{peer, append(Message(nil), data...)})
	return nil
}

func (f *fakeOverlay) Post(fn func()) bool {
	fn()
	return true
}

func (f *fakeOverlay) Every(time.Duration, func()) {}

func (f *fakeOverlay) Trust(peer string) float64 {
	f.access.Lock()
	defer f.access.Unlock()
	return f.trust[peer]
}

func (f *fakeOverlay) MarkValid(peer string) {
	f.access.Lock()
	f.valid[peer]++
	f.access.Unlock()
}

func (f *fakeOverlay) take() (l []sentMsg) {
	f.access.Lock()
	l, f.sent = f.sent, nil
	f.access.Unlock()
	return
}

func openRepo(t *testing.T) *repo.Repository {
	r, err := repo.Open(":memory:", fs.STD, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func newCommunity(t *testing.T, peers ...string) (*Community, *fakeOverlay, *repo.Repository) {
	o := newFakeOverlay(peers...)
	r := openRepo(t)
	c := New(o, r)
	now := time.Unix(130, 0)
	c.now = func() time.Time { return now }
	return c, o, r
}

func addTorrent(t *testing.T, r *repo.Repository, name string) common.Infohash {
	tf, err := mktorrent.FromBytes(name, []byte("data of "+name), 0)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := tf.Bytes()
	if _, err = r.AddTorrent(tf, raw, "test"); err != nil {
		t.Fatal(err)
	}
	return tf.Infohash()
}

func health(ih common.Infohash, s, l uint32, ts uint64) []byte {
	return TorrentsHealthMsg{Random: []HealthRecord{{Infohash: ih, Seeders: s, Leechers: l, Timestamp: ts}}}.Encode()
}

var _ search.RemoteSearcher = (*Community)(nil)

func TestMergeTrustAndFreshness(t *testing.T) {
	c, o, r := newCommunity(t, "a:1", "b:1")
	ih := addTorrent(t, r, "debian.iso")
	r.UpdateTorrentHealth(ih, 10, 0, 100)
	c.publishers["a:1"] = true
	c.publishers["b:1"] = true
	o.trust["b:1"] = 10

	c.HandlePacket("a:1", health(ih, 20, 0, 101))
	rec, _ := r.GetTorrent(ih)
	if rec.Seeders != 10 || rec.LastCheck != 100 {
		t.Fatalf("untrusted peer replaced fresh record: %+v", rec)
	}

	c.HandlePacket("b:1", health(ih, 30, 1, 102))
	rec, _ = r.GetTorrent(ih)
	if rec.Seeders != 30 || rec.LastCheck != 102 {
		t.Fatalf("trusted update lost: %+v", rec)
	}

	tests := []struct {
		s, l     uint32
		ts       uint64
		seeders  int64
		leechers int64
	}{
		{50, 50, 90, 30, 1},
		{29, 9, 102, 30, 1},
		{30, 1, 102, 30, 1},
		{30, 2, 102, 30, 2},
		{31, 0, 102, 31, 0},
		{99, 0, 130 + 2*60, 31, 0},
	}
	for _, tt := range tests {
		c.HandlePacket("b:1", health(ih, tt.s, tt.l, tt.ts))
		rec, _ = r.GetTorrent(ih)
		if rec.Seeders != tt.seeders || rec.Leechers != tt.leechers {
			t.Fatalf("after %+v got (%d, %d)", tt, rec.Seeders, rec.Leechers)
		}
	}
}

func TestStaleLocalRecordTakesUntrustedUpdate(t *testing.T) {
	c, _, r := newCommunity(t, "a:1")
	ih := addTorrent(t, r, "old.iso")
	r.UpdateTorrentHealth(ih, 1, 0, 10)
	c.publishers["a:1"] = true
	c.now = func() time.Time { return time.Unix(10, 0).Add(FreshnessBound) }
	c.HandlePacket("a:1", health(ih, 4, 0, 20))
	rec, _ := r.GetTorrent(ih)
	if rec.Seeders != 4 {
		t.Fatalf("%+v", rec)
	}
}

func TestHealthFromNonPublisherDropped(t *testing.T) {
	c, o, r := newCommunity(t, "a:1")
	var ih common.Infohash
	ih[0] = 1
	o.trust["a:1"] = 100
	c.HandlePacket("a:1", health(ih, 5, 5, 120))
	c.HandlePacket("a:1", HealthRecord{Infohash: ih, Seeders: 5, Timestamp: 120}.Encode())
	if r.HasTorrent(ih) {
		t.Fatal("health from a non publisher was stored")
	}
	if o.valid["a:1"] != 0 {
		t.Fatal("dropped message counted as valid")
	}
}

func TestUnknownTorrentGetsStubAndInfo(t *testing.T) {
	c, o, r := newCommunity(t, "a:1", "b:1")
	c.publishers["a:1"] = true
	var ih common.Infohash
	ih[0] = 0xab
	c.HandlePacket("a:1", health(ih, 7, 2, 120))
	rec, err := r.GetTorrent(ih)
	if err != nil || rec.HasInfo || rec.Seeders != 7 {
		t.Fatalf("%+v %v", rec, err)
	}
	sent := o.take()
	if len(sent) != 1 || sent[0].peer != "a:1" || sent[0].msg.MessageID() != TorrentInfoRequest {
		t.Fatalf("sent %v", sent)
	}
	req, err := DecodeTorrentInfoRequest(sent[0].msg.Payload())
	if err != nil || req.Infohash != ih {
		t.Fatal("bad info request")
	}

	resp := TorrentInfoResponseMsg{Infohash: ih, Name: "gossiped", Length: 42, NumFiles: 2}.Encode()
	c.HandlePacket("b:1", resp)
	rec, _ = r.GetTorrent(ih)
	if rec.Name == "gossiped" {
		t.Fatal("unsolicited info accepted")
	}
	c.HandlePacket("a:1", resp)
	rec, _ = r.GetTorrent(ih)
	if rec.Name != "gossiped" || rec.Length != 42 || rec.NumFiles != 2 {
		t.Fatalf("%+v", rec)
	}
}

func TestTorrentInfoRequestAnswered(t *testing.T) {
	c, o, r := newCommunity(t)
	ih := addTorrent(t, r, "answer.iso")
	c.HandlePacket("x:1", TorrentInfoRequestMsg{Infohash: ih}.Encode())
	sent := o.take()
	if len(sent) != 1 {
		t.Fatalf("sent %v", sent)
	}
	m, err := DecodeTorrentInfoResponse(sent[0].msg.Payload())
	if err != nil || m.Name != "answer.iso" || m.Infohash != ih {
		t.Fatalf("%+v %v", m, err)
	}
}

func TestSubscriberBound(t *testing.T) {
	c, o, _ := newCommunity(t)
	for i := 0; i < MaxSubscribers+2; i++ {
		c.HandlePacket(fmt.Sprintf("p:%d", i), SubscribeMsg{Identifier: uint32(i), Subscribe: true}.Encode())
	}
	if len(c.Subscribers()) != MaxSubscribers {
		t.Fatalf("%d subscribers", len(c.Subscribers()))
	}
	accepted := 0
	for _, s := range o.take() {
		m, err := DecodeSubscription(s.msg.Payload())
		if err != nil {
			t.Fatal(err)
		}
		if m.Subscribed {
			accepted++
		}
	}
	if accepted != MaxSubscribers {
		t.Fatalf("accepted %d", accepted)
	}
	c.HandlePacket("p:0", SubscribeMsg{Identifier: 99, Subscribe: false}.Encode())
	c.HandlePacket("p:11", SubscribeMsg{Identifier: 100, Subscribe: true}.Encode())
	subs := c.Subscribers()
	if len(subs) != MaxSubscribers {
		t.Fatalf("%v", subs)
	}
}

func TestSubscribePeers(t *testing.T) {
	peers := []string{"p:0", "p:1", "p:2", "p:3", "p:4", "p:5", "p:6"}
	c, o, _ := newCommunity(t, peers...)
	for i, p := range peers {
		o.trust[p] = float64(i)
	}
	c.SubscribePeers()
	sent := o.take()
	if len(sent) != MaxPublishers {
		t.Fatalf("sent %d subscribes", len(sent))
	}
	for _, s := range sent {
		if s.peer == "p:0" || s.peer == "p:1" {
			t.Fatalf("least trusted peer %s asked", s.peer)
		}
	}
	c.SubscribePeers()
	if len(o.take()) != 0 {
		t.Fatal("subscribed twice while requests pending")
	}

	c.HandlePacket("p:6", SubscriptionMsg{Identifier: 12345, Subscribed: true}.Encode())
	if len(c.Publishers()) != 0 {
		t.Fatal("unknown subscription accepted")
	}
	for _, s := range sent {
		m, _ := DecodeSubscribe(s.msg.Payload())
		c.HandlePacket(s.peer, SubscriptionMsg{Identifier: m.Identifier, Subscribed: true}.Encode())
	}
	if len(c.Publishers()) != MaxPublishers {
		t.Fatalf("publishers %v", c.Publishers())
	}

	o.access.Lock()
	o.peers = []string{"p:0", "p:1", "p:2", "p:3", "p:4", "p:5"}
	o.access.Unlock()
	c.RefreshPeerList()
	pubs := c.Publishers()
	if len(pubs) != MaxPublishers-1 {
		t.Fatalf("publishers after refresh %v", pubs)
	}
	sent = o.take()
	if len(sent) != 1 || sent[0].peer != "p:1" {
		t.Fatalf("refresh sent %v", sent)
	}

	c.UnsubscribePeers()
	if len(c.Publishers()) != 0 {
		t.Fatal("publishers left")
	}
	for _, s := range o.take() {
		m, err := DecodeSubscribe(s.msg.Payload())
		if err != nil || m.Subscribe {
			t.Fatalf("%+v %v", m, err)
		}
	}
}

func TestPublishNextContent(t *testing.T) {
	c, o, r := newCommunity(t)
	c.now = func() time.Time { return time.Unix(5000, 0) }
	for i := 0; i < 8; i++ {
		ih := addTorrent(t, r, fmt.Sprintf("t%d", i))
		r.UpdateTorrentHealth(ih, int64(i+1), 0, 4900)
	}
	c.PublishNextContent()
	if len(o.take()) != 0 {
		t.Fatal("published without subscribers")
	}
	c.subscribers["s:1"] = true
	c.subscribers["s:2"] = true
	c.PublishNextContent()
	sent := o.take()
	if len(sent) != 2 {
		t.Fatalf("sent %d", len(sent))
	}
	for _, s := range sent {
		if len(s.msg) > MaxPacketPayloadSize || s.msg.MessageID() != TorrentsHealth {
			t.Fatalf("bad message to %s", s.peer)
		}
		m, err := DecodeTorrentsHealth(s.msg.Payload())
		if err != nil {
			t.Fatal(err)
		}
		if len(m.Random) != SampleSize || len(m.Popular) != SampleSize {
			t.Fatalf("%d random %d popular", len(m.Random), len(m.Popular))
		}
		if m.Popular[0].Seeders != 8 {
			t.Fatalf("popular order %+v", m.Popular)
		}
	}
}

func TestHealthMessagesFit(t *testing.T) {
	var random, popular []HealthRecord
	for i := 0; i < 40; i++ {
		var ih common.Infohash
		ih[0] = byte(i)
		random = append(random, HealthRecord{Infohash: ih, Seeders: 1})
		popular = append(popular, HealthRecord{Infohash: ih, Seeders: 2})
	}
	msgs := healthMessages(random, popular, MaxPacketPayloadSize)
	if len(msgs) != 3 {
		t.Fatalf("%d messages", len(msgs))
	}
	total := 0
	for _, m := range msgs {
		if len(m) > MaxPacketPayloadSize {
			t.Fatalf("message of %d bytes", len(m))
		}
		d, err := DecodeTorrentsHealth(m.Payload())
		if err != nil {
			t.Fatal(err)
		}
		total += len(d.Random) + len(d.Popular)
	}
	if total != 80 {
		t.Fatalf("%d records", total)
	}
}

func TestRemoteSearch(t *testing.T) {
	server, serverNet, serverRepo := newCommunity(t)
	ih := addTorrent(t, serverRepo, "ubuntu server.iso")
	addTorrent(t, serverRepo, "ubuntu desktop.iso")
	serverRepo.UpdateTorrentHealth(ih, 9, 1, 120)

	client, clientNet, _ := newCommunity(t, "srv:1")
	var hits []search.Hit
	n := client.SearchRemote([]string{"ubuntu", "server"}, 10, func(h []search.Hit) {
		hits = append(hits, h...)
	})
	if n != 1 {
		t.Fatalf("asked %d peers", n)
	}
	for _, s := range clientNet.take() {
		server.HandlePacket("cli:1", s.msg)
	}
	responses := serverNet.take()
	if len(responses) != 1 {
		t.Fatalf("%d responses", len(responses))
	}
	for _, s := range responses {
		if len(s.msg) > MaxPacketPayloadSize {
			t.Fatal("response too big")
		}
		client.HandlePacket("srv:1", s.msg)
	}
	if len(hits) != 1 {
		t.Fatalf("hits %+v", hits)
	}
	h := hits[0]
	if h.Infohash != ih || h.Title != "ubuntu server.iso" || h.Seeders != 9 || h.MetaType != search.MetaTorrent || len(h.Torrent) == 0 {
		t.Fatalf("%+v", h)
	}
	// the request is done once the last page arrived
	client.HandlePacket("srv:1", responses[0].msg)
	if len(hits) != 1 {
		t.Fatal("duplicate response accepted")
	}
}

func TestRemoteSearchExpires(t *testing.T) {
	client, clientNet, _ := newCommunity(t, "srv:1")
	called := false
	client.SearchRemote([]string{"x"}, 1, func([]search.Hit) { called = true })
	req, _ := DecodeContentInfoRequest(clientNet.take()[0].msg.Payload())
	client.now = func() time.Time { return time.Unix(130, 0).Add(RequestTimeout) }
	results := torrentResultOf(repo.TorrentRecord{Infohash: common.Infohash{1}, Name: "x"}, nil)
	pages, counts := torrentPages([]TorrentResult{results}, pageBudget)
	for _, m := range contentResponses(req.Identifier, ContentTorrents, pages, counts) {
		client.HandlePacket("srv:1", m)
	}
	if called {
		t.Fatal("expired request answered")
	}
}

func TestPaginate(t *testing.T) {
	var results []TorrentResult
	for i := 0; i < 40; i++ {
		results = append(results, TorrentResult{
			Infohash: make([]byte, 20),
			Name:     fmt.Sprintf("result number %d with a fairly long name", i),
			Torrent:  make([]byte, 600),
		})
	}
	results = append(results, TorrentResult{Infohash: make([]byte, 20), Name: string(make([]byte, 2000))})
	pages, counts := torrentPages(results, pageBudget)
	total := 0
	for idx, p := range pages {
		if len(p) > pageBudget {
			t.Fatalf("page %d is %d bytes", idx, len(p))
		}
		total += counts[idx]
	}
	if total != 40 {
		t.Fatalf("%d results paged", total)
	}
	msgs := contentResponses(7, ContentTorrents, pages, counts)
	for idx, m := range msgs {
		if len(m) > MaxPacketPayloadSize {
			t.Fatalf("message %d is %d bytes", idx, len(m))
		}
		d, err := DecodeContentInfoResponse(m.Payload())
		if err != nil {
			t.Fatal(err)
		}
		if int(d.Page) != idx || d.MaxResults != 40 || d.More != (idx+1 < len(msgs)) {
			t.Fatalf("%+v", d)
		}
	}
}

func TestChannelHealth(t *testing.T) {
	c, _, r := newCommunity(t, "a:1")
	msg := ChannelHealthMsg{ChannelID: []byte("chan"), Name: "isos", Votes: 4, Torrents: 10, SwarmSize: 99, Timestamp: 100}.Encode()
	c.HandlePacket("a:1", msg)
	if _, err := r.GetChannel([]byte("chan")); err != repo.ErrNotFound {
		t.Fatal("channel health from non publisher stored")
	}
	c.publishers["a:1"] = true
	c.HandlePacket("a:1", msg)
	ch, err := r.GetChannel([]byte("chan"))
	if err != nil || ch.Name != "isos" || ch.SwarmSize != 99 {
		t.Fatalf("%+v %v", ch, err)
	}
}

func TestDecodeRejects(t *testing.T) {
	full := SubscribeMsg{Identifier: 1, Subscribe: true}.Encode()
	if _, err := DecodeSubscribe(full.Payload()[:3]); err != ErrShortMessage {
		t.Fatalf("short: %v", err)
	}
	if _, err := DecodeSubscribe(append(full.Payload(), 0)); err != ErrTrailingBytes {
		t.Fatalf("trailing: %v", err)
	}
	bad := TorrentsHealthMsg{}.Encode()
	bad[1] = 0xff
	if _, err := DecodeTorrentsHealth(bad.Payload()); err != ErrShortMessage {
		t.Fatalf("count: %v", err)
	}
	if Message(nil).MessageID() != Invalid {
		t.Fatal("empty message has an id")
	}
}
