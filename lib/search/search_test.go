package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/fs"
	"github.com/majestrate/swarmwatch/lib/metainfo"
	"github.com/majestrate/swarmwatch/lib/mktorrent"
	"github.com/majestrate/swarmwatch/lib/repo"
	"github.com/majestrate/swarmwatch/lib/ttq"
)

func ihOf(b byte) (ih common.Infohash) {
	for idx := range ih {
		ih[idx] = b
	}
	return
}

func body(t *testing.T, s StreamInfo) string {
	t.Helper()
	data, err := io.ReadAll(s.Stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != s.Length {
		t.Fatalf("length %d != %d", len(data), s.Length)
	}
	return string(data)
}

func TestHitsExpire(t *testing.T) {
	c := NewHitsCache()
	t0 := time.Unix(1000, 0)
	c.AddQuery("Q", "cats", t0)
	c.AddHits("Q", []Hit{{Infohash: ihOf(0xcc), Title: "cats"}})
	m := NewPathMapper(c, nil, DefaultHitsTTL, "")
	m.now = func() time.Time { return t0.Add(time.Minute) }
	if s := m.Get("/hits/Q"); s.StatusCode != 200 || s.MimeType != MimeAtom {
		t.Fatalf("live query: %d", s.StatusCode)
	}
	m.now = func() time.Time { return t0.Add(DefaultHitsTTL + time.Second) }
	if s := m.Get("/hits/Q"); s.StatusCode != 404 {
		t.Fatalf("expired query: %d", s.StatusCode)
	}
	if _, _, ok := c.GetHits("Q"); ok || c.Len() != 0 {
		t.Fatal("expired query still cached")
	}
}

func TestHitsExpireAtTTL(t *testing.T) {
	c := NewHitsCache()
	t0 := time.Unix(1000, 0)
	c.AddQuery("Q", "cats", t0)
	c.AddHits("Q", []Hit{{Infohash: ihOf(0xcc), Title: "cats"}})
	m := NewPathMapper(c, nil, DefaultHitsTTL, "")
	m.now = func() time.Time { return t0.Add(DefaultHitsTTL - time.Nanosecond) }
	if s := m.Get("/hits/Q"); s.StatusCode != 200 {
		t.Fatalf("query just inside ttl: %d", s.StatusCode)
	}
	m.now = func() time.Time { return t0.Add(DefaultHitsTTL) }
	if s := m.Get("/hits/Q"); s.StatusCode != 404 {
		t.Fatalf("query at ttl: %d", s.StatusCode)
	}
	if c.Len() != 0 {
		t.Fatal("query at ttl still cached")
	}
}

func TestQuotedLinkAttribute(t *testing.T) {
	c := NewHitsCache()
	c.AddQuery("Q", "q", time.Now())
	c.AddHits("Q", []Hit{{Source: SourceRemote, Infohash: ihOf(0xab), Title: `say "hi"`, MetaType: MetaURL, URL: `http://x/"><evil a='b'`}})
	m := NewPathMapper(c, nil, 0, "")
	feed := body(t, m.Get("/hits/Q"))
	if !strings.Contains(feed, `href="http://x/&quot;&gt;&lt;evil a=&apos;b&apos;"`) {
		t.Fatal(feed)
	}
	dec := xml.NewDecoder(strings.NewReader(feed))
	var hrefs []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("generated feed is not well formed: %s\n%s", err, feed)
		}
		if el, ok := tok.(xml.StartElement); ok && el.Name.Local == "link" {
			for _, a := range el.Attr {
				if a.Name.Local == "href" {
					hrefs = append(hrefs, a.Value)
				}
			}
		}
	}
	found := false
	for _, h := range hrefs {
		if h == `http://x/"><evil a='b'` {
			found = true
		}
	}
	if !found {
		t.Fatalf("enclosure link lost: %v", hrefs)
	}
}

func remotePayload(t *testing.T, name string) (*metainfo.TorrentFile, []byte) {
	tf, err := mktorrent.FromBytes(name, []byte(name), 0)
	if err != nil {
		t.Fatal(err)
	}
	tf.Thumb = []byte("PNGDATA")
	tf.ThumbType = "image/png"
	raw, _ := tf.Bytes()
	return tf, raw
}

func TestMergeRule(t *testing.T) {
	c := NewHitsCache()
	c.AddQuery("Q", "q", time.Now())
	tf, raw := remotePayload(t, "a")
	ih := tf.Infohash()
	c.AddHits("Q", []Hit{{Source: SourceLocal, Infohash: ih, Title: "first"}})
	c.AddHits("Q", []Hit{{Source: SourceRemote, Infohash: ih, Title: "no payload", MetaType: MetaURL}})
	_, hits, _ := c.GetHits("Q")
	if hits[ih].Title != "first" {
		t.Fatal("hit without payload replaced existing")
	}
	c.AddHits("Q", []Hit{{Source: SourceRemote, Infohash: ih, Title: "payload", Torrent: raw}})
	_, hits, _ = c.GetHits("Q")
	if hits[ih].Title != "payload" {
		t.Fatal("hit with payload did not replace")
	}
	bad := ihOf(1)
	c.AddHits("Q", []Hit{{Source: SourceRemote, Infohash: bad, Title: "liar", Torrent: raw}})
	_, hits, _ = c.GetHits("Q")
	if h := hits[bad]; h.MetaType != MetaURL || h.Torrent != nil {
		t.Fatalf("mismatched payload kept: %+v", h)
	}
	if c.AddHits("nope", nil) {
		t.Fatal("hits added to unknown query")
	}
}

func TestPathMapper(t *testing.T) {
	c := NewHitsCache()
	c.AddQuery("Q", "a & b", time.Now())
	tf, raw := remotePayload(t, "<b>name</b>")
	ih := tf.Infohash()
	plain := ihOf(0xab)
	c.AddHits("Q", []Hit{
		{Source: SourceRemote, Infohash: ih, Title: "<b>name</b> & co", Summary: "<script>x</script>text", Torrent: raw, Length: 11},
		{Source: SourceRemote, Infohash: plain, Title: "plain", MetaType: MetaURL, URL: "http://x/?a=1&b=2"},
	})
	m := NewPathMapper(c, nil, 0, "http://127.0.0.1:1/")
	feed := body(t, m.Get("/hits/Q"))
	if !strings.Contains(feed, "<title>Hits for a &amp; b</title>") {
		t.Fatal(feed)
	}
	if !strings.Contains(feed, "&lt;b&gt;name&lt;/b&gt; &amp; co") || strings.Contains(feed, "<script>") {
		t.Fatal(feed)
	}
	if !strings.Contains(feed, `href="http://127.0.0.1:1/hits/Q/`+ih.Hex()+`.tstream"`) {
		t.Fatal(feed)
	}
	if !strings.Contains(feed, `href="http://x/?a=1&amp;b=2"`) {
		t.Fatal(feed)
	}
	doc := m.Get("/hits/Q/" + ih.Hex() + ".xml")
	if doc.StatusCode != 200 || !strings.Contains(body(t, doc), "<FileSize>11</FileSize>") {
		t.Fatal("mpeg7")
	}
	ts := m.Get("/hits/Q/" + ih.Hex() + ".tstream")
	if ts.MimeType != MimeTorrent || body(t, ts) != string(raw) {
		t.Fatal("tstream")
	}
	th := m.Get("/hits/Q/" + ih.Hex() + ".tstream/thumbnail")
	if th.MimeType != "image/png" || body(t, th) != "PNGDATA" {
		t.Fatal("thumbnail")
	}
	notFound := []string{
		"/hits/",
		"/hits/nope",
		"/hits/Q/" + strings.ToUpper(ih.Hex()) + ".xml",
		"/hits/Q/" + ih.Hex()[:39] + ".xml",
		"/hits/Q/" + ihOf(2).Hex() + ".xml",
		"/hits/Q/" + plain.Hex() + ".tstream",
		"/hits/Q/" + plain.Hex() + ".tstream/thumbnail",
		"/hits/Q/" + ih.Hex() + ".bin",
	}
	for _, p := range notFound {
		if s := m.Get(p); s.StatusCode != 404 {
			t.Fatalf("%s: %d", p, s.StatusCode)
		}
	}
}

type fakeRemote struct {
	hits []Hit
	asked int
}

func (f *fakeRemote) SearchRemote(keywords []string, maxPeers int, onHits func([]Hit)) int {
	f.asked = maxPeers
	onHits(f.hits)
	return 1
}

func TestSearchLocalAndRemote(t *testing.T) {
	r, err := repo.Open(":memory:", fs.STD, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	local, _ := mktorrent.FromBytes("Big Buck Bunny", []byte("bunny"), 0, "http://t.example/announce")
	r.AddTorrent(local, nil, "test")
	tf, raw := remotePayload(t, "Bunny remote")
	remote := &fakeRemote{hits: []Hit{{Infohash: tf.Infohash(), Title: "Bunny remote", Torrent: raw}}}
	q := ttq.New("test-ttq")
	go q.Run()
	m := NewManager(Config{}, r, remote, q)
	id, err := m.Search("bunny", CollectionOverlay)
	if err != nil {
		t.Fatal(err)
	}
	q.Drain()
	q.Wait()
	_, hits, ok := m.Cache().GetHits(id)
	if !ok || len(hits) != 2 {
		t.Fatalf("%d hits", len(hits))
	}
	if hits[local.Infohash()].Source != SourceLocal || hits[tf.Infohash()].Source != SourceRemote {
		t.Fatal("hit sources")
	}
	if remote.asked != DefaultMaxRemotePeers {
		t.Fatalf("asked %d peers", remote.asked)
	}
	if !r.HasTorrentFile(tf.Infohash()) {
		t.Fatal("remote payload not saved")
	}
	s := m.Mapper().Get("/hits/" + id + "/" + local.Infohash().Hex() + ".tstream")
	if s.StatusCode != 200 {
		t.Fatal("local tstream")
	}
	id2, _ := m.Search("bunny", CollectionLocal)
	_, hits, _ = m.Cache().GetHits(id2)
	if len(hits) != 1 {
		t.Fatal("local collection asked remote")
	}
	if _, err = m.Search("x", "bogus"); err != ErrBadCollection {
		t.Fatal("bad collection")
	}
}

func TestMetafeed(t *testing.T) {
	ih := ihOf(0xef)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			if r.URL.Query().Get("q") != "linux iso" {
				http.Error(w, "bad query", 400)
				return
			}
			fmt.Fprintf(w, `<feed xmlns="http://www.w3.org/2005/Atom"><entry><title>Linux</title>
<link href="http://x/hits/abc/%s.tstream"/></entry><entry><title>no hash</title><link href="http://x/page"/></entry></feed>`, ih.Hex())
		case "/slow":
			time.Sleep(300 * time.Millisecond)
		case "/garbage":
			w.Write([]byte("<html>nope</html>"))
		}
	}))
	defer srv.Close()
	m := NewManager(Config{MetafeedTimeout: 100 * time.Millisecond}, nil, nil, nil)
	s := m.Handle(context.Background(), "linux iso", CollectionMetafeed, srv.URL+"/search")
	if s.StatusCode != 200 || !strings.Contains(body(t, s), "urn:btih:"+ih.Hex()) {
		t.Fatalf("%d", s.StatusCode)
	}
	if s = m.Handle(context.Background(), "x", CollectionMetafeed, srv.URL+"/slow"); s.StatusCode != 504 {
		t.Fatalf("slow: %d", s.StatusCode)
	}
	if s = m.Handle(context.Background(), "x", CollectionMetafeed, srv.URL+"/garbage"); s.StatusCode != 500 {
		t.Fatalf("garbage: %d", s.StatusCode)
	}
}
