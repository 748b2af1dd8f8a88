package repo

import (
	"testing"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/fs"
	"github.com/majestrate/swarmwatch/lib/mktorrent"
	"github.com/majestrate/swarmwatch/lib/tracker"
)

func openTestRepo(t *testing.T) *Repository {
	r, err := Open(":memory:", fs.STD, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestAddTorrent(t *testing.T) {
	r := openTestRepo(t)
	tf, err := mktorrent.FromBytes("Ubuntu Server.iso", []byte("hello world"), 0, "http://t.example/announce", "udp://t2.example:6969", "magnet:nope")
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := tf.Bytes()
	id, err := r.AddTorrent(tf, raw, "test")
	if err != nil {
		t.Fatal(err)
	}
	ih := tf.Infohash()
	if !r.HasTorrent(ih) || !r.HasTorrentFile(ih) {
		t.Fatal("torrent not stored")
	}
	got, err := r.GetTorrentID(ih)
	if err != nil || got != id {
		t.Fatalf("id %d != %d: %v", got, id, err)
	}
	trackers, err := r.GetTrackersOfTorrent(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(trackers) != 2 || trackers[0] != "http://t.example:80/announce" || trackers[1] != "udp://t2.example:6969" {
		t.Fatalf("trackers %v", trackers)
	}
	rec, err := r.GetTorrent(ih)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Name != "Ubuntu Server.iso" || rec.Length != 11 || !rec.HasInfo || rec.Status != StatusUnknown {
		t.Fatalf("%+v", rec)
	}
	blob, err := r.ReadTorrentFile(ih)
	if err != nil || string(blob) != string(raw) {
		t.Fatal("blob mismatch")
	}
	hits, err := r.SearchTorrents([]string{"ubuntu", "SERVER"}, 10)
	if err != nil || len(hits) != 1 {
		t.Fatalf("search: %v %d", err, len(hits))
	}
	hits, _ = r.SearchTorrents([]string{"ubuntu", "desktop"}, 10)
	if len(hits) != 0 {
		t.Fatal("search is not an AND")
	}
}

func TestTrackerlessMapsDHT(t *testing.T) {
	r := openTestRepo(t)
	tf, _ := mktorrent.FromBytes("x", []byte("x"), 0)
	id, err := r.AddTorrent(tf, nil, "test")
	if err != nil {
		t.Fatal(err)
	}
	trackers, _ := r.GetTrackersOfTorrent(id)
	if len(trackers) != 1 || trackers[0] != tracker.DHT {
		t.Fatalf("%v", trackers)
	}
}

func TestCheckResultAndTrackerList(t *testing.T) {
	r := openTestRepo(t)
	tf, _ := mktorrent.FromBytes("a", []byte("a"), 0, "http://t.example/announce")
	id, _ := r.AddTorrent(tf, nil, "test")
	ih := tf.Infohash()
	now := time.Unix(10000, 0)
	list, err := r.GetTorrentListOnTracker("http://t.example:80/announce", now)
	if err != nil || len(list) != 1 || list[0].Infohash != ih || list[0].ID != id {
		t.Fatalf("%v %v", list, err)
	}
	err = r.UpdateTorrentCheckResult(id, ih, 5, 3, 10000, 11800, StatusGood, 0)
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := r.GetTorrent(ih)
	if rec.Seeders != 5 || rec.Leechers != 3 || rec.NextCheck != 11800 || rec.Status != StatusGood {
		t.Fatalf("%+v", rec)
	}
	if err = r.UpdateTorrentCheckResult(id+1, ih, 0, 0, 0, 0, StatusDead, 5); err != ErrNotFound {
		t.Fatalf("update of unknown row: %v", err)
	}
	pop, _ := r.Popular(5)
	if len(pop) != 1 || pop[0].Infohash != ih {
		t.Fatal("popular")
	}
	recent, _ := r.RecentlyChecked(time.Unix(9000, 0), 5)
	if len(recent) != 1 {
		t.Fatal("recently checked")
	}
	all, _ := r.AllTrackers()
	if len(all) != 1 {
		t.Fatalf("%v", all)
	}
}

func TestTrackerListHonorsNextCheck(t *testing.T) {
	r := openTestRepo(t)
	tf, _ := mktorrent.FromBytes("b", []byte("b"), 0, "udp://t.example:6969")
	id, _ := r.AddTorrent(tf, nil, "test")
	ih := tf.Infohash()
	if err := r.UpdateTorrentCheckResult(id, ih, 0, 0, 10000, 20000, StatusDead, 5); err != nil {
		t.Fatal(err)
	}
	list, err := r.GetTorrentListOnTracker("udp://t.example:6969", time.Unix(19999, 0))
	if err != nil || len(list) != 0 {
		t.Fatalf("torrent listed before next check: %v %v", list, err)
	}
	list, err = r.GetTorrentListOnTracker("udp://t.example:6969", time.Unix(20000, 0))
	if err != nil || len(list) != 1 || list[0].LastCheck != 10000 {
		t.Fatalf("torrent not listed once due: %v %v", list, err)
	}
}

func TestHealthStub(t *testing.T) {
	r := openTestRepo(t)
	var ih common.Infohash
	ih[0] = 0xdd
	created, err := r.UpdateTorrentHealth(ih, 10, 1, 100)
	if err != nil || !created {
		t.Fatalf("%v %v", created, err)
	}
	created, _ = r.UpdateTorrentHealth(ih, 20, 1, 102)
	if created {
		t.Fatal("stub inserted twice")
	}
	rec, _ := r.GetTorrent(ih)
	if rec.HasInfo || rec.Seeders != 20 || rec.LastCheck != 102 {
		t.Fatalf("%+v", rec)
	}
	r.UpdateTorrentInfo(ih, TorrentInfo{Name: "filled", Length: 7, NumFiles: 1})
	rec, _ = r.GetTorrent(ih)
	if rec.Name != "filled" || rec.Length != 7 {
		t.Fatalf("%+v", rec)
	}
	if _, err = r.ReadTorrentFile(ih); err != ErrNotFound {
		t.Fatal("stub has a blob")
	}
}

func TestSaveBlobMismatch(t *testing.T) {
	r := openTestRepo(t)
	tf, _ := mktorrent.FromBytes("a", []byte("a"), 0)
	raw, _ := tf.Bytes()
	var other common.Infohash
	if err := r.SaveTorrentBlob(other, raw); err != ErrInfohashMismatch {
		t.Fatalf("%v", err)
	}
}

func TestChannelNewestWins(t *testing.T) {
	r := openTestRepo(t)
	id := []byte("channel-1")
	up, err := r.UpdateChannelHealth(ChannelRecord{ID: id, Name: "linux isos", Votes: 3, Timestamp: 100})
	if err != nil || !up {
		t.Fatalf("%v %v", up, err)
	}
	up, _ = r.UpdateChannelHealth(ChannelRecord{ID: id, Votes: 1, Timestamp: 90})
	if up {
		t.Fatal("older record won")
	}
	up, _ = r.UpdateChannelHealth(ChannelRecord{ID: id, Votes: 9, SwarmSize: 40, Timestamp: 110})
	if !up {
		t.Fatal("newer record lost")
	}
	c, err := r.GetChannel(id)
	if err != nil || c.Votes != 9 || c.Name != "linux isos" || string(c.ID) != "channel-1" {
		t.Fatalf("%+v %v", c, err)
	}
	found, _ := r.SearchChannels([]string{"linux"}, 5)
	if len(found) != 1 {
		t.Fatal("channel search")
	}
	if _, err = r.GetChannel([]byte("nope")); err != ErrNotFound {
		t.Fatal("missing channel")
	}
}
