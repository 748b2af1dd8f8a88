package infocache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/majestrate/swarmwatch/lib/tracker"
)

func TestMarkersNeverChecked(t *testing.T) {
	c := New("", 0, 0)
	c.Add(tracker.DHT)
	c.MarkSuccess(tracker.NoDHT)
	if c.ToCheck(tracker.DHT) || c.ToCheck(tracker.NoDHT) {
		t.Fatal("marker is checkable")
	}
	if c.Len() != 0 {
		t.Fatal("marker was recorded")
	}
}

func TestDeadAfterFailures(t *testing.T) {
	now := time.Unix(1000, 0)
	c := New("", 3, time.Hour)
	c.now = func() time.Time { return now }
	u := "udp://t2.example:6969"
	if !c.ToCheck(u) {
		t.Fatal("unknown tracker not checkable")
	}
	c.MarkFailure(u)
	c.MarkFailure(u)
	if !c.ToCheck(u) {
		t.Fatal("tracker dead too early")
	}
	c.MarkFailure(u)
	if c.ToCheck(u) {
		t.Fatal("tracker still alive past threshold")
	}
	now = now.Add(time.Hour)
	if !c.ToCheck(u) {
		t.Fatal("dead tracker not retried after quiescence")
	}
	c.MarkSuccess(u)
	r, _ := c.Get(u)
	if !r.Alive || r.Failures != 0 || r.LastSuccess != now.Unix() {
		t.Fatalf("%+v", r)
	}
}

func TestNextTrackerRoundRobin(t *testing.T) {
	c := New("", 1, time.Hour)
	a := "http://a.example:80/announce"
	b := "http://b.example:80/announce"
	d := "http://d.example:80/announce"
	c.Add(a)
	c.Add(b)
	c.Add(d)
	c.MarkFailure(b)
	var got []string
	for i := 0; i < 4; i++ {
		u, ok := c.NextTracker()
		if !ok {
			t.Fatal("no tracker")
		}
		got = append(got, u)
	}
	want := []string{a, d, a, d}
	for idx := range want {
		if got[idx] != want[idx] {
			t.Fatalf("order %v", got)
		}
	}
	empty := New("", 0, 0)
	if _, ok := empty.NextTracker(); ok {
		t.Fatal("empty cache returned a tracker")
	}
}

func TestSaveLoad(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "trackers.dat")
	c := New(fpath, 2, time.Hour)
	u := "http://a.example:80/announce"
	c.MarkFailure(u)
	c.MarkSuccess("udp://b.example:1337")
	if err := c.Save(); err != nil {
		t.Fatal(err)
	}
	c2 := New(fpath, 2, time.Hour)
	c2.Load()
	r, ok := c2.Get(u)
	if !ok || r.Failures != 1 || !r.Alive {
		t.Fatalf("%+v %v", r, ok)
	}
	if c2.Len() != 2 {
		t.Fatalf("len %d", c2.Len())
	}
}

func TestLoadGarbage(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "trackers.dat")
	os.WriteFile(fpath, []byte("not bencode"), 0600)
	c := New(fpath, 0, 0)
	c.Load()
	if c.Len() != 0 {
		t.Fatal("garbage loaded")
	}
}
