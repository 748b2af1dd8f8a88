package urlhistory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCanonicalStripsSessionID(t *testing.T) {
	cases := map[string]string{
		"http://cdn/x.torrent;jsessionid=ABC":         "http://cdn/x.torrent",
		"http://cdn/x.torrent;JSESSIONID=abc?dl=1":    "http://cdn/x.torrent?dl=1",
		"http://cdn/a;phpsessionid=1;b=2/x.torrent":   "http://cdn/a;b=2/x.torrent",
		"http://cdn/plain.torrent":                    "http://cdn/plain.torrent",
	}
	for in, want := range cases {
		got := Canonical(in)
		if got != want {
			t.Fatalf("%s: got %s want %s", in, got, want)
		}
		if Canonical(got) != got {
			t.Fatalf("canonical not idempotent for %s", in)
		}
	}
}

func TestContainsAfterAdd(t *testing.T) {
	h := New(filepath.Join(t.TempDir(), "h.txt"), time.Hour)
	h.Add("http://cdn/x.torrent;jsessionid=ABC")
	if !h.Contains("http://cdn/x.torrent;jsessionid=XYZ") {
		t.Fatal("session id variant not seen")
	}
	if h.Contains("http://cdn/y.torrent") {
		t.Fatal("unknown url seen")
	}
}

func TestUninterestingNotStored(t *testing.T) {
	h := New(filepath.Join(t.TempDir(), "h.txt"), time.Hour)
	if !h.Contains("http://cdn/poster.JPG") {
		t.Fatal("image link should count as seen")
	}
	h.Add("http://cdn/poster.jpg")
	if h.Len() != 0 {
		t.Fatal("image link stored")
	}
}

func TestReadWriteExpiry(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "h.txt")
	now := time.Unix(1000000, 0)
	content := fmt.Sprintf("%d http://a/1.torrent\r\nnot a line\r\n%d.5 http://a/2.torrent\r\n%d http://a/old.torrent\r\n",
		now.Unix()-10, now.Unix()-20, now.Unix()-7200)
	if err := os.WriteFile(fpath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	h := New(fpath, time.Hour)
	h.now = func() time.Time { return now }
	if err := h.Read(); err != nil {
		t.Fatal(err)
	}
	if h.Len() != 2 {
		t.Fatalf("loaded %d entries", h.Len())
	}
	if h.Contains("http://a/old.torrent") {
		t.Fatal("expired entry loaded")
	}
	if err := h.AddAndWrite("http://a/3.torrent"); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(fpath)
	lines := strings.Split(strings.TrimSuffix(string(data), "\r\n"), "\r\n")
	if len(lines) != 3 {
		t.Fatalf("wrote %q", data)
	}
	for _, l := range lines {
		var ts int64
		var u string
		if _, err := fmt.Sscanf(l, "%d %s", &ts, &u); err != nil {
			t.Fatalf("bad line %q", l)
		}
		if ts > now.Unix() || now.Unix()-ts > 3600 {
			t.Fatalf("timestamp out of range in %q", l)
		}
	}
	later := now.Add(2 * time.Hour)
	h.now = func() time.Time { return later }
	if h.Contains("http://a/3.torrent") {
		t.Fatal("entry outlived ttl")
	}
}

func TestMissingFileIsEmpty(t *testing.T) {
	h := New(filepath.Join(t.TempDir(), "none.txt"), 0)
	if err := h.Read(); err != nil {
		t.Fatal(err)
	}
	if h.Len() != 0 {
		t.Fail()
	}
}
