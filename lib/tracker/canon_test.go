package tracker

import "testing"

func TestCanonicalURL(t *testing.T) {
	cases := []struct {
		in, out string
	}{
		{"http://t.example/announce", "http://t.example:80/announce"},
		{"HTTP://T.Example:8080/", "http://t.example:8080/announce"},
		{"http://t.example", "http://t.example:80/announce"},
		{"http://t.example/tracker/announce.php?passkey=x", "http://t.example:80/tracker/announce.php?passkey=x"},
		{"http://t.example/a", "http://t.example:80/a/announce"},
		{"udp://t2.example:6969", "udp://t2.example:6969"},
		{"udp://t2.example:6969/announce", "udp://t2.example:6969"},
		{"DHT", "DHT"},
		{"no-DHT", "no-DHT"},
	}
	for _, c := range cases {
		got, err := CanonicalURL(c.in)
		if err != nil {
			t.Fatalf("%s: %s", c.in, err)
		}
		if got != c.out {
			t.Fatalf("%s: got %s want %s", c.in, got, c.out)
		}
		again, err := CanonicalURL(got)
		if err != nil || again != got {
			t.Fatalf("not idempotent: %s -> %s", got, again)
		}
	}
}

func TestCanonicalURLRejects(t *testing.T) {
	for _, bad := range []string{
		"",
		"https://t.example/announce",
		"wss://t.example/announce",
		"udp://t2.example/announce",
		"http:///announce",
		"http://t.example:99999/announce",
		"http://träcker.example/announce",
		"magnet:?xt=urn:btih:abc",
	} {
		if _, err := CanonicalURL(bad); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestKindOf(t *testing.T) {
	if KindOf("udp://a:1") != KindUDP || KindOf("http://a:80/announce") != KindHTTP || KindOf(DHT) != KindUnknown {
		t.Fail()
	}
}

func TestTxIDRegistry(t *testing.T) {
	r := NewTxIDRegistry()
	seen := make(map[uint32]bool)
	for i := 0; i < 1000; i++ {
		id := r.Acquire()
		if seen[id] {
			t.Fatalf("duplicate live txid %d", id)
		}
		seen[id] = true
	}
	for id := range seen {
		r.Release(id)
	}
	if r.Live() != 0 {
		t.Fatalf("%d ids still live", r.Live())
	}
}
