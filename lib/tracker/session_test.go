package tracker

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
)

func repeatIH(b byte) (ih common.Infohash) {
	for idx := range ih {
		ih[idx] = b
	}
	return
}

// drive runs a session to completion the way the checker does
func drive(t *testing.T, s Session, limit time.Duration) {
	t.Helper()
	events := make(chan Event, 64)
	s.Start(time.Now(), func(ev Event) { events <- ev })
	deadline := time.After(limit)
	for !s.State().Done() {
		select {
		case ev := <-events:
			Dispatch(ev, time.Now())
		case <-time.After(5 * time.Millisecond):
			s.CheckTimeout(time.Now())
		case <-deadline:
			t.Fatalf("session stuck in %s", s.State())
		}
	}
}

// serveHTTP answers each connection on l with a response chosen by reply
func serveHTTP(t *testing.T, reply func(requestLine string) string) (string, chan string) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	lines := make(chan string, 8)
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				line, _ := r.ReadString('\n')
				line = strings.TrimRight(line, "\r\n")
				for {
					h, err := r.ReadString('\n')
					if err != nil || h == "\r\n" {
						break
					}
				}
				lines <- line
				c.Write([]byte(reply(line)))
			}(c)
		}
	}()
	return l.Addr().String(), lines
}

func httpOK(body string) string {
	return fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}

func TestHTTPScrapeLiveTorrent(t *testing.T) {
	aa := repeatIH(0xaa)
	bb := repeatIH(0xbb)
	body := "d5:filesd20:" + string(aa[:]) + "d8:completei5e10:downloadedi42e10:incompletei3eeee"
	addr, lines := serveHTTP(t, func(string) string { return httpOK(body) })
	s, err := NewHTTPSession(1, "http://"+addr+"/announce", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	s.Add(aa)
	s.Add(bb)
	drive(t, s, 3*time.Second)
	if s.State() != StateFinished {
		t.Fatalf("state %s err %v", s.State(), s.Err())
	}
	line := <-lines
	want := "GET /scrape?info_hash=" + strings.Repeat("%aa", 20) + "&info_hash=" + strings.Repeat("%bb", 20) + " HTTP/1.1"
	if line != want {
		t.Fatalf("request line %q", line)
	}
	res := s.Results()
	if res[aa].Seeders != 5 || res[aa].Leechers != 3 {
		t.Fatalf("aa %+v", res[aa])
	}
	st, ok := res[bb]
	if !ok || st.Seeders != 0 || st.Leechers != 0 {
		t.Fatalf("absent infohash not reported as zero: %+v %v", st, ok)
	}
	s.Close()
}

func TestHTTPQuerySeparator(t *testing.T) {
	s, err := NewHTTPSession(1, "http://t.example:80/announce.php?passkey=abc", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	s.Add(repeatIH('a'))
	uri := s.RequestURI()
	if uri != "/scrape.php?passkey=abc&info_hash="+strings.Repeat("a", 20) {
		t.Fatalf("uri %s", uri)
	}
}

func TestHTTPFailureReason(t *testing.T) {
	addr, _ := serveHTTP(t, func(string) string { return httpOK("d14:failure reason4:nopee") })
	s, _ := NewHTTPSession(1, "http://"+addr+"/announce", time.Second)
	s.Add(repeatIH(1))
	drive(t, s, 3*time.Second)
	if s.State() != StateFailed || len(s.Results()) != 0 {
		t.Fatalf("state %s", s.State())
	}
}

func TestHTTPRedirectOnce(t *testing.T) {
	ih := repeatIH(2)
	body := "d5:filesd20:" + string(ih[:]) + "d8:completei1e10:incompletei0eeee"
	var addr string
	addr, _ = serveHTTP(t, func(line string) string {
		if strings.HasPrefix(line, "GET /scrape?") {
			return "HTTP/1.1 302 Found\r\nLocation: http://" + addr + "/other/scrape?info_hash=zzz\r\nContent-Length: 0\r\n\r\n"
		}
		if strings.HasPrefix(line, "GET /other/scrape?info_hash=") {
			return httpOK(body)
		}
		return "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"
	})
	s, _ := NewHTTPSession(1, "http://"+addr+"/announce", 2*time.Second)
	s.Add(ih)
	drive(t, s, 3*time.Second)
	if s.State() != StateFinished || s.Results()[ih].Seeders != 1 {
		t.Fatalf("state %s err %v", s.State(), s.Err())
	}
}

func TestHTTPRedirectTypeChangeFails(t *testing.T) {
	addr, lines := serveHTTP(t, func(string) string {
		return "HTTP/1.1 301 Moved\r\nLocation: udp://127.0.0.1:6969/announce\r\nContent-Length: 0\r\n\r\n"
	})
	s, _ := NewHTTPSession(1, "http://"+addr+"/announce", time.Second)
	s.Add(repeatIH(3))
	drive(t, s, 3*time.Second)
	if s.State() != StateFailed {
		t.Fatalf("state %s", s.State())
	}
	<-lines
	select {
	case l := <-lines:
		t.Fatalf("redirect was followed: %s", l)
	default:
	}
}

func TestHTTPSecondRedirectFails(t *testing.T) {
	var addr string
	addr, _ = serveHTTP(t, func(string) string {
		return "HTTP/1.1 302 Found\r\nLocation: http://" + addr + "/loop/announce\r\nContent-Length: 0\r\n\r\n"
	})
	s, _ := NewHTTPSession(1, "http://"+addr+"/announce", 2*time.Second)
	s.Add(repeatIH(4))
	drive(t, s, 3*time.Second)
	if s.State() != StateFailed || s.Err() != ErrRedirect {
		t.Fatalf("state %s err %v", s.State(), s.Err())
	}
}

func TestSessionCap(t *testing.T) {
	s, _ := NewHTTPSession(1, "http://t.example:80/announce", time.Second)
	for i := 0; i < MaxInfohashesPerSession; i++ {
		var ih common.Infohash
		binary.BigEndian.PutUint32(ih[:], uint32(i))
		if err := s.Add(ih); err != nil {
			t.Fatalf("add %d: %s", i, err)
		}
	}
	if s.CanAdd() {
		t.Fatal("full session accepts more")
	}
	if err := s.Add(repeatIH(0xff)); err != ErrSessionFull {
		t.Fatalf("75th add: %v", err)
	}
}

type udpTracker struct {
	conn     net.PacketConn
	connects chan struct{}
	order    chan uint32
}

// serveUDP runs a fake udp tracker. reply returns nil to stay silent.
func serveUDP(t *testing.T, reply func(pkt []byte) []byte) *udpTracker {
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	tr := &udpTracker{conn: c, connects: make(chan struct{}, 16), order: make(chan uint32, 16)}
	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := c.ReadFrom(buf)
			if err != nil {
				return
			}
			pkt := append([]byte(nil), buf[:n]...)
			if n >= 16 {
				action := binary.BigEndian.Uint32(pkt[8:])
				tr.order <- action
				if action == actionConnect {
					tr.connects <- struct{}{}
				}
			}
			if r := reply(pkt); r != nil {
				c.WriteTo(r, from)
			}
		}
	}()
	return tr
}

func connectReply(pkt []byte) []byte {
	r := make([]byte, 16)
	binary.BigEndian.PutUint32(r[0:], actionConnect)
	copy(r[4:8], pkt[12:16])
	binary.BigEndian.PutUint64(r[8:], 0x1122334455667788)
	return r
}

func scrapeReply(pkt []byte, stats ...[3]uint32) []byte {
	r := make([]byte, 8)
	binary.BigEndian.PutUint32(r[0:], actionScrape)
	copy(r[4:8], pkt[12:16])
	for _, st := range stats {
		var e [12]byte
		binary.BigEndian.PutUint32(e[0:], st[0])
		binary.BigEndian.PutUint32(e[4:], st[1])
		binary.BigEndian.PutUint32(e[8:], st[2])
		r = append(r, e[:]...)
	}
	return r
}

func TestUDPScrape(t *testing.T) {
	tr := serveUDP(t, func(pkt []byte) []byte {
		switch binary.BigEndian.Uint32(pkt[8:]) {
		case actionConnect:
			if binary.BigEndian.Uint64(pkt) != udpMagic {
				return nil
			}
			return connectReply(pkt)
		case actionScrape:
			if binary.BigEndian.Uint64(pkt) != 0x1122334455667788 {
				return nil
			}
			return scrapeReply(pkt, [3]uint32{0, 0, 0})
		}
		return nil
	})
	txids := NewTxIDRegistry()
	s, err := NewUDPSession(1, "udp://"+tr.conn.LocalAddr().String(), txids, time.Second, 2)
	if err != nil {
		t.Fatal(err)
	}
	ih := repeatIH(0xbb)
	s.Add(ih)
	drive(t, s, 3*time.Second)
	if s.State() != StateFinished {
		t.Fatalf("state %s err %v", s.State(), s.Err())
	}
	if first := <-tr.order; first != actionConnect {
		t.Fatalf("first packet action %d", first)
	}
	if st := s.Results()[ih]; st.Seeders != 0 || st.Leechers != 0 {
		t.Fatalf("%+v", st)
	}
	s.Close()
	if txids.Live() != 0 {
		t.Fatal("txid not released")
	}
}

func TestUDPShortScrapeFails(t *testing.T) {
	tr := serveUDP(t, func(pkt []byte) []byte {
		if binary.BigEndian.Uint32(pkt[8:]) == actionConnect {
			return connectReply(pkt)
		}
		return scrapeReply(pkt, [3]uint32{9, 9, 9})
	})
	s, _ := NewUDPSession(1, "udp://"+tr.conn.LocalAddr().String(), NewTxIDRegistry(), time.Second, 2)
	s.Add(repeatIH(1))
	s.Add(repeatIH(2))
	drive(t, s, 3*time.Second)
	if s.State() != StateFailed || s.Err() != ErrBadResponse {
		t.Fatalf("state %s err %v", s.State(), s.Err())
	}
	if len(s.Results()) != 0 {
		t.Fatal("short reply produced results")
	}
}

func TestUDPWrongTxIDFails(t *testing.T) {
	tr := serveUDP(t, func(pkt []byte) []byte {
		r := connectReply(pkt)
		r[4] ^= 0xff
		return r
	})
	s, _ := NewUDPSession(1, "udp://"+tr.conn.LocalAddr().String(), NewTxIDRegistry(), time.Second, 2)
	s.Add(repeatIH(1))
	drive(t, s, 3*time.Second)
	if s.State() != StateFailed {
		t.Fatalf("state %s", s.State())
	}
}

func TestUDPRetryOnSilence(t *testing.T) {
	tr := serveUDP(t, func([]byte) []byte { return nil })
	txids := NewTxIDRegistry()
	s, _ := NewUDPSession(1, "udp://"+tr.conn.LocalAddr().String(), txids, 20*time.Millisecond, 2)
	s.Add(repeatIH(1))
	drive(t, s, 3*time.Second)
	if s.State() != StateFailed || s.Err() != ErrTimeout {
		t.Fatalf("state %s err %v", s.State(), s.Err())
	}
	if s.Retries() != 3 {
		t.Fatalf("retries %d", s.Retries())
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(tr.connects); n != 3 {
		t.Fatalf("tracker saw %d connects", n)
	}
	s.Close()
	if txids.Live() != 0 {
		t.Fatal("txid not released")
	}
}

func TestUDPErrorAction(t *testing.T) {
	tr := serveUDP(t, func(pkt []byte) []byte {
		var b bytes.Buffer
		binary.Write(&b, binary.BigEndian, actionError)
		b.Write(pkt[12:16])
		b.WriteString("go away")
		return b.Bytes()
	})
	s, _ := NewUDPSession(1, "udp://"+tr.conn.LocalAddr().String(), NewTxIDRegistry(), time.Second, 2)
	s.Add(repeatIH(1))
	drive(t, s, 3*time.Second)
	if s.State() != StateFailed {
		t.Fatalf("state %s", s.State())
	}
}
