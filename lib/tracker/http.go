package tracker

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http/httputil"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/version"
	"github.com/zeebo/bencode"
)

// DefaultHTTPTimeout bounds a whole http scrape including redirect
const DefaultHTTPTimeout = 15 * time.Second

const maxHTTPResponse = 1 << 20

// HTTPSession scrapes a tracker with BEP 48 over plain http
type HTTPSession struct {
	baseSession
	announce   *url.URL
	timeout    time.Duration
	redirected bool
	buf        bytes.Buffer
	dial       func(addr string, timeout time.Duration) (net.Conn, error)
}

// NewHTTPSession creates a session for a canonical http tracker url
func NewHTTPSession(id uint64, tracker string, timeout time.Duration) (*HTTPSession, error) {
	u, err := url.Parse(tracker)
	if err != nil || KindOf(tracker) != KindHTTP {
		return nil, ErrBadTrackerURL
	}
	if _, err = scrapePath(u); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPSession{
		baseSession: baseSession{
			id:      id,
			tracker: tracker,
			results: make(map[common.Infohash]ScrapeStats),
		},
		announce: u,
		timeout:  timeout,
		dial: func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		},
	}, nil
}

func (s *HTTPSession) Kind() Kind {
	return KindHTTP
}

// scrapePath rewrites the last announce path segment to scrape
func scrapePath(u *url.URL) (string, error) {
	dir, last := path.Split(u.EscapedPath())
	if !strings.HasPrefix(last, "announce") {
		return "", ErrNoScrape
	}
	return dir + "scrape" + last[len("announce"):], nil
}

func escapeInfohash(ih common.Infohash) string {
	var sb strings.Builder
	for _, b := range ih {
		if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '.' || b == '-' || b == '_' || b == '~' {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "%%%02x", b)
		}
	}
	return sb.String()
}

// RequestURI builds the scrape path and query for the current infohash list
func (s *HTTPSession) RequestURI() string {
	p, _ := scrapePath(s.announce)
	sep := "?"
	if s.announce.RawQuery != "" {
		p += "?" + s.announce.RawQuery
		sep = "&"
	}
	parts := make([]string, len(s.infohashes))
	for idx, ih := range s.infohashes {
		parts[idx] = escapeInfohash(ih)
	}
	return p + sep + "info_hash=" + strings.Join(parts, "&info_hash=")
}

func (s *HTTPSession) hostport() string {
	return s.announce.Host
}

func (s *HTTPSession) Start(now time.Time, post PostFunc) {
	s.post = post
	s.started = now
	s.lastSeen = now
	s.connect()
}

func (s *HTTPSession) connect() {
	s.state = StateConnecting
	s.gen++
	gen := s.gen
	addr := s.hostport()
	timeout := s.timeout
	dial := s.dial
	post := s.post
	go func() {
		c, err := dial(addr, timeout)
		if err != nil {
			post(Event{Session: s, Kind: EventError, Gen: gen, Err: err})
			return
		}
		post(Event{Session: s, Kind: EventConnected, Gen: gen, Conn: c})
	}()
}

func (s *HTTPSession) HandleConnected(gen int, conn net.Conn, now time.Time) {
	if gen != s.gen || s.state != StateConnecting {
		conn.Close()
		return
	}
	s.conn = conn
	s.state = StateConnected
	s.lastSeen = now
	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: %s\r\nAccept-Encoding: identity\r\nConnection: close\r\n\r\n",
		s.RequestURI(), s.hostport(), version.UserAgent())
	conn.SetWriteDeadline(now.Add(s.timeout))
	_, err := io.WriteString(conn, req)
	if err != nil {
		s.fail(err)
		return
	}
	s.requested = true
	s.state = StateScraping
	s.buf.Reset()
	go readLoop(s, gen, conn, s.post, 4096)
}

func (s *HTTPSession) HandleReadable(gen int, data []byte, now time.Time) {
	if gen != s.gen || s.state != StateScraping {
		return
	}
	s.lastSeen = now
	s.buf.Write(data)
	if s.buf.Len() > maxHTTPResponse {
		s.fail(ErrBadResponse)
		return
	}
	s.process(false)
}

func (s *HTTPSession) HandleError(gen int, err error, now time.Time) {
	if gen != s.gen || s.state.Done() {
		return
	}
	if err == io.EOF && s.state == StateScraping {
		s.process(true)
		if !s.state.Done() {
			s.fail(io.ErrUnexpectedEOF)
		}
		return
	}
	s.fail(err)
}

type httpHeader struct {
	status   int
	length   int
	chunked  bool
	location string
}

func parseHeader(hdr []byte) (h httpHeader, err error) {
	lines := strings.Split(string(hdr), "\r\n")
	status := strings.SplitN(lines[0], " ", 3)
	if len(status) < 2 || !strings.HasPrefix(status[0], "HTTP/") {
		err = ErrBadResponse
		return
	}
	h.status, err = strconv.Atoi(status[1])
	if err != nil {
		err = ErrBadResponse
		return
	}
	h.length = -1
	for _, line := range lines[1:] {
		idx := strings.IndexByte(line, ':')
		if idx <= 0 {
			continue
		}
		k := strings.ToLower(strings.TrimSpace(line[:idx]))
		v := strings.TrimSpace(line[idx+1:])
		switch k {
		case "content-length":
			h.length, err = strconv.Atoi(v)
			if err != nil || h.length < 0 {
				err = ErrBadResponse
				return
			}
		case "transfer-encoding":
			h.chunked = strings.Contains(strings.ToLower(v), "chunked")
		case "location":
			h.location = v
		}
	}
	return
}

// process handles the buffered response once enough of it arrived
func (s *HTTPSession) process(eof bool) {
	data := s.buf.Bytes()
	end := bytes.Index(data, []byte("\r\n\r\n"))
	if end < 0 {
		return
	}
	h, err := parseHeader(data[:end])
	if err != nil {
		s.fail(err)
		return
	}
	body := data[end+4:]
	switch h.status {
	case 301, 302:
		s.redirect(h.location)
		return
	case 200:
	default:
		s.fail(fmt.Errorf("tracker http status %d", h.status))
		return
	}
	if h.length >= 0 {
		if len(body) < h.length {
			return
		}
		body = body[:h.length]
	} else if !eof {
		return
	} else if h.chunked {
		body, err = io.ReadAll(httputil.NewChunkedReader(bytes.NewReader(body)))
		if err != nil {
			s.fail(ErrBadResponse)
			return
		}
	}
	s.decode(body)
}

func (s *HTTPSession) decode(body []byte) {
	if len(body) == 0 {
		s.fail(ErrBadResponse)
		return
	}
	var resp map[string]interface{}
	if err := bencode.DecodeBytes(body, &resp); err != nil {
		s.fail(ErrBadResponse)
		return
	}
	if reason, has := resp["failure reason"]; has {
		s.fail(fmt.Errorf("%w: %v", ErrTrackerFailure, reason))
		return
	}
	files, ok := resp["files"].(map[string]interface{})
	if !ok {
		s.fail(ErrBadResponse)
		return
	}
	for _, ih := range s.infohashes {
		var st ScrapeStats
		if f, ok := files[string(ih[:])].(map[string]interface{}); ok {
			st.Seeders = asInt(f["complete"])
			st.Leechers = asInt(f["incomplete"])
			st.Completed = asInt(f["downloaded"])
		}
		s.results[ih] = st
	}
	s.finish()
}

func asInt(v interface{}) int64 {
	if i, ok := v.(int64); ok && i > 0 {
		return i
	}
	return 0
}

// redirect follows a 301/302 once and only to another http tracker
func (s *HTTPSession) redirect(location string) {
	if s.redirected || location == "" {
		s.fail(ErrRedirect)
		return
	}
	target, err := s.announce.Parse(location)
	if err != nil {
		s.fail(ErrRedirect)
		return
	}
	q := target.Query()
	q.Del("info_hash")
	target.RawQuery = q.Encode()
	p := strings.TrimRight(target.Path, "/")
	dir, last := path.Split(p)
	if strings.HasPrefix(last, "scrape") {
		p = dir + "announce" + last[len("scrape"):]
	}
	target.Path = p
	target.RawPath = ""
	canon, err := CanonicalURL(target.String())
	if err != nil || KindOf(canon) != KindHTTP {
		s.fail(ErrRedirect)
		return
	}
	u, _ := url.Parse(canon)
	if _, err = scrapePath(u); err != nil {
		s.fail(ErrRedirect)
		return
	}
	s.redirected = true
	s.announce = u
	s.closeConn()
	s.connect()
}

func (s *HTTPSession) Deadline() time.Time {
	return s.started.Add(s.timeout)
}

func (s *HTTPSession) CheckTimeout(now time.Time) {
	if s.state.Done() || s.state == StateInit {
		return
	}
	if !now.Before(s.Deadline()) {
		s.fail(ErrTimeout)
	}
}

func (s *HTTPSession) Close() {
	if !s.state.Done() {
		s.fail(ErrClosed)
	}
	s.closeConn()
}
