package tracker

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
)

// BEP 15 protocol constants
const (
	udpMagic        = uint64(0x41727101980)
	actionConnect   = uint32(0)
	actionScrape    = uint32(2)
	actionError     = uint32(3)
	connectReplyLen = 16
	scrapeHeaderLen = 8
	scrapeEntryLen  = 12
)

const DefaultUDPRetryInterval = 5 * time.Second
const DefaultUDPMaxRetries = 2

// UDPSession scrapes a tracker with the BEP 15 connect then scrape exchange
type UDPSession struct {
	baseSession
	addr          string
	txids         *TxIDRegistry
	txid          uint32
	released      bool
	connID        uint64
	retryInterval time.Duration
	maxRetries    int
	retries       int
}

// NewUDPSession creates a session for a canonical udp tracker url. the
// transaction id is held until Close.
func NewUDPSession(id uint64, tracker string, txids *TxIDRegistry, retryInterval time.Duration, maxRetries int) (*UDPSession, error) {
	u, err := url.Parse(tracker)
	if err != nil || KindOf(tracker) != KindUDP || u.Port() == "" {
		return nil, ErrBadTrackerURL
	}
	if retryInterval <= 0 {
		retryInterval = DefaultUDPRetryInterval
	}
	if maxRetries < 0 {
		maxRetries = DefaultUDPMaxRetries
	}
	return &UDPSession{
		baseSession: baseSession{
			id:      id,
			tracker: tracker,
			results: make(map[common.Infohash]ScrapeStats),
		},
		addr:          u.Host,
		txids:         txids,
		txid:          txids.Acquire(),
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}, nil
}

func (s *UDPSession) Kind() Kind {
	return KindUDP
}

// TxID returns the transaction id used for every packet of this session
func (s *UDPSession) TxID() uint32 {
	return s.txid
}

func (s *UDPSession) Retries() int {
	return s.retries
}

func (s *UDPSession) Start(now time.Time, post PostFunc) {
	s.post = post
	s.started = now
	s.lastSeen = now
	s.state = StateConnecting
	s.gen++
	gen := s.gen
	addr := s.addr
	go func() {
		c, err := net.Dial("udp", addr)
		if err != nil {
			post(Event{Session: s, Kind: EventError, Gen: gen, Err: err})
			return
		}
		post(Event{Session: s, Kind: EventConnected, Gen: gen, Conn: c})
	}()
}

func (s *UDPSession) HandleConnected(gen int, conn net.Conn, now time.Time) {
	if gen != s.gen || s.state != StateConnecting {
		conn.Close()
		return
	}
	s.conn = conn
	go readLoop(s, gen, conn, s.post, 2048)
	s.sendConnect(now)
}

func (s *UDPSession) send(pkt []byte, now time.Time) bool {
	s.conn.SetWriteDeadline(now.Add(s.retryInterval))
	if _, err := s.conn.Write(pkt); err != nil {
		s.fail(err)
		return false
	}
	s.lastSeen = now
	return true
}

func (s *UDPSession) sendConnect(now time.Time) {
	var pkt [16]byte
	binary.BigEndian.PutUint64(pkt[0:], udpMagic)
	binary.BigEndian.PutUint32(pkt[8:], actionConnect)
	binary.BigEndian.PutUint32(pkt[12:], s.txid)
	s.connID = 0
	s.state = StateConnecting
	s.send(pkt[:], now)
}

func (s *UDPSession) sendScrape(now time.Time) {
	pkt := make([]byte, 16, 16+len(s.infohashes)*common.InfohashLen)
	binary.BigEndian.PutUint64(pkt[0:], s.connID)
	binary.BigEndian.PutUint32(pkt[8:], actionScrape)
	binary.BigEndian.PutUint32(pkt[12:], s.txid)
	for _, ih := range s.infohashes {
		pkt = append(pkt, ih[:]...)
	}
	s.requested = true
	if s.send(pkt, now) {
		s.state = StateScraping
	}
}

func (s *UDPSession) HandleReadable(gen int, data []byte, now time.Time) {
	if gen != s.gen || s.state.Done() {
		return
	}
	if len(data) < 8 {
		s.fail(ErrBadResponse)
		return
	}
	action := binary.BigEndian.Uint32(data[0:])
	txid := binary.BigEndian.Uint32(data[4:])
	if txid != s.txid {
		s.fail(ErrBadResponse)
		return
	}
	if action == actionError {
		s.fail(fmt.Errorf("%w: %s", ErrTrackerFailure, string(data[8:])))
		return
	}
	s.lastSeen = now
	switch action {
	case actionConnect:
		if s.state == StateScraping {
			// duplicate reply to an earlier connect
			return
		}
		if s.state != StateConnecting || len(data) != connectReplyLen {
			s.fail(ErrBadResponse)
			return
		}
		s.connID = binary.BigEndian.Uint64(data[8:])
		s.state = StateConnected
		s.sendScrape(now)
	case actionScrape:
		// a reply to a scrape sent before a retry is still good
		if !s.requested || len(data) != scrapeHeaderLen+scrapeEntryLen*len(s.infohashes) {
			s.fail(ErrBadResponse)
			return
		}
		for idx, ih := range s.infohashes {
			off := scrapeHeaderLen + idx*scrapeEntryLen
			s.results[ih] = ScrapeStats{
				Seeders:   int64(binary.BigEndian.Uint32(data[off:])),
				Completed: int64(binary.BigEndian.Uint32(data[off+4:])),
				Leechers:  int64(binary.BigEndian.Uint32(data[off+8:])),
			}
		}
		s.finish()
	default:
		s.fail(ErrBadResponse)
	}
}

func (s *UDPSession) HandleError(gen int, err error, now time.Time) {
	if gen != s.gen || s.state.Done() {
		return
	}
	s.fail(err)
}

// Deadline is last contact plus the backed off retry interval
func (s *UDPSession) Deadline() time.Time {
	return s.lastSeen.Add(s.retryInterval << uint(s.retries))
}

// CheckTimeout re-runs connect after silence, failing past max retries
func (s *UDPSession) CheckTimeout(now time.Time) {
	if s.state.Done() || s.state == StateInit {
		return
	}
	if now.Before(s.Deadline()) {
		return
	}
	s.retries++
	if s.retries > s.maxRetries {
		s.fail(ErrTimeout)
		return
	}
	if s.conn == nil {
		// still resolving
		s.lastSeen = now
		return
	}
	s.sendConnect(now)
}

func (s *UDPSession) Close() {
	if !s.state.Done() {
		s.fail(ErrClosed)
	}
	s.closeConn()
	if !s.released {
		s.released = true
		s.txids.Release(s.txid)
	}
}
