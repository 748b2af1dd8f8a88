package tracker

import (
	"errors"
	"net"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
)

// MaxInfohashesPerSession bounds a multi scrape. BEP 15 leaves the limit to
// the tracker; 74 keeps a udp scrape reply under a common 1k datagram.
const MaxInfohashesPerSession = 74

var (
	ErrSessionFull      = errors.New("session infohash list full")
	ErrAlreadyRequested = errors.New("session already sent its request")
	ErrNoScrape         = errors.New("tracker does not support scrape")
	ErrTimeout          = errors.New("tracker timed out")
	ErrBadResponse      = errors.New("malformed tracker response")
	ErrTrackerFailure   = errors.New("tracker returned failure")
	ErrRedirect         = errors.New("bad tracker redirect")
	ErrClosed           = errors.New("session closed")
)

// State of a scrape session
type State int

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateScraping
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateScraping:
		return "scraping"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return "???"
	}
}

// Done returns true for finished and failed
func (s State) Done() bool {
	return s == StateFinished || s == StateFailed
}

// ScrapeStats is what a tracker reports for one infohash
type ScrapeStats struct {
	Seeders   int64
	Leechers  int64
	Completed int64
}

// EventKind tells the engine what happened on a session socket
type EventKind int

const (
	// the socket is ready for the request
	EventConnected EventKind = iota
	// bytes arrived
	EventData
	// the socket failed or hit eof
	EventError
)

// Event is posted by socket goroutines to the engine mailbox
type Event struct {
	Session Session
	Kind    EventKind
	// generation of the connection that produced the event
	Gen  int
	Conn net.Conn
	Data []byte
	Err  error
}

// PostFunc delivers an event to the owner of a session. it must not block
// forever once the owner has shut down.
type PostFunc func(Event)

// Session is one scrape exchange with one tracker. every method except
// Start's background dial runs on the engine goroutine.
type Session interface {
	ID() uint64
	Tracker() string
	Kind() Kind
	State() State
	Err() error
	Infohashes() []common.Infohash
	Has(ih common.Infohash) bool
	// CanAdd returns true while the request is not sent and there is room
	CanAdd() bool
	Add(ih common.Infohash) error
	// Start begins connecting, events are delivered via post
	Start(now time.Time, post PostFunc)
	HandleConnected(gen int, conn net.Conn, now time.Time)
	HandleReadable(gen int, data []byte, now time.Time)
	HandleError(gen int, err error, now time.Time)
	// CheckTimeout retries or fails a session that went quiet
	CheckTimeout(now time.Time)
	// Deadline is when CheckTimeout next has work to do
	Deadline() time.Time
	Results() map[common.Infohash]ScrapeStats
	Close()
}

// Dispatch routes a socket event to its session
func Dispatch(ev Event, now time.Time) {
	switch ev.Kind {
	case EventConnected:
		ev.Session.HandleConnected(ev.Gen, ev.Conn, now)
	case EventData:
		ev.Session.HandleReadable(ev.Gen, ev.Data, now)
	case EventError:
		ev.Session.HandleError(ev.Gen, ev.Err, now)
	}
}

type baseSession struct {
	id         uint64
	tracker    string
	state      State
	err        error
	requested  bool
	infohashes []common.Infohash
	results    map[common.Infohash]ScrapeStats
	post       PostFunc
	conn       net.Conn
	gen        int
	started    time.Time
	lastSeen   time.Time
}

func (s *baseSession) ID() uint64 {
	return s.id
}

func (s *baseSession) Tracker() string {
	return s.tracker
}

func (s *baseSession) State() State {
	return s.state
}

func (s *baseSession) Err() error {
	return s.err
}

func (s *baseSession) Infohashes() []common.Infohash {
	return s.infohashes
}

func (s *baseSession) Has(ih common.Infohash) bool {
	for idx := range s.infohashes {
		if s.infohashes[idx] == ih {
			return true
		}
	}
	return false
}

func (s *baseSession) CanAdd() bool {
	return !s.requested && !s.state.Done() && len(s.infohashes) < MaxInfohashesPerSession
}

func (s *baseSession) Add(ih common.Infohash) error {
	if s.requested {
		return ErrAlreadyRequested
	}
	if s.Has(ih) {
		return nil
	}
	if len(s.infohashes) >= MaxInfohashesPerSession {
		return ErrSessionFull
	}
	s.infohashes = append(s.infohashes, ih)
	return nil
}

func (s *baseSession) Results() map[common.Infohash]ScrapeStats {
	return s.results
}

func (s *baseSession) fail(err error) {
	if s.state.Done() {
		return
	}
	s.state = StateFailed
	s.err = err
	s.closeConn()
}

func (s *baseSession) finish() {
	s.state = StateFinished
	s.closeConn()
}

func (s *baseSession) closeConn() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// readLoop pumps conn into the engine until the conn fails
func readLoop(sess Session, gen int, conn net.Conn, post PostFunc, bufsize int) {
	buf := make([]byte, bufsize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			post(Event{Session: sess, Kind: EventData, Gen: gen, Data: data})
		}
		if err != nil {
			post(Event{Session: sess, Kind: EventError, Gen: gen, Err: err})
			return
		}
	}
}
