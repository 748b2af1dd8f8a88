// Package overlay is a small udp overlay: a packet endpoint, a table of
// peers we heard from and one worker goroutine that runs every handler
package overlay

import (
	"context"
	"errors"
	"net"
	"sort"
	"time"

	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/sync"
)

var logger = log.For("overlay")

const DefaultPeerTimeout = 2 * time.Minute

// MaxPacketSize is the largest datagram we send or accept
const MaxPacketSize = 1472

// max trust earned from message counts
const maxEarnedTrust = 100

var ErrPacketTooBig = errors.New("packet too big")
var ErrClosed = errors.New("endpoint closed")

// Handler gets every packet, it runs on the worker
type Handler func(from string, data []byte)

// TrustFunc scores a peer, higher is better
type TrustFunc func(peer string) float64

type peer struct {
	addr      *net.UDPAddr
	lastHeard time.Time
	valid     int
	bootstrap bool
	trust     float64
}

type Config struct {
	PeerTimeout time.Duration
	// size of the worker mailbox
	Backlog int
}

// Endpoint owns the socket and the peer table
type Endpoint struct {
	cfg     Config
	conn    net.PacketConn
	handler Handler
	trust   TrustFunc
	tasks   chan func()
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	access sync.Mutex
	peers  map[string]*peer
	now    func() time.Time
}

// New wraps a bound packet conn
func New(conn net.PacketConn, cfg Config) *Endpoint {
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = DefaultPeerTimeout
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 1024
	}
	e := &Endpoint{
		cfg:   cfg,
		conn:  conn,
		tasks: make(chan func(), cfg.Backlog),
		quit:  make(chan struct{}),
		peers: make(map[string]*peer),
		now:   time.Now,
	}
	e.trust = e.defaultTrust
	return e
}

// Listen binds a udp endpoint on addr
func Listen(addr string, cfg Config) (*Endpoint, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn, cfg), nil
}

func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// SetHandler sets the packet handler, call before Run
func (e *Endpoint) SetHandler(h Handler) {
	e.handler = h
}

// SetTrust replaces the trust function
func (e *Endpoint) SetTrust(fn TrustFunc) {
	e.trust = fn
}

// AddBootstrap adds a peer that is always considered connected
func (e *Endpoint) AddBootstrap(addr string, trust float64) error {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	e.access.Lock()
	e.peers[ua.String()] = &peer{addr: ua, bootstrap: true, trust: trust}
	e.access.Unlock()
	return nil
}

// heard records a packet from addr
func (e *Endpoint) heard(addr *net.UDPAddr) string {
	key := addr.String()
	e.access.Lock()
	p, ok := e.peers[key]
	if !ok {
		p = &peer{addr: addr}
		e.peers[key] = p
	}
	p.lastHeard = e.now()
	e.access.Unlock()
	return key
}

// MarkValid credits a peer with one well formed message
func (e *Endpoint) MarkValid(addr string) {
	e.access.Lock()
	if p, ok := e.peers[addr]; ok && p.valid < maxEarnedTrust {
		p.valid++
	}
	e.access.Unlock()
}

// Trust scores a peer with the configured trust function
func (e *Endpoint) Trust(addr string) float64 {
	return e.trust(addr)
}

// defaultTrust is the static trust of a bootstrap peer plus the count of
// valid messages received
func (e *Endpoint) defaultTrust(addr string) float64 {
	e.access.Lock()
	defer e.access.Unlock()
	p, ok := e.peers[addr]
	if !ok {
		return 0
	}
	return p.trust + float64(p.valid)
}

// Peers returns the connected peers sorted by address
func (e *Endpoint) Peers() (l []string) {
	now := e.now()
	e.access.Lock()
	for key, p := range e.peers {
		if p.bootstrap || now.Sub(p.lastHeard) < e.cfg.PeerTimeout {
			l = append(l, key)
		} else {
			delete(e.peers, key)
		}
	}
	e.access.Unlock()
	sort.Strings(l)
	return
}

// Send writes one datagram to a peer
func (e *Endpoint) Send(addr string, data []byte) error {
	if len(data) > MaxPacketSize {
		return ErrPacketTooBig
	}
	e.access.Lock()
	p, ok := e.peers[addr]
	e.access.Unlock()
	var ua *net.UDPAddr
	if ok {
		ua = p.addr
	} else {
		var err error
		ua, err = net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return err
		}
	}
	_, err := e.conn.WriteTo(data, ua)
	return err
}

// Post runs fn on the worker. returns false once closed.
func (e *Endpoint) Post(fn func()) bool {
	select {
	case <-e.quit:
		return false
	default:
	}
	select {
	case e.tasks <- fn:
		return true
	case <-e.quit:
		return false
	}
}

// Every posts fn to the worker every d until closed
func (e *Endpoint) Every(d time.Duration, fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if !e.Post(fn) {
					return
				}
			case <-e.quit:
				return
			}
		}
	}()
}

func (e *Endpoint) readLoop() {
	defer e.wg.Done()
	buf := make([]byte, MaxPacketSize+1)
	for {
		n, from, err := e.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-e.quit:
			default:
				logger.Errorf("read failed: %s", err.Error())
				e.Close()
			}
			return
		}
		ua, ok := from.(*net.UDPAddr)
		if !ok || n == 0 || n > MaxPacketSize {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		key := e.heard(ua)
		if e.handler == nil {
			continue
		}
		h := e.handler
		e.Post(func() { h(key, data) })
	}
}

func (e *Endpoint) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("handler panic: %v", r)
		}
	}()
	fn()
}

// Run reads packets and runs the worker until ctx is done or Close
func (e *Endpoint) Run(ctx context.Context) error {
	e.wg.Add(1)
	go e.readLoop()
	for {
		select {
		case <-ctx.Done():
			e.Close()
			return nil
		case <-e.quit:
			return nil
		case fn := <-e.tasks:
			e.run(fn)
		}
	}
}

// Close stops the worker and closes the socket
func (e *Endpoint) Close() error {
	var err error
	e.once.Do(func() {
		close(e.quit)
		err = e.conn.Close()
	})
	return err
}

// Wait blocks until the reader and recurring tasks are gone
func (e *Endpoint) Wait() {
	e.wg.Wait()
}
