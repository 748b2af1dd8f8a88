// Package checker multiplexes tracker scrape sessions over the torrents in
// the repository and commits their health
package checker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/repo"
	"github.com/majestrate/swarmwatch/lib/tracker"
	"github.com/majestrate/swarmwatch/lib/tracker/infocache"
)

var logger = log.For("checker")

// Repository is the part of the content repository the engine uses
type Repository interface {
	GetTorrentID(ih common.Infohash) (int64, error)
	GetTorrent(ih common.Infohash) (*repo.TorrentRecord, error)
	GetTrackersOfTorrent(id int64) ([]string, error)
	GetTorrentListOnTracker(url string, now time.Time) ([]repo.TrackedTorrent, error)
	AllTrackers() ([]string, error)
	UpdateTorrentCheckResult(id int64, ih common.Infohash, seeders, leechers, lastCheck, nextCheck int64, status repo.Status, retries int) error
}

// request is a check with its torrent id and trackers resolved
type request struct {
	id       int64
	ih       common.Infohash
	trackers []string
}

// Engine owns every live tracker session
type Engine struct {
	cfg   Config
	repo  Repository
	cache *infocache.Cache
	txids *tracker.TxIDRegistry

	requests  chan common.Infohash
	processed chan request
	events    chan tracker.Event
	quit      chan struct{}

	// engine goroutine only
	sessions []tracker.Session
	pending  map[common.Infohash]*pending
	nextID   uint64

	live atomic.Int64
}

func New(cfg Config, r Repository, cache *infocache.Cache) *Engine {
	cfg.setDefaults()
	return &Engine{
		cfg:       cfg,
		repo:      r,
		cache:     cache,
		txids:     tracker.NewTxIDRegistry(),
		requests:  make(chan common.Infohash, cfg.QueueSize),
		processed: make(chan request, cfg.QueueSize),
		events:    make(chan tracker.Event, 256),
		quit:      make(chan struct{}),
		pending:   make(map[common.Infohash]*pending),
	}
}

// TxIDs is the transaction id registry shared by this engine's udp sessions
func (e *Engine) TxIDs() *tracker.TxIDRegistry {
	return e.txids
}

// LiveSessions returns how many sessions are open right now
func (e *Engine) LiveSessions() int {
	return int(e.live.Load())
}

// AddRequest queues a check of one torrent. returns false if the queue is
// full.
func (e *Engine) AddRequest(ih common.Infohash) bool {
	select {
	case e.requests <- ih:
		return true
	default:
		return false
	}
}

func (e *Engine) post(ev tracker.Event) {
	select {
	case e.events <- ev:
	case <-e.quit:
		if ev.Conn != nil {
			ev.Conn.Close()
		}
	}
}

// Run drives the engine until ctx is done
func (e *Engine) Run(ctx context.Context) error {
	trackers, err := e.repo.AllTrackers()
	if err != nil {
		logger.Errorf("failed to list trackers: %s", err.Error())
	}
	for _, url := range trackers {
		e.cache.Add(url)
	}
	done := make(chan struct{})
	go func() {
		e.prepare()
		close(done)
	}()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		e.resetTimer(timer, time.Now())
		select {
		case <-ctx.Done():
			close(e.quit)
			<-done
			e.shutdown()
			return nil
		case req := <-e.processed:
			e.step(func(now time.Time) { e.handleRequest(req, now) })
		case ev := <-e.events:
			e.step(func(now time.Time) { tracker.Dispatch(ev, now) })
		case <-timer.C:
			e.step(e.checkTimeouts)
		}
	}
}

// step runs one unit of work then reaps finished sessions. a panic is
// logged and the loop goes on.
func (e *Engine) step(fn func(now time.Time)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("engine step panic: %v", r)
		}
	}()
	now := time.Now()
	fn(now)
	e.reap(now)
}

func (e *Engine) resetTimer(timer *time.Timer, now time.Time) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	d := time.Hour
	for _, s := range e.sessions {
		if s.State().Done() {
			continue
		}
		if left := s.Deadline().Sub(now); left < d {
			d = left
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	timer.Reset(d)
}

func (e *Engine) checkTimeouts(now time.Time) {
	for _, s := range e.sessions {
		s.CheckTimeout(now)
	}
}

func (e *Engine) newSession(url string) (s tracker.Session, err error) {
	e.nextID++
	switch tracker.KindOf(url) {
	case tracker.KindHTTP:
		s, err = tracker.NewHTTPSession(e.nextID, url, e.cfg.HTTPTimeout)
	case tracker.KindUDP:
		s, err = tracker.NewUDPSession(e.nextID, url, e.txids, e.cfg.UDPRetryInterval, e.cfg.UDPMaxRetries)
	default:
		err = tracker.ErrBadTrackerURL
	}
	return
}

// handleRequest places one infohash into a session per tracker
func (e *Engine) handleRequest(req request, now time.Time) {
	p, ok := e.pending[req.ih]
	if !ok {
		p = &pending{id: req.id}
	}
	for _, url := range req.trackers {
		var target tracker.Session
		satisfied := false
		for _, s := range e.sessions {
			if s.Tracker() != url || s.State().Done() {
				continue
			}
			if s.Has(req.ih) {
				satisfied = true
				break
			}
			if target == nil && s.CanAdd() {
				target = s
			}
		}
		if satisfied {
			continue
		}
		if target == nil {
			s, err := e.newSession(url)
			if err != nil {
				logger.Warnf("cannot scrape %s: %s", url, err.Error())
				continue
			}
			e.sessions = append(e.sessions, s)
			e.live.Add(1)
			s.Start(now, e.post)
			target = s
		}
		if err := target.Add(req.ih); err != nil {
			logger.Warnf("session %d: %s", target.ID(), err.Error())
			continue
		}
		p.remaining++
	}
	if p.remaining > 0 {
		e.pending[req.ih] = p
	}
}

// reap closes finished sessions, updates the info cache and commits
// infohashes with no sessions left
func (e *Engine) reap(now time.Time) {
	live := e.sessions[:0]
	var done []tracker.Session
	for _, s := range e.sessions {
		if s.State().Done() {
			done = append(done, s)
		} else {
			live = append(live, s)
		}
	}
	for idx := len(live); idx < len(e.sessions); idx++ {
		e.sessions[idx] = nil
	}
	e.sessions = live
	for _, s := range done {
		ok := s.State() == tracker.StateFinished
		if ok {
			e.cache.MarkSuccess(s.Tracker())
		} else {
			logger.Debugf("session %d to %s failed: %v", s.ID(), s.Tracker(), s.Err())
			e.cache.MarkFailure(s.Tracker())
		}
		s.Close()
		e.live.Add(-1)
		results := s.Results()
		for _, ih := range s.Infohashes() {
			p, has := e.pending[ih]
			if !has {
				continue
			}
			if ok {
				p.offer(results[ih])
			}
			p.remaining--
			if p.remaining == 0 {
				delete(e.pending, ih)
				e.commit(ih, p, now)
			}
		}
	}
}

func (e *Engine) commit(ih common.Infohash, p *pending, now time.Time) {
	retries := 0
	if rec, err := e.repo.GetTorrent(ih); err == nil {
		retries = rec.Retries
	}
	status, retries := transition(p.seeders, p.leechers, retries, e.cfg.MaxRetries)
	next := nextCheck(now, e.cfg.RetryBase, retries, e.cfg.MaxRetries)
	res := Result{
		TorrentID: p.id,
		Infohash:  ih,
		Seeders:   p.seeders,
		Leechers:  p.leechers,
		LastCheck: now.Unix(),
		NextCheck: next.Unix(),
		Status:    status,
		Retries:   retries,
	}
	err := e.repo.UpdateTorrentCheckResult(res.TorrentID, ih, res.Seeders, res.Leechers, res.LastCheck, res.NextCheck, status, retries)
	if err != nil {
		logger.Errorf("failed to store check of %s: %s", ih.Hex(), err.Error())
		return
	}
	logger.Debugf("%s: seeders=%d leechers=%d status=%s", ih.Hex(), res.Seeders, res.Leechers, status)
	if e.cfg.OnResult != nil {
		e.cfg.OnResult(res)
	}
}

// shutdown cancels every session without touching the info cache
func (e *Engine) shutdown() {
	for _, s := range e.sessions {
		s.Close()
	}
	e.live.Store(0)
	e.sessions = nil
	e.pending = make(map[common.Infohash]*pending)
	if err := e.cache.Save(); err != nil {
		logger.Errorf("failed to save tracker cache: %s", err.Error())
	}
	logger.Infof("stopped")
}
