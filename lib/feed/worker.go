// Package feed polls rss and atom feeds for new torrents
package feed

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/metainfo"
	"github.com/majestrate/swarmwatch/lib/sync"
	"github.com/majestrate/swarmwatch/lib/urlhistory"
	"github.com/majestrate/swarmwatch/lib/version"
	"golang.org/x/time/rate"
)

var logger = log.For("feeds")

const DefaultReloadInterval = 15 * time.Minute
const DefaultCheckInterval = 2 * time.Second
const DefaultFetchTimeout = 30 * time.Second

const maxFeedSize = 4 << 20
const maxTorrentSize = 8 << 20
const maxThumbnailSize = 1 << 20

var ErrBadContentType = errors.New("enclosure is not a torrent")
var ErrHTTPStatus = errors.New("unexpected http status")

// content types that are never torrent payloads
var rejectedTypes = map[string]bool{
	"text/html":            true,
	"text/xml":             true,
	"application/xml":      true,
	"application/rss+xml":  true,
	"application/atom+xml": true,
}

// Extra describes where a torrent came from
type Extra struct {
	Feed          string
	Enclosure     string
	Title         string
	Description   string
	Thumbnail     []byte
	ThumbnailType string
}

// Callback receives every new torrent found on feeds subscribed under key
type Callback func(key string, tf *metainfo.TorrentFile, extra Extra)

// Repository is where discovered torrents are stored
type Repository interface {
	HasTorrent(ih common.Infohash) bool
	AddTorrent(tf *metainfo.TorrentFile, raw []byte, source string) (int64, error)
}

type Config struct {
	// directory holding subscriptions.txt and the history files
	Dir            string
	ReloadInterval time.Duration
	// pause between enclosures of one feed
	CheckInterval time.Duration
	FetchTimeout  time.Duration
	HistoryTTL    time.Duration
}

// Worker is the single feed ingestion worker
type Worker struct {
	cfg     Config
	repo    Repository
	client  *http.Client
	limiter *rate.Limiter
	changed chan struct{}

	access    sync.Mutex
	subs      map[string]Subscription
	callbacks map[string]Callback
}

func New(cfg Config, r Repository) *Worker {
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = DefaultReloadInterval
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = urlhistory.DefaultTTL
	}
	return &Worker{
		cfg:       cfg,
		repo:      r,
		client:    &http.Client{Timeout: cfg.FetchTimeout},
		limiter:   rate.NewLimiter(rate.Every(cfg.CheckInterval), 1),
		changed:   make(chan struct{}, 1),
		subs:      make(map[string]Subscription),
		callbacks: make(map[string]Callback),
	}
}

func (w *Worker) subscriptionsFile() string {
	return filepath.Join(w.cfg.Dir, "subscriptions.txt")
}

// HistoryFile is the url history of one feed
func (w *Worker) HistoryFile(feedURL string) string {
	d := sha1.Sum([]byte(feedURL))
	return filepath.Join(w.cfg.Dir, "history", hex.EncodeToString(d[:])+".txt")
}

// Load reads subscriptions.txt. An unreadable file is logged and the worker
// starts with no feeds.
func (w *Worker) Load() {
	subs, err := readSubscriptions(w.subscriptionsFile())
	if err != nil {
		logger.Errorf("failed to read subscriptions: %s", err.Error())
		return
	}
	w.access.Lock()
	w.subs = subs
	w.access.Unlock()
	logger.Infof("loaded %d feeds", len(subs))
}

func (w *Worker) save() {
	w.access.Lock()
	err := writeSubscriptions(w.subscriptionsFile(), w.subs)
	w.access.Unlock()
	if err != nil {
		logger.Errorf("failed to write subscriptions: %s", err.Error())
	}
}

func (w *Worker) notify() {
	select {
	case w.changed <- struct{}{}:
	default:
	}
}

// Subscribe adds or reactivates a feed under key
func (w *Worker) Subscribe(key, url string) {
	w.access.Lock()
	w.subs[url] = Subscription{URL: url, Key: key, Active: true}
	w.access.Unlock()
	w.save()
	w.notify()
}

// Unsubscribe removes a feed, the key must match
func (w *Worker) Unsubscribe(key, url string) (removed bool) {
	w.access.Lock()
	s, ok := w.subs[url]
	if ok && s.Key == key {
		delete(w.subs, url)
		removed = true
	}
	w.access.Unlock()
	if removed {
		w.save()
		w.notify()
	}
	return
}

// SetActive pauses or resumes polling of a feed without forgetting it
func (w *Worker) SetActive(url string, active bool) bool {
	w.access.Lock()
	s, ok := w.subs[url]
	if ok {
		s.Active = active
		w.subs[url] = s
	}
	w.access.Unlock()
	if ok {
		w.save()
		w.notify()
	}
	return ok
}

// Feeds returns the urls subscribed under key
func (w *Worker) Feeds(key string) (urls []string) {
	w.access.Lock()
	for u, s := range w.subs {
		if s.Key == key {
			urls = append(urls, u)
		}
	}
	w.access.Unlock()
	return
}

func (w *Worker) RegisterCallback(key string, cb Callback) {
	w.access.Lock()
	w.callbacks[key] = cb
	w.access.Unlock()
	w.notify()
}

// Run polls every feed each reload interval or when subscriptions change
func (w *Worker) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-w.changed:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		w.Poll(ctx)
		timer.Reset(w.cfg.ReloadInterval)
	}
}

// Poll checks every active feed that has a callback once
func (w *Worker) Poll(ctx context.Context) {
	type job struct {
		sub Subscription
		cb  Callback
	}
	var jobs []job
	w.access.Lock()
	for _, s := range w.subs {
		if cb, ok := w.callbacks[s.Key]; ok && s.Active {
			jobs = append(jobs, job{s, cb})
		}
	}
	w.access.Unlock()
	for _, j := range jobs {
		if ctx.Err() != nil {
			return
		}
		w.pollFeed(ctx, j.sub, j.cb)
	}
}

func (w *Worker) pollFeed(ctx context.Context, sub Subscription, cb Callback) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("feed %s: %v", sub.URL, r)
		}
	}()
	hist := urlhistory.New(w.HistoryFile(sub.URL), w.cfg.HistoryTTL)
	if err := hist.Read(); err != nil {
		logger.Warnf("history of %s: %s", sub.URL, err.Error())
	}
	body, _, err := w.fetch(ctx, sub.URL, maxFeedSize)
	if err != nil {
		logger.Warnf("failed to fetch feed %s: %s", sub.URL, err.Error())
		return
	}
	f, err := Parse(bytes.NewReader(body))
	if err != nil {
		logger.Warnf("failed to parse feed %s: %s", sub.URL, err.Error())
		return
	}
	for _, item := range f.Items {
		for _, link := range item.Links {
			if hist.Contains(link) {
				continue
			}
			if err = hist.AddAndWrite(link); err != nil {
				logger.Warnf("failed to write history of %s: %s", sub.URL, err.Error())
			}
			if err = w.limiter.Wait(ctx); err != nil {
				return
			}
			w.handleEnclosure(ctx, sub, cb, item, link)
		}
	}
}

func (w *Worker) handleEnclosure(ctx context.Context, sub Subscription, cb Callback, item Item, link string) {
	raw, ctype, err := w.fetch(ctx, link, maxTorrentSize)
	if err != nil {
		logger.Debugf("skip enclosure %s: %s", link, err.Error())
		return
	}
	if rejectedTypes[ctype] {
		logger.Debugf("skip enclosure %s: %s", link, ErrBadContentType.Error())
		return
	}
	tf, err := metainfo.Parse(raw)
	if err != nil {
		logger.Debugf("skip enclosure %s: %s", link, err.Error())
		return
	}
	ih := tf.Infohash()
	if w.repo.HasTorrent(ih) {
		logger.Debugf("already have %s from %s", ih.Hex(), link)
		return
	}
	if _, err = w.repo.AddTorrent(tf, raw, "feed:"+sub.URL); err != nil {
		logger.Errorf("failed to store %s: %s", ih.Hex(), err.Error())
		return
	}
	extra := Extra{
		Feed:        sub.URL,
		Enclosure:   link,
		Title:       item.Title,
		Description: item.Description,
	}
	if item.Thumbnail != "" {
		data, mtype, err := w.fetch(ctx, item.Thumbnail, maxThumbnailSize)
		if err == nil && len(data) > 0 {
			extra.Thumbnail = data
			extra.ThumbnailType = mtype
		}
	}
	logger.Infof("new torrent %s %q from %s", ih.Hex(), item.Title, sub.URL)
	cb(sub.Key, tf, extra)
}

// fetch does a bounded GET, returning the body and its media type
func (w *Worker) fetch(ctx context.Context, url string, limit int64) (body []byte, mediaType string, err error) {
	var req *http.Request
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", version.UserAgent())
	var resp *http.Response
	resp, err = w.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
		return
	}
	mediaType, _, _ = mime.ParseMediaType(resp.Header.Get("Content-Type"))
	body, err = io.ReadAll(io.LimitReader(resp.Body, limit))
	return
}
