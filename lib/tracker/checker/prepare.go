package checker

import (
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/tracker"
)

const cacheSaveInterval = 5 * time.Minute

// prepare resolves external requests and runs the periodic tracker
// selection until quit
func (e *Engine) prepare() {
	selectTicker := time.NewTicker(e.cfg.SelectInterval)
	defer selectTicker.Stop()
	saveTicker := time.NewTicker(cacheSaveInterval)
	defer saveTicker.Stop()
	for {
		select {
		case <-e.quit:
			return
		case ih := <-e.requests:
			e.prepareRequest(ih)
		case <-selectTicker.C:
			e.selectTracker(time.Now())
		case <-saveTicker.C:
			if err := e.cache.Save(); err != nil {
				logger.Warnf("failed to save tracker cache: %s", err.Error())
			}
		}
	}
}

func (e *Engine) submit(req request) bool {
	select {
	case e.processed <- req:
		return true
	case <-e.quit:
		return false
	}
}

func (e *Engine) prepareRequest(ih common.Infohash) {
	id, err := e.repo.GetTorrentID(ih)
	if err != nil {
		logger.Debugf("dropping check of unknown torrent %s", ih.Hex())
		return
	}
	all, err := e.repo.GetTrackersOfTorrent(id)
	if err != nil {
		logger.Errorf("failed to get trackers of %s: %s", ih.Hex(), err.Error())
		return
	}
	var trackers []string
	for _, url := range all {
		e.cache.Add(url)
		if e.cache.ToCheck(url) {
			trackers = append(trackers, url)
		}
	}
	if len(trackers) == 0 {
		logger.Debugf("no trackers to check %s on", ih.Hex())
		return
	}
	e.submit(request{id: id, ih: ih, trackers: trackers})
}

// selectTracker picks the next tracker round robin and queues every torrent
// on it that is due and not checked within the check interval
func (e *Engine) selectTracker(now time.Time) {
	if all, err := e.repo.AllTrackers(); err == nil {
		for _, url := range all {
			e.cache.Add(url)
		}
	}
	url, ok := e.cache.NextTracker()
	if !ok || tracker.IsMarker(url) {
		return
	}
	torrents, err := e.repo.GetTorrentListOnTracker(url, now)
	if err != nil {
		logger.Errorf("failed to list torrents on %s: %s", url, err.Error())
		return
	}
	cutoff := now.Add(-e.cfg.CheckInterval).Unix()
	n := 0
	for _, t := range torrents {
		if t.LastCheck > cutoff {
			continue
		}
		if !e.submit(request{id: t.ID, ih: t.Infohash, trackers: []string{url}}) {
			return
		}
		n++
	}
	if n > 0 {
		logger.Debugf("selected %d torrents on %s", n, url)
	}
}
