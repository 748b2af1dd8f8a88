// Package downloads keeps the downloads the web ui controls. Moving bytes
// is up to the download engine, which reports progress and transfer here.
package downloads

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/stats"
	"github.com/majestrate/swarmwatch/lib/sync"
	"github.com/majestrate/swarmwatch/lib/util"
	"github.com/zeebo/bencode"
)

var logger = log.For("downloads")

var ErrNoDownload = errors.New("no such download")

type State string

const Downloading = State("downloading")
const Paused = State("paused")
const Seeding = State("seeding")

func (s State) String() string {
	return string(s)
}

// rate names in the stats tracker
const rateDown = "down"
const rateUp = "up"

func rateName(dir string, ih common.Infohash) string {
	return dir + ":" + ih.Hex()
}

// Download is one registered download
type Download struct {
	access   sync.Mutex
	infohash common.Infohash
	name     string
	length   int64
	state    State
	progress float64
	added    time.Time
}

func (d *Download) Infohash() common.Infohash {
	return d.infohash
}

// Status is a snapshot of a download
type Status struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Length   int64   `json:"length"`
	Status   State   `json:"status"`
	Progress float64 `json:"progress"`
	// bytes per second
	Download float64 `json:"download"`
	Upload   float64 `json:"upload"`
	Added    int64   `json:"added"`
}

// SpeedInfo is the total transfer rate in bytes per second
type SpeedInfo struct {
	Down float64 `json:"downspeed"`
	Up   float64 `json:"upspeed"`
}

// Registry holds every download
type Registry struct {
	downloads sync.Map
	stats     *stats.Tracker
	// length of one stats tick
	tick time.Duration
	now  func() time.Time
}

func New() *Registry {
	return &Registry{
		stats: stats.NewTracker(),
		tick:  time.Second,
		now:   time.Now,
	}
}

// Add registers a download, it starts in the downloading state. returns
// false if ih is already registered.
func (r *Registry) Add(ih common.Infohash, name string, length int64) bool {
	d := &Download{
		infohash: ih,
		name:     name,
		length:   length,
		state:    Downloading,
		added:    r.now(),
	}
	_, loaded := r.downloads.LoadOrStore(ih.Hex(), d)
	if !loaded {
		logger.Infof("added download %s (%s)", name, ih.Hex())
	}
	return !loaded
}

// VisitDownload calls visit with the download for ih or nil
func (r *Registry) VisitDownload(ih common.Infohash, visit func(*Download)) {
	v, ok := r.downloads.Load(ih.Hex())
	if ok {
		visit(v.(*Download))
	} else {
		visit(nil)
	}
}

// ForEachDownload calls visit on every download
func (r *Registry) ForEachDownload(visit func(*Download)) {
	r.downloads.Range(func(_, v interface{}) bool {
		visit(v.(*Download))
		return true
	})
}

func (r *Registry) change(ih common.Infohash, fn func(*Download)) (err error) {
	r.VisitDownload(ih, func(d *Download) {
		if d == nil {
			err = ErrNoDownload
			return
		}
		d.access.Lock()
		fn(d)
		d.access.Unlock()
	})
	return
}

func (d *Download) pause() {
	d.state = Paused
}

func (d *Download) resume() {
	if d.state != Paused {
		return
	}
	if d.progress >= 1 {
		d.state = Seeding
	} else {
		d.state = Downloading
	}
}

func (r *Registry) Pause(ih common.Infohash) error {
	return r.change(ih, (*Download).pause)
}

func (r *Registry) Resume(ih common.Infohash) error {
	return r.change(ih, (*Download).resume)
}

// Remove forgets a download and its rates
func (r *Registry) Remove(ih common.Infohash) error {
	_, ok := r.downloads.LoadAndDelete(ih.Hex())
	if !ok {
		return ErrNoDownload
	}
	r.stats.Remove(rateName(rateDown, ih))
	r.stats.Remove(rateName(rateUp, ih))
	logger.Infof("removed download %s", ih.Hex())
	return nil
}

// PauseAll pauses every download and returns how many there are
func (r *Registry) PauseAll() (n int) {
	r.ForEachDownload(func(d *Download) {
		d.access.Lock()
		d.pause()
		d.access.Unlock()
		n++
	})
	return
}

func (r *Registry) ResumeAll() (n int) {
	r.ForEachDownload(func(d *Download) {
		d.access.Lock()
		d.resume()
		d.access.Unlock()
		n++
	})
	return
}

func (r *Registry) RemoveAll() (n int) {
	r.ForEachDownload(func(d *Download) {
		if r.Remove(d.infohash) == nil {
			n++
		}
	})
	return
}

// SetProgress records how much of a download is complete, 1 is done
func (r *Registry) SetProgress(ih common.Infohash, progress float64) error {
	return r.change(ih, func(d *Download) {
		d.progress = min(max(progress, 0), 1)
		if d.progress >= 1 && d.state == Downloading {
			d.state = Seeding
		}
	})
}

// Transferred adds bytes moved for a download in the current tick
func (r *Registry) Transferred(ih common.Infohash, down, up uint64) error {
	var known bool
	r.VisitDownload(ih, func(d *Download) {
		known = d != nil
	})
	if !known {
		return ErrNoDownload
	}
	r.stats.AddSample(rateName(rateDown, ih), down)
	r.stats.AddSample(rateName(rateUp, ih), up)
	r.stats.AddSample(rateDown, down)
	r.stats.AddSample(rateUp, up)
	return nil
}

func (r *Registry) perSecond(name string) float64 {
	return r.stats.Mean(name) / r.tick.Seconds()
}

func (r *Registry) status(d *Download) Status {
	d.access.Lock()
	defer d.access.Unlock()
	return Status{
		ID:       d.infohash.Hex(),
		Name:     d.name,
		Length:   d.length,
		Status:   d.state,
		Progress: d.progress,
		Download: r.perSecond(rateName(rateDown, d.infohash)),
		Upload:   r.perSecond(rateName(rateUp, d.infohash)),
		Added:    d.added.Unix(),
	}
}

// Status returns a snapshot of one download
func (r *Registry) Status(ih common.Infohash) (st Status, err error) {
	r.VisitDownload(ih, func(d *Download) {
		if d == nil {
			err = ErrNoDownload
		} else {
			st = r.status(d)
		}
	})
	return
}

// List returns every download, oldest first
func (r *Registry) List() (l []Status) {
	r.ForEachDownload(func(d *Download) {
		l = append(l, r.status(d))
	})
	sort.Slice(l, func(i, j int) bool {
		if l[i].Added == l[j].Added {
			return l[i].ID < l[j].ID
		}
		return l[i].Added < l[j].Added
	})
	return
}

func (r *Registry) SpeedInfo() SpeedInfo {
	return SpeedInfo{
		Down: r.perSecond(rateDown),
		Up:   r.perSecond(rateUp),
	}
}

// Tick closes the current stats slot
func (r *Registry) Tick() {
	r.stats.Tick()
}

// Run ticks the rates until ctx is done
func (r *Registry) Run(ctx context.Context) error {
	t := time.NewTicker(r.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.Tick()
		}
	}
}

type savedDownload struct {
	Name   string `bencode:"name"`
	Length int64  `bencode:"length"`
	State  string `bencode:"state"`
	// parts per million
	Progress int64 `bencode:"progress"`
	Added    int64 `bencode:"added"`
}

const progressScale = 1000000

// Save writes the registry to fpath
func (r *Registry) Save(fpath string) error {
	saved := make(map[string]savedDownload)
	r.ForEachDownload(func(d *Download) {
		d.access.Lock()
		saved[d.infohash.Hex()] = savedDownload{
			Name:     d.name,
			Length:   d.length,
			State:    string(d.state),
			Progress: int64(d.progress * progressScale),
			Added:    d.added.Unix(),
		}
		d.access.Unlock()
	})
	var buf bytes.Buffer
	if err := bencode.NewEncoder(&buf).Encode(saved); err != nil {
		return err
	}
	return util.WriteFileAtomic(fpath, buf.Bytes())
}

// Load restores downloads saved with Save. A missing file is not an error.
func (r *Registry) Load(fpath string) error {
	data, err := os.ReadFile(fpath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	saved := make(map[string]savedDownload)
	if err = bencode.DecodeBytes(data, &saved); err != nil {
		return err
	}
	for hex, s := range saved {
		ih, err := common.DecodeInfohash(hex)
		if err != nil {
			logger.Warnf("skipping saved download %q", hex)
			continue
		}
		state := State(s.State)
		switch state {
		case Downloading, Paused, Seeding:
		default:
			state = Paused
		}
		r.downloads.Store(ih.Hex(), &Download{
			infohash: ih,
			name:     s.Name,
			length:   s.Length,
			state:    state,
			progress: float64(s.Progress) / progressScale,
			added:    time.Unix(s.Added, 0),
		})
	}
	return nil
}
