// Package urlhistory remembers which links a feed already produced so old
// enclosures are skipped until their entry expires.
package urlhistory

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/majestrate/swarmwatch/lib/sync"
	"github.com/majestrate/swarmwatch/lib/util"
)

// DefaultTTL is how long a seen link stays seen
const DefaultTTL = 7 * 24 * time.Hour

var sessionIDRe = regexp.MustCompile(`(?i);[a-z]*sessionid=[^?#;]*`)

// links with these extensions are never torrents
var uninteresting = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".ico", ".css", ".js"}

// Canonical strips session ids embedded in the url path
func Canonical(u string) string {
	return sessionIDRe.ReplaceAllString(strings.TrimSpace(u), "")
}

// Uninteresting returns true for links that are assumed seen without storing
func Uninteresting(u string) bool {
	p := strings.ToLower(u)
	if idx := strings.IndexAny(p, "?#"); idx >= 0 {
		p = p[:idx]
	}
	for _, ext := range uninteresting {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// History is the set of seen links for one feed
type History struct {
	fpath   string
	ttl     time.Duration
	access  sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// New creates an empty history backed by the file at fpath
func New(fpath string, ttl time.Duration) *History {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &History{
		fpath:   fpath,
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (h *History) live(ts, now time.Time) bool {
	return ts.Add(h.ttl).After(now)
}

// Add records u as seen now
func (h *History) Add(u string) {
	if Uninteresting(u) {
		return
	}
	c := Canonical(u)
	h.access.Lock()
	h.entries[c] = h.now()
	h.access.Unlock()
}

// AddAndWrite records u and writes the history through to disk
func (h *History) AddAndWrite(u string) error {
	h.Add(u)
	return h.Write()
}

// Contains returns true if u was seen within the ttl
func (h *History) Contains(u string) bool {
	if Uninteresting(u) {
		return true
	}
	c := Canonical(u)
	h.access.Lock()
	defer h.access.Unlock()
	ts, ok := h.entries[c]
	return ok && h.live(ts, h.now())
}

func (h *History) Len() int {
	h.access.Lock()
	defer h.access.Unlock()
	return len(h.entries)
}

// Read loads the history file, a missing file is an empty history
func (h *History) Read() error {
	data, err := os.ReadFile(h.fpath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	now := h.now()
	h.access.Lock()
	defer h.access.Unlock()
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		idx := strings.IndexByte(line, ' ')
		if idx <= 0 || idx == len(line)-1 {
			continue
		}
		f, e := strconv.ParseFloat(line[:idx], 64)
		if e != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			continue
		}
		sec, frac := math.Modf(f)
		ts := time.Unix(int64(sec), int64(frac*1e9))
		if !h.live(ts, now) {
			continue
		}
		u := Canonical(line[idx+1:])
		if old, ok := h.entries[u]; !ok || old.Before(ts) {
			h.entries[u] = ts
		}
	}
	return sc.Err()
}

// Write drops expired entries and replaces the history file
func (h *History) Write() error {
	now := h.now()
	type entry struct {
		u  string
		ts time.Time
	}
	var list []entry
	h.access.Lock()
	for u, ts := range h.entries {
		if !h.live(ts, now) {
			delete(h.entries, u)
			continue
		}
		if ts.After(now) {
			ts = now
		}
		list = append(list, entry{u, ts})
	}
	h.access.Unlock()
	sort.Slice(list, func(i, j int) bool {
		if list[i].ts.Equal(list[j].ts) {
			return list[i].u < list[j].u
		}
		return list[i].ts.Before(list[j].ts)
	})
	var buf bytes.Buffer
	for _, e := range list {
		fmt.Fprintf(&buf, "%d %s\r\n", e.ts.Unix(), e.u)
	}
	return util.WriteFileAtomic(h.fpath, buf.Bytes())
}
