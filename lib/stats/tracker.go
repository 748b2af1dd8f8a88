package stats

import (
	"io"

	"github.com/majestrate/swarmwatch/lib/sync"
	"github.com/majestrate/swarmwatch/lib/util"
	"github.com/zeebo/bencode"
)

// DefaultHistory is the number of ticks a rate remembers
const DefaultHistory = 16

// Tracker keeps a set of named rates
type Tracker struct {
	access  sync.Mutex
	history int
	rates   map[string]*util.Rate
}

func NewTracker() *Tracker {
	return &Tracker{
		history: DefaultHistory,
		rates:   make(map[string]*util.Rate),
	}
}

func (t *Tracker) NewRate(name string) {
	t.access.Lock()
	t.rates[name] = util.NewRate(t.history)
	t.access.Unlock()
}

// AddSample adds n to the current tick of a named rate, creating it on demand
func (t *Tracker) AddSample(name string, n uint64) {
	t.access.Lock()
	r, ok := t.rates[name]
	if !ok {
		r = util.NewRate(t.history)
		t.rates[name] = r
	}
	r.AddSample(n)
	t.access.Unlock()
}

// Remove forgets a named rate
func (t *Tracker) Remove(name string) {
	t.access.Lock()
	delete(t.rates, name)
	t.access.Unlock()
}

// Mean returns the per tick mean of a named rate
func (t *Tracker) Mean(name string) (m float64) {
	t.access.Lock()
	r, ok := t.rates[name]
	if ok {
		m = r.Mean()
	}
	t.access.Unlock()
	return
}

func (t *Tracker) Tick() {
	t.access.Lock()
	for _, r := range t.rates {
		r.Tick()
	}
	t.access.Unlock()
}

func (t *Tracker) BEncode(w io.Writer) (err error) {
	t.access.Lock()
	err = bencode.NewEncoder(w).Encode(t.rates)
	t.access.Unlock()
	return
}

func (t *Tracker) BDecode(r io.Reader) (err error) {
	rates := make(map[string]*util.Rate)
	err = bencode.NewDecoder(r).Decode(&rates)
	if err == nil {
		t.access.Lock()
		t.rates = rates
		t.access.Unlock()
	}
	return
}
