package util

import (
	"io"
	"time"

	"github.com/zeebo/bencode"
)

// RateSample is a magnitude collected over one tick
type RateSample struct {
	N    uint64 `bencode:"n"`
	When int64  `bencode:"t"`
}

// Rate is a fixed window of per tick samples
type Rate struct {
	Samples []RateSample `bencode:"samples"`
	Idx     int          `bencode:"idx"`
}

func NewRate(window int) *Rate {
	r := &Rate{
		Samples: make([]RateSample, window),
	}
	r.Samples[0].When = time.Now().Unix()
	return r
}

func (r *Rate) BEncode(w io.Writer) error {
	return bencode.NewEncoder(w).Encode(r)
}

func (r *Rate) BDecode(rd io.Reader) error {
	return bencode.NewDecoder(rd).Decode(r)
}

// Tick starts a new sample slot, dropping the oldest one
func (r *Rate) Tick() {
	r.Idx = (r.Idx + 1) % len(r.Samples)
	r.Samples[r.Idx] = RateSample{When: time.Now().Unix()}
}

func (r *Rate) AddSample(n uint64) {
	r.Samples[r.Idx].N += n
}

func (r *Rate) Current() uint64 {
	return r.Samples[r.Idx].N
}

// Mean is the average of all complete samples per tick
func (r *Rate) Mean() float64 {
	var sum uint64
	var n int
	for idx := range r.Samples {
		if idx == r.Idx || r.Samples[idx].When == 0 {
			continue
		}
		sum += r.Samples[idx].N
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}
