package rpc

import (
	"encoding/json"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/downloads"
	"github.com/majestrate/swarmwatch/lib/repo"
)

// Checker queues tracker checks
type Checker interface {
	AddRequest(ih common.Infohash) bool
}

// TorrentLookup reads checked torrents
type TorrentLookup interface {
	GetTorrent(ih common.Infohash) (*repo.TorrentRecord, error)
}

// FeedManager edits feed subscriptions
type FeedManager interface {
	Subscribe(key, url string)
	Unsubscribe(key, url string) bool
	Feeds(key string) []string
}

// Backend is everything the control endpoint acts on. nil members turn
// their methods into errors.
type Backend struct {
	Downloads *downloads.Registry
	Checker   Checker
	Torrents  TorrentLookup
	Feeds     FeedManager
}

type Request interface {
	// handle request on server
	ProcessRequest(b *Backend, w *ResponseWriter)
	// convert request to json
	MarshalJSON() ([]byte, error)
}

// invalidRequest answers a request that could not be decoded
type invalidRequest string

func (e invalidRequest) ProcessRequest(_ *Backend, w *ResponseWriter) {
	w.SendError(string(e))
}

func (e invalidRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"error": string(e)})
}
