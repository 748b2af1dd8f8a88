package rpc

import (
	"encoding/json"
	"errors"
)

var ErrNoFeeds = errors.New("feeds are disabled")
var ErrNotSubscribed = errors.New("not subscribed")

// FeedRequest subscribes, unsubscribes or lists feeds under a key
type FeedRequest struct {
	Method string
	Key    string
	URL    string
}

func (r *FeedRequest) ProcessRequest(b *Backend, w *ResponseWriter) {
	if b.Feeds == nil {
		w.SendError(ErrNoFeeds.Error())
		return
	}
	switch r.Method {
	case MethodSubscribeFeed:
		if r.URL == "" {
			w.SendError("no url given")
			return
		}
		b.Feeds.Subscribe(r.Key, r.URL)
		w.Return(nil)
	case MethodUnsubscribeFeed:
		if b.Feeds.Unsubscribe(r.Key, r.URL) {
			w.Return(nil)
		} else {
			w.SendError(ErrNotSubscribed.Error())
		}
	case MethodListFeeds:
		feeds := b.Feeds.Feeds(r.Key)
		if feeds == nil {
			feeds = []string{}
		}
		w.Return(map[string]interface{}{"feeds": feeds})
	default:
		w.SendError("no such method " + r.Method)
	}
}

func (r *FeedRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		ParamMethod: r.Method,
		ParamKey:    r.Key,
		ParamURL:    r.URL,
	})
}
