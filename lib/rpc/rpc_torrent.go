package rpc

import (
	"encoding/json"
	"errors"

	"github.com/majestrate/swarmwatch/lib/common"
)

var ErrQueueFull = errors.New("check queue is full")
var ErrNoChecker = errors.New("tracker checking is disabled")

// CheckTorrentRequest queues a tracker check of one torrent
type CheckTorrentRequest struct {
	ID string
}

func (r *CheckTorrentRequest) ProcessRequest(b *Backend, w *ResponseWriter) {
	ih, err := common.DecodeInfohash(r.ID)
	if err == nil {
		if b.Checker == nil {
			err = ErrNoChecker
		} else if !b.Checker.AddRequest(ih) {
			err = ErrQueueFull
		}
	}
	w.Result(err)
}

func (r *CheckTorrentRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		ParamMethod: MethodCheckTorrent,
		ParamID:     r.ID,
	})
}

// TorrentHealthRequest returns the last known health of a torrent
type TorrentHealthRequest struct {
	ID string
}

func (r *TorrentHealthRequest) ProcessRequest(b *Backend, w *ResponseWriter) {
	ih, err := common.DecodeInfohash(r.ID)
	if err != nil {
		w.SendError(err.Error())
		return
	}
	if b.Torrents == nil {
		w.SendError(ErrNoChecker.Error())
		return
	}
	t, err := b.Torrents.GetTorrent(ih)
	if err != nil {
		w.SendError(err.Error())
		return
	}
	w.Return(map[string]interface{}{
		"id":         t.Infohash.Hex(),
		"name":       t.Name,
		"seeders":    t.Seeders,
		"leechers":   t.Leechers,
		"last_check": t.LastCheck,
		"next_check": t.NextCheck,
		"status":     string(t.Status),
	})
}

func (r *TorrentHealthRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		ParamMethod: MethodTorrentHealth,
		ParamID:     r.ID,
	})
}
