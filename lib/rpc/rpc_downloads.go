package rpc

import (
	"encoding/json"
	"errors"

	"github.com/majestrate/swarmwatch/lib/downloads"
)

var ErrNoDownloads = errors.New("downloads are not available")

// BulkRequest is a method on every download at once
type BulkRequest struct {
	Method string
}

func (r *BulkRequest) ProcessRequest(b *Backend, w *ResponseWriter) {
	if b.Downloads == nil {
		w.SendError(ErrNoDownloads.Error())
		return
	}
	switch r.Method {
	case MethodGetAllDownloads:
		list := b.Downloads.List()
		if list == nil {
			list = []downloads.Status{}
		}
		w.Return(map[string]interface{}{"downloads": list})
	case MethodPauseAll:
		w.Return(map[string]interface{}{"count": b.Downloads.PauseAll()})
	case MethodResumeAll:
		w.Return(map[string]interface{}{"count": b.Downloads.ResumeAll()})
	case MethodRemoveAll:
		w.Return(map[string]interface{}{"count": b.Downloads.RemoveAll()})
	default:
		w.SendError("no such method " + r.Method)
	}
}

func (r *BulkRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		ParamMethod: r.Method,
	})
}

type SpeedInfoRequest struct{}

func (r *SpeedInfoRequest) ProcessRequest(b *Backend, w *ResponseWriter) {
	if b.Downloads == nil {
		w.SendError(ErrNoDownloads.Error())
		return
	}
	speed := b.Downloads.SpeedInfo()
	w.Return(map[string]interface{}{
		"downspeed": speed.Down,
		"upspeed":   speed.Up,
	})
}

func (r *SpeedInfoRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		ParamMethod: MethodGetSpeedInfo,
	})
}
