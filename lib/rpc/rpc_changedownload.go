package rpc

import (
	"encoding/json"
	"errors"

	"github.com/majestrate/swarmwatch/lib/common"
)

var ErrInvalidAction = errors.New("invalid download action")

// ChangeDownloadRequest pauses, resumes or removes one download
type ChangeDownloadRequest struct {
	Method string
	ID     string
}

func (r *ChangeDownloadRequest) ProcessRequest(b *Backend, w *ResponseWriter) {
	if b.Downloads == nil {
		w.SendError(ErrNoDownloads.Error())
		return
	}
	ih, err := common.DecodeInfohash(r.ID)
	if err == nil {
		switch r.Method {
		case MethodPauseDownload:
			err = b.Downloads.Pause(ih)
		case MethodResumeDownload:
			err = b.Downloads.Resume(ih)
		case MethodRemoveDownload:
			err = b.Downloads.Remove(ih)
		default:
			err = ErrInvalidAction
		}
	}
	w.Result(err)
}

func (r *ChangeDownloadRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		ParamMethod: r.Method,
		ParamID:     r.ID,
	})
}
