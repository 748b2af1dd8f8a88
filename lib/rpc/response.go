package rpc

import (
	"encoding/json"
	"net/http"
)

const RPCContentType = "application/json; charset=UTF-8"

const successTrue = "true"
const successFalse = "false"

type ResponseWriter struct {
	w http.ResponseWriter
}

func (rw *ResponseWriter) SendJSON(obj interface{}) {
	json.NewEncoder(rw.w).Encode(obj)
}

func (rw *ResponseWriter) SendError(msg string) {
	rw.SendJSON(map[string]string{
		"success": successFalse,
		"error":   msg,
	})
}

// Return sends a successful response with the fields of obj
func (rw *ResponseWriter) Return(obj map[string]interface{}) {
	if obj == nil {
		obj = make(map[string]interface{})
	}
	obj["success"] = successTrue
	rw.SendJSON(obj)
}

// Result sends err as a failure or an empty success
func (rw *ResponseWriter) Result(err error) {
	if err == nil {
		rw.Return(nil)
	} else {
		rw.SendError(err.Error())
	}
}
