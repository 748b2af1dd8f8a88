package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/rpc/assets"
	"github.com/majestrate/swarmwatch/lib/search"
)

var logger = log.For("rpc")

// max size of a control request body
const maxRequestSize = 64 * 1024

// Server is the http boundary: search, hits and the web ui control endpoint
type Server struct {
	backend      *Backend
	search       *search.Manager
	router       chi.Router
	expectedHost string
}

func NewServer(b *Backend, s *search.Manager, host string) *Server {
	srv := &Server{
		backend:      b,
		search:       s,
		expectedHost: host,
	}
	r := chi.NewRouter()
	if s != nil {
		r.Get("/search", srv.serveSearch)
		r.Get("/hits/*", srv.serveHits)
	}
	r.Get(RPCPath, srv.serveControlQuery)
	r.Post(RPCPath, srv.serveControlBody)
	if fs := assets.GetAssets(); fs != nil {
		r.Handle("/*", http.FileServer(fs))
	}
	srv.router = r
	return srv
}

func (r *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.expectedHost != "" {
		host := req.Host

		h, _, err := net.SplitHostPort(host)
		if err == nil {
			host = h
		}

		if !(host == r.expectedHost || host == "localhost") {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintf(w, "expected host %s but got %s", r.expectedHost, host)
			return
		}
	}
	r.router.ServeHTTP(w, req)
}

// writeStream copies a path mapped response out
func writeStream(w http.ResponseWriter, si search.StreamInfo) {
	if si.MimeType != "" {
		w.Header().Set("Content-Type", si.MimeType)
	}
	if si.Length > 0 {
		w.Header().Set("Content-Length", strconv.Itoa(si.Length))
	}
	w.WriteHeader(si.StatusCode)
	if si.Stream != nil {
		if _, err := io.Copy(w, si.Stream); err != nil {
			logger.Debugf("writing response: %s", err.Error())
		}
	}
}

func (r *Server) serveSearch(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	writeStream(w, r.search.Handle(req.Context(), q.Get("q"), q.Get("collection"), q.Get("metafeed")))
}

func (r *Server) serveHits(w http.ResponseWriter, req *http.Request) {
	writeStream(w, r.search.Mapper().Get(req.URL.Path))
}

// serveControlQuery handles /webUI/?<url encoded json>
func (r *Server) serveControlQuery(w http.ResponseWriter, req *http.Request) {
	raw, err := url.QueryUnescape(req.URL.RawQuery)
	if err != nil {
		r.process(w, invalidRequest(err.Error()))
		return
	}
	r.process(w, decodeRequest([]byte(raw)))
}

func (r *Server) serveControlBody(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestSize))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	r.process(w, decodeRequest(body))
}

func (r *Server) process(w http.ResponseWriter, rr Request) {
	w.Header().Set("Content-Type", RPCContentType)
	rr.ProcessRequest(r.backend, &ResponseWriter{w: w})
}

// decodeRequest turns a json object into the request for its method
func decodeRequest(data []byte) Request {
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return invalidRequest("bad request: " + err.Error())
	}
	str := func(k string) string {
		v, ok := body[k]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprintf("%v", v)
	}
	method := str(ParamMethod)
	switch method {
	case MethodGetAllDownloads, MethodPauseAll, MethodResumeAll, MethodRemoveAll:
		return &BulkRequest{Method: method}
	case MethodPauseDownload, MethodResumeDownload, MethodRemoveDownload:
		return &ChangeDownloadRequest{Method: method, ID: str(ParamID)}
	case MethodGetSpeedInfo:
		return &SpeedInfoRequest{}
	case MethodCheckTorrent:
		return &CheckTorrentRequest{ID: str(ParamID)}
	case MethodTorrentHealth:
		return &TorrentHealthRequest{ID: str(ParamID)}
	case MethodSubscribeFeed, MethodUnsubscribeFeed, MethodListFeeds:
		return &FeedRequest{Method: method, Key: str(ParamKey), URL: str(ParamURL)}
	default:
		return invalidRequest(fmt.Sprintf("no such method %s", method))
	}
}
