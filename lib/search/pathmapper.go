package search

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/metainfo"
)

// StreamInfo is the response to a path mapped request
type StreamInfo struct {
	StatusCode int
	StatusMsg  string
	MimeType   string
	Stream     io.Reader
	Length     int
}

func streamOf(mime string, data []byte) StreamInfo {
	return StreamInfo{
		StatusCode: 200,
		StatusMsg:  "OK",
		MimeType:   mime,
		Stream:     bytes.NewReader(data),
		Length:     len(data),
	}
}

func errorStream(code int, msg string) StreamInfo {
	return StreamInfo{
		StatusCode: code,
		StatusMsg:  msg,
		MimeType:   "text/plain",
		Stream:     strings.NewReader(msg),
		Length:     len(msg),
	}
}

func notFound() StreamInfo {
	return errorStream(404, "Not Found")
}

const (
	MimeAtom    = "application/atom+xml"
	MimeXML     = "text/xml"
	MimeTorrent = "application/x-bittorrent"
)

var hexInfohash = regexp.MustCompile(`^[0-9a-f]{40}$`)

// TorrentReader loads local .torrent blobs
type TorrentReader interface {
	ReadTorrentFile(ih common.Infohash) ([]byte, error)
}

// PathMapper serves /hits/... out of the hits cache
type PathMapper struct {
	cache *HitsCache
	repo  TorrentReader
	ttl   time.Duration
	// url prefix for links in generated feeds
	base string
	now  func() time.Time
}

func NewPathMapper(cache *HitsCache, r TorrentReader, ttl time.Duration, base string) *PathMapper {
	if ttl <= 0 {
		ttl = DefaultHitsTTL
	}
	return &PathMapper{
		cache: cache,
		repo:  r,
		ttl:   ttl,
		base:  strings.TrimRight(base, "/"),
		now:   time.Now,
	}
}

// Get maps a /hits path to a stream. Expired queries are collected first.
func (m *PathMapper) Get(path string) StreamInfo {
	now := m.now()
	m.cache.GarbageCollect(now.Add(-m.ttl))
	rest := strings.TrimPrefix(path, "/hits/")
	if rest == path || rest == "" {
		return notFound()
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	query, hits, ok := m.cache.GetHits(id)
	if !ok {
		return notFound()
	}
	if len(parts) == 1 || parts[1] == "" {
		data, err := renderAtom(m.base, id, query, now, hits)
		if err != nil {
			return errorStream(500, "Internal Server Error")
		}
		return streamOf(MimeAtom, data)
	}
	name := parts[1]
	var hexpart, kind string
	switch {
	case strings.HasSuffix(name, ".tstream/thumbnail"):
		hexpart, kind = strings.TrimSuffix(name, ".tstream/thumbnail"), "thumbnail"
	case strings.HasSuffix(name, ".tstream"):
		hexpart, kind = strings.TrimSuffix(name, ".tstream"), "tstream"
	case strings.HasSuffix(name, ".xml"):
		hexpart, kind = strings.TrimSuffix(name, ".xml"), "xml"
	default:
		return notFound()
	}
	if !hexInfohash.MatchString(hexpart) {
		return notFound()
	}
	ih, err := common.DecodeInfohash(hexpart)
	if err != nil {
		return notFound()
	}
	hit, ok := hits[ih]
	if !ok {
		return notFound()
	}
	switch kind {
	case "xml":
		data, err := renderMPEG7(hit)
		if err != nil {
			return errorStream(500, "Internal Server Error")
		}
		return streamOf(MimeXML, data)
	case "tstream":
		data := m.torrentOf(hit)
		if data == nil {
			return notFound()
		}
		return streamOf(MimeTorrent, data)
	default:
		data := m.torrentOf(hit)
		if data == nil {
			return notFound()
		}
		tf, err := metainfo.Parse(data)
		if err != nil {
			return errorStream(500, "Internal Server Error")
		}
		thumb, mime := tf.Thumbnail()
		if len(thumb) == 0 {
			return notFound()
		}
		return streamOf(mime, thumb)
	}
}

// torrentOf returns a remote hit's payload or loads the torrent from the
// store
func (m *PathMapper) torrentOf(h Hit) []byte {
	if h.hasPayload() {
		return h.Torrent
	}
	if m.repo == nil {
		return nil
	}
	data, err := m.repo.ReadTorrentFile(h.Infohash)
	if err != nil {
		return nil
	}
	return data
}
