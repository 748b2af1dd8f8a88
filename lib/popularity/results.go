package popularity

import (
	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/repo"
	"github.com/majestrate/swarmwatch/lib/search"
	"github.com/zeebo/bencode"
)

// TorrentResult is one torrent in a CONTENT_INFO response
type TorrentResult struct {
	Infohash     []byte `bencode:"infohash"`
	Name         string `bencode:"name"`
	Length       int64  `bencode:"length"`
	NumFiles     int64  `bencode:"num_files"`
	CreationDate int64  `bencode:"creation_date"`
	Comment      string `bencode:"comment"`
	Seeders      int64  `bencode:"seeders"`
	Leechers     int64  `bencode:"leechers"`
	LastCheck    int64  `bencode:"last_check"`
	// raw bencoded .torrent, only sent when it fits
	Torrent []byte `bencode:"torrent,omitempty"`
}

// ChannelResult is one channel in a CONTENT_INFO response
type ChannelResult struct {
	ChannelID []byte `bencode:"channel_id"`
	Name      string `bencode:"name"`
	Votes     int64  `bencode:"votes"`
	Torrents  int64  `bencode:"torrents"`
	SwarmSize int64  `bencode:"swarm_size"`
	Timestamp int64  `bencode:"timestamp"`
}

func torrentResultOf(t repo.TorrentRecord, raw []byte) TorrentResult {
	return TorrentResult{
		Infohash:     t.Infohash.Bytes(),
		Name:         t.Name,
		Length:       t.Length,
		NumFiles:     t.NumFiles,
		CreationDate: t.CreationDate,
		Comment:      t.Comment,
		Seeders:      t.Seeders,
		Leechers:     t.Leechers,
		LastCheck:    t.LastCheck,
		Torrent:      raw,
	}
}

// Hit converts a result to a remote search hit. Without a payload the hit
// points at a magnet link.
func (r TorrentResult) Hit() (h search.Hit, err error) {
	h.Infohash, err = common.InfohashFromBytes(r.Infohash)
	if err != nil {
		return
	}
	h.Source = search.SourceRemote
	h.Title = r.Name
	h.Summary = r.Comment
	h.Length = r.Length
	h.NumFiles = r.NumFiles
	h.Seeders = r.Seeders
	h.Leechers = r.Leechers
	if len(r.Torrent) > 0 {
		h.MetaType = search.MetaTorrent
		h.Torrent = r.Torrent
	} else {
		h.MetaType = search.MetaURL
		h.URL = search.MagnetURI(h.Infohash, r.Name)
	}
	return
}

func channelResultOf(c repo.ChannelRecord) ChannelResult {
	return ChannelResult{
		ChannelID: c.ID,
		Name:      c.Name,
		Votes:     c.Votes,
		Torrents:  c.Torrents,
		SwarmSize: c.SwarmSize,
		Timestamp: c.Timestamp,
	}
}

func (r ChannelResult) Record() repo.ChannelRecord {
	return repo.ChannelRecord{
		ID:        r.ChannelID,
		Name:      r.Name,
		Votes:     r.Votes,
		Torrents:  r.Torrents,
		SwarmSize: r.SwarmSize,
		Timestamp: r.Timestamp,
	}
}

// paginate packs encoded results into bencoded lists of at most budget
// bytes each. encode returns the encodings of one item, best first; an item
// with no encoding that fits is skipped.
func paginate(n, budget int, encode func(idx int) [][]byte) (pages [][]byte, counts []int) {
	const listOverhead = 2
	page := []byte{'l'}
	count := 0
	flush := func() {
		pages = append(pages, append(page, 'e'))
		counts = append(counts, count)
		page = []byte{'l'}
		count = 0
	}
	for idx := 0; idx < n; idx++ {
		var item []byte
		for _, enc := range encode(idx) {
			if len(enc)+listOverhead <= budget {
				item = enc
				break
			}
		}
		if item == nil {
			continue
		}
		if len(page)+len(item)+1 > budget {
			flush()
		}
		page = append(page, item...)
		count++
	}
	if count > 0 || len(pages) == 0 {
		flush()
	}
	return
}

// torrentPages encodes torrent results into response pages
func torrentPages(results []TorrentResult, budget int) ([][]byte, []int) {
	return paginate(len(results), budget, func(idx int) (encs [][]byte) {
		r := results[idx]
		if len(r.Torrent) > 0 {
			if b, err := bencode.EncodeBytes(r); err == nil {
				encs = append(encs, b)
			}
			r.Torrent = nil
		}
		if b, err := bencode.EncodeBytes(r); err == nil {
			encs = append(encs, b)
		}
		return
	})
}

func channelPages(results []ChannelResult, budget int) ([][]byte, []int) {
	return paginate(len(results), budget, func(idx int) (encs [][]byte) {
		if b, err := bencode.EncodeBytes(results[idx]); err == nil {
			encs = append(encs, b)
		}
		return
	})
}

// contentResponses builds every page of a CONTENT_INFO response
func contentResponses(id uint32, contentType byte, pages [][]byte, counts []int) (msgs []Message) {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total > 0xffff {
		total = 0xffff
	}
	for idx := range pages {
		msgs = append(msgs, ContentInfoResponseMsg{
			Identifier:  id,
			ContentType: contentType,
			Results:     pages[idx],
			Page:        uint16(idx),
			PageSize:    uint16(counts[idx]),
			MaxResults:  uint16(total),
			More:        idx+1 < len(pages),
		}.Encode())
	}
	return
}

// healthMessages packs random and popular records into as few
// TORRENTS_HEALTH messages as fit in size bytes
func healthMessages(random, popular []HealthRecord, size int) (msgs []Message) {
	// id byte plus two list counts
	per := (size - 1 - 4) / healthRecordSize
	if per <= 0 {
		return
	}
	for len(random) > 0 || len(popular) > 0 {
		var m TorrentsHealthMsg
		room := per
		n := min(room, len(random))
		m.Random, random = random[:n], random[n:]
		room -= n
		n = min(room, len(popular))
		m.Popular, popular = popular[:n], popular[n:]
		msgs = append(msgs, m.Encode())
	}
	return
}
