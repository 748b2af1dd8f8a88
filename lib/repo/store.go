package repo

import (
	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/metainfo"
)

// TorrentPath is where the blob for ih lives in the torrent store
func (r *Repository) TorrentPath(ih common.Infohash) string {
	return r.store.Join(r.dir, ih.Hex()+".torrent")
}

// SaveTorrentBlob writes raw torrent bytes after checking they hash to ih
func (r *Repository) SaveTorrentBlob(ih common.Infohash, raw []byte) (err error) {
	var tf *metainfo.TorrentFile
	tf, err = metainfo.Parse(raw)
	if err != nil {
		return
	}
	if tf.Infohash() != ih {
		return ErrInfohashMismatch
	}
	return r.store.WriteFile(r.TorrentPath(ih), raw)
}

// HasTorrentFile returns true if the blob for ih is in the torrent store
func (r *Repository) HasTorrentFile(ih common.Infohash) bool {
	return r.store.FileExists(r.TorrentPath(ih))
}

// ReadTorrentFile returns the stored blob for ih
func (r *Repository) ReadTorrentFile(ih common.Infohash) (raw []byte, err error) {
	fpath := r.TorrentPath(ih)
	if !r.store.FileExists(fpath) {
		return nil, ErrNotFound
	}
	raw, err = r.store.ReadFile(fpath)
	if err == nil && len(raw) == 0 {
		err = ErrNotFound
	}
	return
}
