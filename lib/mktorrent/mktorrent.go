package mktorrent

import (
	"crypto/sha1"
	"path/filepath"

	"github.com/majestrate/swarmwatch/lib/fs"
	"github.com/majestrate/swarmwatch/lib/metainfo"
)

// DefaultPieceLength is used when a zero piece length is given
const DefaultPieceLength = 256 * 1024

// FromBytes builds a single file torrent for name over data
func FromBytes(name string, data []byte, pieceLength int64, announce ...string) (*metainfo.TorrentFile, error) {
	if pieceLength <= 0 {
		pieceLength = DefaultPieceLength
	}
	info := metainfo.Info{
		PieceLength: pieceLength,
		Name:        name,
		Length:      int64(len(data)),
	}
	for off := int64(0); off < int64(len(data)); off += pieceLength {
		end := off + pieceLength
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		d := sha1.Sum(data[off:end])
		info.Pieces = append(info.Pieces, d[:]...)
	}
	return metainfo.New(info, announce...)
}

// MakeTorrent builds a single file torrent for a file on f
func MakeTorrent(f fs.Driver, fpath string, pieceLength int64, announce ...string) (*metainfo.TorrentFile, error) {
	data, err := f.ReadFile(fpath)
	if err != nil {
		return nil, err
	}
	return FromBytes(filepath.Base(fpath), data, pieceLength, announce...)
}
