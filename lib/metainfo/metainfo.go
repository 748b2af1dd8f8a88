package metainfo

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"io"
	"strings"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/zeebo/bencode"
)

var ErrNoInfo = errors.New("torrent has no info dict")

type FileInfo struct {
	// length of file
	Length int64 `bencode:"length"`
	// relative path of file
	Path []string `bencode:"path"`
}

// info section of torrent file
type Info struct {
	// length of pices in bytes
	PieceLength int64 `bencode:"piece length"`
	// piece data
	Pieces []byte `bencode:"pieces"`
	// name of root file
	Name string `bencode:"name"`
	// file metadata
	Files []FileInfo `bencode:"files,omitempty"`
	// length of file in single file mode
	Length int64 `bencode:"length,omitempty"`
	// private torrent
	Private int64 `bencode:"private,omitempty"`
}

type contentProps struct {
	Thumbnail     []byte `bencode:"Thumbnail,omitempty"`
	ThumbnailType string `bencode:"Thumbnail-Type,omitempty"`
}

type azureusProps struct {
	Content *contentProps `bencode:"Content,omitempty"`
}

// a torrent file
type TorrentFile struct {
	RawInfo      bencode.RawMessage `bencode:"info"`
	Announce     string             `bencode:"announce,omitempty"`
	AnnounceList [][]string         `bencode:"announce-list,omitempty"`
	CreationDate int64              `bencode:"creation date,omitempty"`
	Comment      string             `bencode:"comment,omitempty"`
	CreatedBy    string             `bencode:"created by,omitempty"`
	Encoding     string             `bencode:"encoding,omitempty"`
	Thumb        []byte             `bencode:"thumbnail,omitempty"`
	ThumbType    string             `bencode:"thumbnail mime,omitempty"`
	Azureus      *azureusProps      `bencode:"azureus_properties,omitempty"`

	info Info
}

// New wraps an info section into a torrent file
func New(info Info, announce ...string) (tf *TorrentFile, err error) {
	var raw []byte
	raw, err = bencode.EncodeBytes(info)
	if err == nil {
		tf = &TorrentFile{
			RawInfo: raw,
			info:    info,
		}
		if len(announce) > 0 {
			tf.Announce = announce[0]
		}
		if len(announce) > 1 {
			for _, a := range announce {
				tf.AnnounceList = append(tf.AnnounceList, []string{a})
			}
		}
	}
	return
}

// Parse decodes a bencoded torrent and its info section
func Parse(data []byte) (tf *TorrentFile, err error) {
	tf = new(TorrentFile)
	err = tf.BDecode(bytes.NewReader(data))
	if err != nil {
		tf = nil
	}
	return
}

// load from an io.Reader
func (tf *TorrentFile) BDecode(r io.Reader) (err error) {
	err = bencode.NewDecoder(r).Decode(tf)
	if err == nil {
		if len(tf.RawInfo) == 0 || tf.RawInfo[0] != 'd' {
			err = ErrNoInfo
		} else {
			err = bencode.DecodeBytes(tf.RawInfo, &tf.info)
		}
	}
	return
}

// bencode this file via an io.Writer
func (tf *TorrentFile) BEncode(w io.Writer) error {
	return bencode.NewEncoder(w).Encode(tf)
}

// Bytes returns the bencoded torrent
func (tf *TorrentFile) Bytes() ([]byte, error) {
	return bencode.EncodeBytes(tf)
}

// Info returns the decoded info section
func (tf *TorrentFile) Info() Info {
	return tf.info
}

// Infohash is the sha1 of the info section exactly as it was encoded
func (tf *TorrentFile) Infohash() (ih common.Infohash) {
	ih = sha1.Sum(tf.RawInfo)
	return
}

func (tf *TorrentFile) Name() string {
	return tf.info.Name
}

// return true if this torrent is for a single file
func (tf *TorrentFile) IsSingleFile() bool {
	return len(tf.info.Files) == 0
}

// get total size of files from torrent info section
func (tf *TorrentFile) TotalSize() int64 {
	if tf.IsSingleFile() {
		return tf.info.Length
	}
	var total int64
	for _, f := range tf.info.Files {
		total += f.Length
	}
	return total
}

func (tf *TorrentFile) NumFiles() int {
	if tf.IsSingleFile() {
		return 1
	}
	return len(tf.info.Files)
}

// FilePaths lists every file as a slash separated path
func (tf *TorrentFile) FilePaths() (paths []string) {
	if tf.IsSingleFile() {
		return []string{tf.info.Name}
	}
	for _, f := range tf.info.Files {
		paths = append(paths, strings.Join(f.Path, "/"))
	}
	return
}

// GetAllAnnounceURLS returns announce and announce-list urls without duplicates
func (tf *TorrentFile) GetAllAnnounceURLS() (l []string) {
	seen := make(map[string]bool)
	add := func(a string) {
		if len(a) > 0 && !seen[a] {
			seen[a] = true
			l = append(l, a)
		}
	}
	add(tf.Announce)
	for _, al := range tf.AnnounceList {
		for _, a := range al {
			add(a)
		}
	}
	return
}

// Thumbnail returns the embedded thumbnail and its mime type if any
func (tf *TorrentFile) Thumbnail() (data []byte, mime string) {
	if len(tf.Thumb) > 0 {
		data, mime = tf.Thumb, tf.ThumbType
	} else if tf.Azureus != nil && tf.Azureus.Content != nil {
		data, mime = tf.Azureus.Content.Thumbnail, tf.Azureus.Content.ThumbnailType
	}
	if len(data) > 0 && mime == "" {
		mime = "image/jpeg"
	}
	return
}

// IsPrivate returns true if this torrent is a private torrent
func (tf *TorrentFile) IsPrivate() bool {
	return tf.info.Private > 0
}
