package common

import (
	"encoding/hex"
	"errors"
)

// InfohashLen is the size of a bittorrent v1 infohash
const InfohashLen = 20

var ErrBadInfohash = errors.New("bad infohash")

// a bittorrent infohash
type Infohash [InfohashLen]byte

// get hex representation, always 40 lowercase characters
func (ih Infohash) Hex() string {
	return hex.EncodeToString(ih.Bytes())
}

func (ih Infohash) String() string {
	return ih.Hex()
}

// get underlying byteslice
func (ih Infohash) Bytes() []byte {
	return ih[:]
}

// DecodeInfohash parses exactly 40 hex characters
func DecodeInfohash(str string) (ih Infohash, err error) {
	if len(str) != InfohashLen*2 {
		err = ErrBadInfohash
		return
	}
	var n int
	n, err = hex.Decode(ih[:], []byte(str))
	if err == nil && n != InfohashLen {
		err = ErrBadInfohash
	}
	if err != nil {
		err = ErrBadInfohash
	}
	return
}

// InfohashFromBytes copies exactly 20 raw bytes
func InfohashFromBytes(b []byte) (ih Infohash, err error) {
	if len(b) != InfohashLen {
		err = ErrBadInfohash
		return
	}
	copy(ih[:], b)
	return
}
