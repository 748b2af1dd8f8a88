package util

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

// RandUint32 returns a random 32 bit value from crypto/rand
func RandUint32() uint32 {
	var b [4]byte
	io.ReadFull(rand.Reader, b[:])
	return binary.BigEndian.Uint32(b[:])
}
