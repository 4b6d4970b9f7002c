// Package frame implements the length-prefix framing used on typed sockets
// and the incremental reassembly of frames from arbitrary stream chunks.
//
// Wire format:
//
//	frame          := length-prefix payload
//	length-prefix  := 0x00..0xFE            (literal length 0..254)
//	                | 0xFF uint32 big-endian (extended length)
package frame

import (
	"encoding/binary"
)

const (
	// ExtendedMarker introduces a 4-byte big-endian length.
	ExtendedMarker = 0xFF
	// MaxShortLength is the largest length carried in a single byte.
	MaxShortLength = 254
	// MaxHeaderLen is the size of the longest length prefix.
	MaxHeaderLen = 5
)

// EncodeLength returns the length prefix for a payload of n bytes.
func EncodeLength(n int) []byte {
	return AppendLength(make([]byte, 0, HeaderLen(n)), n)
}

// AppendLength appends the length prefix for n to dst.
func AppendLength(dst []byte, n int) []byte {
	if n <= MaxShortLength {
		return append(dst, byte(n))
	}
	var ext [MaxHeaderLen]byte
	ext[0] = ExtendedMarker
	binary.BigEndian.PutUint32(ext[1:], uint32(n))
	return append(dst, ext[:]...)
}

// AppendFrame appends payload to dst preceded by its length prefix.
func AppendFrame(dst, payload []byte) []byte {
	dst = AppendLength(dst, len(payload))
	return append(dst, payload...)
}

// Encode returns payload as one contiguous frame.
func Encode(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, HeaderLen(len(payload))+len(payload)), payload)
}

// HeaderLen reports how many bytes the length prefix for n occupies.
func HeaderLen(n int) int {
	if n <= MaxShortLength {
		return 1
	}
	return MaxHeaderLen
}

// DecodeLength reads a length prefix from the start of b. It returns the
// payload length and the number of prefix bytes. ok is false when b does not
// yet hold a complete prefix; nothing is consumed in that case.
func DecodeLength(b []byte) (length, consumed int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	if b[0] != ExtendedMarker {
		return int(b[0]), 1, true
	}
	if len(b) < MaxHeaderLen {
		return 0, 0, false
	}
	return int(binary.BigEndian.Uint32(b[1:MaxHeaderLen])), MaxHeaderLen, true
}
