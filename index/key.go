package index

import "encoding/binary"

// KeyCodec fixes the on-page representation and ordering of an index key
// type. Encoded keys are fixed width so node entries stay addressable by
// slot arithmetic.
type KeyCodec[K any] interface {
	// Size returns the encoded width in bytes. Must be constant.
	Size() int
	// Encode writes key into dst, which holds at least Size() bytes.
	Encode(dst []byte, key K)
	// Decode reads a key from src.
	Decode(src []byte) K
	// Compare yields a strict total order: negative if a < b, zero if
	// equal, positive if a > b.
	Compare(a, b K) int
}

// Int64Codec stores int64 keys little-endian in 8 bytes.
type Int64Codec struct{}

func (Int64Codec) Size() int { return 8 }

func (Int64Codec) Encode(dst []byte, key int64) {
	binary.LittleEndian.PutUint64(dst, uint64(key))
}

func (Int64Codec) Decode(src []byte) int64 {
	return int64(binary.LittleEndian.Uint64(src))
}

func (Int64Codec) Compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
