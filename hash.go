package merkavl

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sync"
)

// Hasher binds tree contents to digests. LeafDigest and InnerDigest hash a
// canonical binary pre-image of the node's semantic content; the version is
// part of the pre-image so that re-committing identical key/value pairs at a
// later version still yields a distinct root.
type Hasher interface {
	Digest(bz []byte) []byte
	LeafDigest(key, valueDigest []byte, version int64) []byte
	InnerDigest(height int8, size, version int64, leftDigest, rightDigest []byte) []byte
}

// DefaultHasher is SHA-256 with 32-byte digests.
var DefaultHasher Hasher = sha256Hasher{}

var bufPool = &sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

type sha256Hasher struct{}

func (sha256Hasher) Digest(bz []byte) []byte {
	h := sha256.Sum256(bz)
	return h[:]
}

// Leaf pre-image: int8(0) || varint(1) || varint(version) ||
// bytes(key) || bytes(valueDigest).
func (h sha256Hasher) LeafDigest(key, valueDigest []byte, version int64) []byte {
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()

	buf.WriteByte(0)
	writeUvarint(buf, 1)
	writeUvarint(buf, uint64(version))
	writeLengthPrefixed(buf, key)
	writeLengthPrefixed(buf, valueDigest)
	return h.Digest(buf.Bytes())
}

// Inner pre-image: int8(height) || varint(size) || varint(version) ||
// bytes(leftDigest) || bytes(rightDigest).
func (h sha256Hasher) InnerDigest(height int8, size, version int64, leftDigest, rightDigest []byte) []byte {
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()

	buf.WriteByte(byte(height))
	writeUvarint(buf, uint64(size))
	writeUvarint(buf, uint64(version))
	writeLengthPrefixed(buf, leftDigest)
	writeLengthPrefixed(buf, rightDigest)
	return h.Digest(buf.Bytes())
}

// writeUvarint writes the unsigned LEB128 encoding of the two's-complement
// bit pattern of v. Negative versions encode as large magnitudes; this must
// stay wire-compatible across implementations.
func writeUvarint(buf *bytes.Buffer, v uint64) {
	var b [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(b[:], v)
	buf.Write(b[:n])
}

// writeLengthPrefixed writes varint(len(bz)) || bz.
func writeLengthPrefixed(buf *bytes.Buffer, bz []byte) {
	writeUvarint(buf, uint64(len(bz)))
	buf.Write(bz)
}
