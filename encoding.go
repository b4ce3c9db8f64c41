package merkavl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Storage codec for nodes, used by digest-keyed KV backends. The node's own
// digest is the storage key and is not part of the encoding. Field order
// mirrors the hash pre-image: height, size, version, key, then value for a
// leaf or the two child digests for an inner node.

func encodeVarint(w io.Writer, v int64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutVarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

// EncodeBytes writes a varint length-prefixed byte slice.
func EncodeBytes(w io.Writer, bz []byte) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(bz)))
	if _, err := w.Write(buf[:n]); err != nil {
		return err
	}
	_, err := w.Write(bz)
	return err
}

func decodeVarint(bz []byte) (int64, int, error) {
	v, n := binary.Varint(bz)
	if n <= 0 {
		return 0, 0, fmt.Errorf("decoding varint, n=%d", n)
	}
	return v, n, nil
}

// DecodeBytes reads a varint length-prefixed byte slice, returning the slice
// and the total number of bytes consumed.
func DecodeBytes(bz []byte) ([]byte, int, error) {
	length, n := binary.Uvarint(bz)
	if n <= 0 {
		return nil, 0, fmt.Errorf("decoding byte length, n=%d", n)
	}
	if uint64(len(bz)-n) < length {
		return nil, 0, fmt.Errorf("byte field truncated: want %d, have %d", length, len(bz)-n)
	}
	end := n + int(length)
	return bz[n:end:end], end, nil
}

func (node *Node) writeBytes(w io.Writer) error {
	if err := encodeVarint(w, int64(node.height)); err != nil {
		return fmt.Errorf("writing height: %w", err)
	}
	if err := encodeVarint(w, node.size); err != nil {
		return fmt.Errorf("writing size: %w", err)
	}
	if err := encodeVarint(w, node.version); err != nil {
		return fmt.Errorf("writing version: %w", err)
	}
	if err := EncodeBytes(w, node.key); err != nil {
		return fmt.Errorf("writing key: %w", err)
	}
	if node.isLeaf() {
		if err := EncodeBytes(w, node.value); err != nil {
			return fmt.Errorf("writing value: %w", err)
		}
		return nil
	}
	if err := EncodeBytes(w, node.leftHash); err != nil {
		return fmt.Errorf("writing left hash: %w", err)
	}
	if err := EncodeBytes(w, node.rightHash); err != nil {
		return fmt.Errorf("writing right hash: %w", err)
	}
	return nil
}

func (node *Node) bytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := node.writeBytes(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MakeNode decodes a node stored under the given digest.
func MakeNode(hash, buf []byte) (*Node, error) {
	height, n, err := decodeVarint(buf)
	if err != nil {
		return nil, fmt.Errorf("decoding height: %w", err)
	}
	buf = buf[n:]
	size, n, err := decodeVarint(buf)
	if err != nil {
		return nil, fmt.Errorf("decoding size: %w", err)
	}
	buf = buf[n:]
	version, n, err := decodeVarint(buf)
	if err != nil {
		return nil, fmt.Errorf("decoding version: %w", err)
	}
	buf = buf[n:]
	key, n, err := DecodeBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	buf = buf[n:]

	node := &Node{
		key:       key,
		hash:      hash,
		version:   version,
		size:      size,
		height:    int8(height),
		persisted: true,
	}

	if node.isLeaf() {
		value, _, err := DecodeBytes(buf)
		if err != nil {
			return nil, fmt.Errorf("decoding value: %w", err)
		}
		node.value = value
		return node, nil
	}

	leftHash, n, err := DecodeBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("decoding left hash: %w", err)
	}
	buf = buf[n:]
	rightHash, _, err := DecodeBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("decoding right hash: %w", err)
	}
	node.leftHash = leftHash
	node.rightHash = rightHash
	return node, nil
}
