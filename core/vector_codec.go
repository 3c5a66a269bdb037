package core

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeVector serializes a float32 vector as a flat little-endian byte
// slice, the wire and on-disk representation used for both the KV row value
// and a WALEntry payload for a single record.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector payload length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// VectorAddEntry is one record within an EntryTypeVectorAdd batch.
type VectorAddEntry struct {
	ID     uint64
	Vector []float32
}

// EncodeVectorAddPayload serializes a batch of upserts for a WALEntry with
// EntryTypeVectorAdd: a uint32 record count followed by, per record, a
// uint64 id, a uint32 vector dimension, and the vector's encoded bytes.
func EncodeVectorAddPayload(entries []VectorAddEntry) []byte {
	size := 4
	for _, e := range entries {
		size += 8 + 4 + 4*len(e.Vector)
	}
	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(entries)))
	off += 4
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[off:], e.ID)
		off += 8
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.Vector)))
		off += 4
		off += copy(buf[off:], EncodeVector(e.Vector))
	}
	return buf
}

// DecodeVectorAddPayload is the inverse of EncodeVectorAddPayload.
func DecodeVectorAddPayload(data []byte) ([]VectorAddEntry, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("vector add payload too short: %d bytes", len(data))
	}
	count := binary.LittleEndian.Uint32(data)
	off := 4
	out := make([]VectorAddEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+12 > len(data) {
			return nil, fmt.Errorf("vector add payload truncated at record %d", i)
		}
		id := binary.LittleEndian.Uint64(data[off:])
		off += 8
		dim := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if off+4*dim > len(data) {
			return nil, fmt.Errorf("vector add payload truncated in vector data for record %d", i)
		}
		vec, err := DecodeVector(data[off : off+4*dim])
		if err != nil {
			return nil, err
		}
		off += 4 * dim
		out = append(out, VectorAddEntry{ID: id, Vector: vec})
	}
	return out, nil
}

// DecodeVectorDeletePayload decodes an EntryTypeVectorDelete payload: a flat
// list of uint64 ids to remove.
func DecodeVectorDeletePayload(data []byte) ([]uint64, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("vector delete payload length %d is not a multiple of 8", len(data))
	}
	out := make([]uint64, len(data)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(data[i*8:])
	}
	return out, nil
}

// EncodeVectorDeletePayload is the inverse of DecodeVectorDeletePayload.
func EncodeVectorDeletePayload(ids []uint64) []byte {
	buf := make([]byte, 8*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint64(buf[i*8:], id)
	}
	return buf
}
