package leafstore

import (
	"encoding/binary"
)

const miniRunHeaderLen = 16

// MiniRunIndexEntry describes one immutable mini-run: the segment that holds
// it, the run number within that segment, its block index and its filter.
//
//	+-----------------------+-----------------------+
//	| segment number (4 b)  | run number (4 b)      |
//	+-----------------------+-----------------------+
//	| block index len (4 b) | filter len (4 b)      |
//	+-----------------------+-----------------------+
//	| block index (varlen)  | filter (varlen)       |
//	+-----------------------+-----------------------+
//
// The block index and filter are views into the raw data, which must
// therefore not be modified while the entry is in use. The zero value has no
// block index and no filter.
type MiniRunIndexEntry struct {
	raw []byte

	segNo uint32
	runNo uint32
	bilen uint32
	flen  uint32
}

// DecodeMiniRunIndexEntry parses a mini-run index entry. It does not copy
// data.
func DecodeMiniRunIndexEntry(data []byte) (MiniRunIndexEntry, error) {
	if len(data) < miniRunHeaderLen {
		return MiniRunIndexEntry{}, errCorruptionf("mini-run index entry too short (%d bytes)", len(data))
	}

	e := MiniRunIndexEntry{
		segNo: binary.LittleEndian.Uint32(data[0:]),
		runNo: binary.LittleEndian.Uint32(data[4:]),
		bilen: binary.LittleEndian.Uint32(data[8:]),
		flen:  binary.LittleEndian.Uint32(data[12:]),
	}
	if need := uint64(miniRunHeaderLen) + uint64(e.bilen) + uint64(e.flen); uint64(len(data)) < need {
		return MiniRunIndexEntry{}, errCorruptionf("mini-run index entry truncated, %d bytes must be >= %d", len(data), need)
	}
	e.raw = data[:e.Size()]
	return e, nil
}

// AppendMiniRunIndexEntry encodes a mini-run index entry and appends it to dst.
func AppendMiniRunIndexEntry(dst []byte, segNo, runNo uint32, blockIndex, filter []byte) []byte {
	var tmp [miniRunHeaderLen]byte
	binary.LittleEndian.PutUint32(tmp[0:], segNo)
	binary.LittleEndian.PutUint32(tmp[4:], runNo)
	binary.LittleEndian.PutUint32(tmp[8:], uint32(len(blockIndex)))
	binary.LittleEndian.PutUint32(tmp[12:], uint32(len(filter)))

	dst = append(dst, tmp[:]...)
	dst = append(dst, blockIndex...)
	dst = append(dst, filter...)
	return dst
}

// SegmentNumber returns the number of the segment containing the mini-run.
func (e MiniRunIndexEntry) SegmentNumber() uint32 { return e.segNo }

// RunNumber returns the ordinal of the mini-run within its segment.
func (e MiniRunIndexEntry) RunNumber() uint32 { return e.runNo }

// BlockIndex returns the serialized block index of the mini-run.
func (e MiniRunIndexEntry) BlockIndex() []byte {
	if e.raw == nil {
		return nil
	}
	return e.raw[miniRunHeaderLen : miniRunHeaderLen+e.bilen : miniRunHeaderLen+e.bilen]
}

// Filter returns the serialized filter block of the mini-run.
func (e MiniRunIndexEntry) Filter() []byte {
	if e.raw == nil {
		return nil
	}
	min := miniRunHeaderLen + e.bilen
	max := min + e.flen
	return e.raw[min:max:max]
}

// Raw returns the encoded entry.
func (e MiniRunIndexEntry) Raw() []byte { return e.raw }

// Size returns the encoded size of the entry in bytes.
func (e MiniRunIndexEntry) Size() int { return miniRunHeaderLen + int(e.bilen) + int(e.flen) }
