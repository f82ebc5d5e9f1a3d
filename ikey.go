package leafstore

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb/comparer"
)

// Kind is the type of an internal key.
type Kind uint8

// Supported kinds.
const (
	KindDeletion Kind = 0
	KindValue    Kind = 1

	// seeking for a particular sequence number must land on the entry with
	// the highest kind, hence KindValue.
	kindSeek = KindValue
)

func (k Kind) String() string {
	switch k {
	case KindDeletion:
		return "DEL"
	case KindValue:
		return "VAL"
	}
	return "UNKNOWN"
}

// MaxSequence is the largest valid sequence number.
const MaxSequence = uint64(1)<<56 - 1

// MakeInternalKey appends the internal key for ukey, seq and kind to dst.
// The internal key consists of the user key followed by an 8-byte
// little-endian trailer of seq<<8|kind.
func MakeInternalKey(dst, ukey []byte, seq uint64, kind Kind) []byte {
	if seq > MaxSequence {
		panic("leafstore: invalid sequence number")
	}

	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], seq<<8|uint64(kind))
	dst = append(dst, ukey...)
	return append(dst, tmp[:]...)
}

// ParsedInternalKey is the decoded form of an internal key.
type ParsedInternalKey struct {
	UserKey []byte
	Seq     uint64
	Kind    Kind
}

// ParseInternalKey decodes an internal key. The user key is not copied.
func ParseInternalKey(ikey []byte) (ParsedInternalKey, error) {
	if len(ikey) < 8 {
		return ParsedInternalKey{}, errCorruptionf("internal key too short (%d bytes)", len(ikey))
	}

	num := binary.LittleEndian.Uint64(ikey[len(ikey)-8:])
	pk := ParsedInternalKey{
		UserKey: ikey[:len(ikey)-8],
		Seq:     num >> 8,
		Kind:    Kind(num & 0xff),
	}
	if pk.Kind > KindValue {
		return ParsedInternalKey{}, errCorruptionf("internal key has invalid kind %d", pk.Kind)
	}
	return pk, nil
}

// ExtractUserKey returns the user key portion of an internal key. Keys that
// are too short to carry a trailer are returned as-is.
func ExtractUserKey(ikey []byte) []byte {
	if len(ikey) < 8 {
		return ikey
	}
	return ikey[:len(ikey)-8]
}

// --------------------------------------------------------------------

// LookupKey is used for point lookups. It carries the user key and the
// internal key to seek to.
type LookupKey struct {
	ikey []byte
}

// NewLookupKey creates a lookup key that will find the most recent version of
// ukey visible at sequence seq.
func NewLookupKey(ukey []byte, seq uint64) LookupKey {
	return LookupKey{ikey: MakeInternalKey(make([]byte, 0, len(ukey)+8), ukey, seq, kindSeek)}
}

// UserKey returns the user key.
func (k LookupKey) UserKey() []byte { return k.ikey[:len(k.ikey)-8] }

// InternalKey returns the internal key.
func (k LookupKey) InternalKey() []byte { return k.ikey }

// --------------------------------------------------------------------

type internalComparer struct {
	ucmp comparer.Comparer
}

// InternalComparer wraps a user key comparer and orders internal keys by
// ascending user key and descending sequence number.
func InternalComparer(ucmp comparer.Comparer) comparer.Comparer {
	if ucmp == nil {
		ucmp = comparer.DefaultComparer
	}
	return internalComparer{ucmp: ucmp}
}

func (c internalComparer) Name() string { return "leafstore.InternalKeyComparator" }

func (c internalComparer) Compare(a, b []byte) int {
	if n := c.ucmp.Compare(ExtractUserKey(a), ExtractUserKey(b)); n != 0 {
		return n
	}
	if len(a) < 8 || len(b) < 8 {
		return len(a) - len(b)
	}

	an := binary.LittleEndian.Uint64(a[len(a)-8:])
	bn := binary.LittleEndian.Uint64(b[len(b)-8:])
	if an > bn {
		return -1
	} else if an < bn {
		return 1
	}
	return 0
}

func (c internalComparer) Separator(dst, a, b []byte) []byte {
	ua, ub := ExtractUserKey(a), ExtractUserKey(b)
	dst = c.ucmp.Separator(dst, ua, ub)
	if dst != nil && len(dst) < len(ua) && c.ucmp.Compare(ua, dst) < 0 {
		return MakeInternalKey(dst, nil, MaxSequence, kindSeek)
	}
	return nil
}

func (c internalComparer) Successor(dst, b []byte) []byte {
	ub := ExtractUserKey(b)
	dst = c.ucmp.Successor(dst, ub)
	if dst != nil && len(dst) < len(ub) && c.ucmp.Compare(ub, dst) < 0 {
		return MakeInternalKey(dst, nil, MaxSequence, kindSeek)
	}
	return nil
}
