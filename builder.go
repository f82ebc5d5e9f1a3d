package leafstore

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// AppendMiniRun creates a new leaf index entry consisting of all mini-runs
// of base followed by ent. The result is written to dst, which is truncated
// first and may be nil. The base entry is not modified.
func AppendMiniRun(dst []byte, base LeafIndexEntry, ent MiniRunIndexEntry) (LeafIndexEntry, error) {
	if err := validateMiniRun(ent); err != nil {
		return nil, err
	}
	if n := len(base); n > 0 && n < 4 {
		return nil, errCorruptionf("leaf index entry too short (%d bytes)", n)
	}

	dst = append(dst[:0], base...)
	if len(dst) != 0 {
		dst = dst[:len(dst)-4] // erase footer
	}

	dst = appendRun(dst, ent.Raw())
	dst = appendFixed32(dst, base.NumMiniRuns()+1)
	return LeafIndexEntry(dst), nil
}

// ReplaceMiniRunRange creates a new leaf index entry where the mini-runs with
// insertion indexes in [start, end] are replaced by a single replacement.
// The result is written to dst, which is truncated first and must not share
// memory with base.
//
// Indexes must not exceed the number of mini-runs in base. A range that
// starts at the number of mini-runs appends the replacement.
func ReplaceMiniRunRange(dst []byte, base LeafIndexEntry, start, end uint32, replacement MiniRunIndexEntry) (LeafIndexEntry, error) {
	if err := validateMiniRun(replacement); err != nil {
		return nil, err
	}

	num := base.NumMiniRuns()
	if start > num || end > num {
		return nil, errors.Wrapf(ErrInvalidArgument, "[%d, %d] not within bound of [0, %d]", start, end, num)
	}
	if start > end {
		return nil, errors.Wrapf(ErrInvalidArgument, "range start %d must be <= end %d", start, end)
	}

	dst = dst[:0]
	cnt := uint32(0)
	if err := base.ForEach(func(ent MiniRunIndexEntry, i uint32) bool {
		if i < start || i > end {
			dst = appendRun(dst, ent.Raw())
			cnt++
		} else if i == start {
			dst = appendRun(dst, replacement.Raw())
			cnt++
		}
		return false
	}, Forward); err != nil {
		return nil, err
	}

	if start == num {
		dst = appendRun(dst, replacement.Raw())
		cnt++
	}

	dst = appendFixed32(dst, cnt)
	return LeafIndexEntry(dst), nil
}

// validateMiniRun rejects entries that were not obtained by decoding.
func validateMiniRun(ent MiniRunIndexEntry) error {
	if n := len(ent.Raw()); n < miniRunHeaderLen {
		return errors.Wrapf(ErrInvalidArgument, "mini-run index entry too short (%d bytes)", n)
	}
	return nil
}

func appendRun(dst, raw []byte) []byte {
	dst = append(dst, raw...)
	return appendFixed32(dst, uint32(len(raw)))
}

func appendFixed32(dst []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(dst, tmp[:]...)
}
