package leafstore

import (
	"encoding/binary"
)

// TraversalOrder defines the direction of a walk across the mini-runs of a
// leaf.
type TraversalOrder int

// Supported traversal orders.
const (
	// Forward visits mini-runs in insertion order, oldest first.
	Forward TraversalOrder = iota
	// Backward visits mini-runs newest first.
	Backward
)

// LeafIndexEntry is the encoded, ordered list of mini-run index entries of a
// single leaf. Entries are stored oldest to newest, each followed by its
// length, which makes the entry walkable from the tail:
//
//	+------------+-------------+-----+------------+-------------+-----------------+
//	| mini-run 0 | len 0 (4 b) | ... | mini-run n | len n (4 b) | num runs (4 b)  |
//	+------------+-------------+-----+------------+-------------+-----------------+
//
// The empty leaf is encoded as four zero bytes.
type LeafIndexEntry []byte

// EmptyLeafIndexEntry returns the encoding of a leaf without mini-runs.
func EmptyLeafIndexEntry() LeafIndexEntry { return LeafIndexEntry{0, 0, 0, 0} }

// NumMiniRuns returns the number of mini-runs in the leaf.
func (e LeafIndexEntry) NumMiniRuns() uint32 {
	if len(e) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(e[len(e)-4:])
}

// ForEach calls fn for each mini-run of the leaf in the given order. The
// index passed to fn is the insertion index of the mini-run, regardless of
// the order. The walk stops early when fn returns true.
func (e LeafIndexEntry) ForEach(fn func(MiniRunIndexEntry, uint32) bool, order TraversalOrder) error {
	if order == Backward {
		return e.walkBackward(fn)
	}

	var runs []MiniRunIndexEntry
	if err := e.walkBackward(func(ent MiniRunIndexEntry, _ uint32) bool {
		runs = append(runs, ent)
		return false
	}); err != nil {
		return err
	}

	for i := len(runs) - 1; i >= 0; i-- {
		if fn(runs[i], uint32(len(runs)-1-i)) {
			break
		}
	}
	return nil
}

// MiniRuns returns all mini-runs of the leaf in the given order.
func (e LeafIndexEntry) MiniRuns(order TraversalOrder) ([]MiniRunIndexEntry, error) {
	runs := make([]MiniRunIndexEntry, 0, e.sizeHint())
	err := e.ForEach(func(ent MiniRunIndexEntry, _ uint32) bool {
		runs = append(runs, ent)
		return false
	}, order)
	return runs, err
}

// MiniRunAt returns the mini-run with insertion index i.
func (e LeafIndexEntry) MiniRunAt(i uint32) (MiniRunIndexEntry, error) {
	if i >= e.NumMiniRuns() {
		return MiniRunIndexEntry{}, ErrNotFound
	}

	var res MiniRunIndexEntry
	err := e.walkBackward(func(ent MiniRunIndexEntry, n uint32) bool {
		if n == i {
			res = ent
			return true
		}
		return false
	})
	return res, err
}

// sizeHint returns the number of mini-runs the entry can hold at most, the
// stored count is not trusted.
func (e LeafIndexEntry) sizeHint() int {
	n := len(e) / (miniRunHeaderLen + 4)
	if num := e.NumMiniRuns(); uint64(num) < uint64(n) {
		n = int(num)
	}
	return n
}

func (e LeafIndexEntry) walkBackward(fn func(MiniRunIndexEntry, uint32) bool) error {
	if len(e) == 0 {
		return nil
	} else if len(e) < 4 {
		return errCorruptionf("leaf index entry too short (%d bytes)", len(e))
	}

	pos := len(e) - 4
	for n := e.NumMiniRuns(); n > 0; n-- {
		if pos < 4 {
			return errCorruptionf("leaf index entry truncated at mini-run %d", n-1)
		}
		pos -= 4

		size := int(binary.LittleEndian.Uint32(e[pos:]))
		if size > pos {
			return errCorruptionf("mini-run %d overruns leaf index entry, %d bytes must be <= %d", n-1, size, pos)
		}
		pos -= size

		ent, err := DecodeMiniRunIndexEntry(e[pos : pos+size : pos+size])
		if err != nil {
			return err
		} else if ent.Size() != size {
			return errCorruptionf("mini-run %d size mismatch, %d bytes must be %d", n-1, ent.Size(), size)
		}

		if fn(ent, n-1) {
			return nil
		}
	}

	if pos != 0 {
		return errCorruptionf("leaf index entry has %d unaccounted bytes", pos)
	}
	return nil
}
