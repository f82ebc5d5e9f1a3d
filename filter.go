package leafstore

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const filterBaseLg = 11

// InternalFilter wraps a filter policy so that it operates on the user key
// portion of internal keys. Mini-runs store internal keys but are probed with
// lookup keys of arbitrary sequence numbers.
func InternalFilter(policy filter.Filter) filter.Filter {
	if policy == nil {
		return nil
	}
	if f, ok := policy.(iFilter); ok {
		return f
	}
	return iFilter{Filter: policy}
}

type iFilter struct{ filter.Filter }

func (f iFilter) Contains(filter, key []byte) bool {
	return f.Filter.Contains(filter, ExtractUserKey(key))
}

func (f iFilter) NewGenerator() filter.FilterGenerator {
	return iFilterGenerator{FilterGenerator: f.Filter.NewGenerator()}
}

type iFilterGenerator struct{ filter.FilterGenerator }

func (g iFilterGenerator) Add(key []byte) { g.FilterGenerator.Add(ExtractUserKey(key)) }

// --------------------------------------------------------------------

// FilterBlockWriter builds the filter block of a mini-run. All keys belong
// to the filter for block offset 0.
//
//	+----------+-----+------------+---------------+-----+-------------------------+--------------------+
//	| filter 0 | ... | filter n-1 | offset 0 (4b) | ... | offset of offsets (4b)  | base lg (1 byte)   |
//	+----------+-----+------------+---------------+-----+-------------------------+--------------------+
type FilterBlockWriter struct {
	gen   filter.FilterGenerator
	nkeys int
}

// NewFilterBlockWriter inits a new writer for the given policy.
func NewFilterBlockWriter(policy filter.Filter) *FilterBlockWriter {
	return &FilterBlockWriter{gen: policy.NewGenerator()}
}

// Add adds a key to the filter.
func (w *FilterBlockWriter) Add(key []byte) {
	w.gen.Add(key)
	w.nkeys++
}

// NumKeys returns the number of added keys.
func (w *FilterBlockWriter) NumKeys() int { return w.nkeys }

// Finish generates the filter block. The writer must not be used afterwards.
func (w *FilterBlockWriter) Finish() []byte {
	var buf util.Buffer
	w.gen.Generate(&buf)

	data := buf.Bytes()
	offs := uint32(len(data))
	data = appendFixed32(data, 0)
	data = appendFixed32(data, offs)
	return append(data, filterBaseLg)
}

// FilterBlockReader probes a filter block.
type FilterBlockReader struct {
	policy filter.Filter
	data   []byte

	offsets int // position of the offset array
	num     int // number of filters
	baseLg  uint
}

// NewFilterBlockReader wraps filter block data. Malformed data yields a
// reader that reports every key as a potential match.
func NewFilterBlockReader(policy filter.Filter, data []byte) *FilterBlockReader {
	r := &FilterBlockReader{policy: policy}

	n := len(data)
	if n < 5 {
		return r
	}

	offs := int(binary.LittleEndian.Uint32(data[n-5:]))
	if offs > n-5 {
		return r
	}

	r.data = data
	r.offsets = offs
	r.num = (n - 5 - offs) / 4
	r.baseLg = uint(data[n-1])
	return r
}

// KeyMayMatch returns false only if key is definitely not contained in
// the filter for the given block offset.
func (r *FilterBlockReader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	i := int(blockOffset >> r.baseLg)
	if i >= r.num {
		return true
	}

	pos := r.offsets + i*4
	start := binary.LittleEndian.Uint32(r.data[pos:])
	limit := binary.LittleEndian.Uint32(r.data[pos+4:])
	if start < limit && int(limit) <= r.offsets {
		return r.policy.Contains(r.data[start:limit], key)
	} else if start == limit {
		return false
	}
	return true
}
