package segment

import (
	"encoding/binary"
	"io"

	"github.com/bsm/leafstore"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/filter"
)

// WriterOptions define writer specific options.
type WriterOptions struct {
	// BlockSize is the minimum uncompressed size in bytes of each block.
	// Default: 4KiB.
	BlockSize int

	// BlockRestartInterval is the number of keys between restart points
	// for delta encoding of keys.
	//
	// Default: 16.
	BlockRestartInterval int

	// The compression codec to use.
	// Default: SnappyCompression.
	Compression Compression

	// Comparer orders user keys.
	// Default: comparer.DefaultComparer.
	Comparer comparer.Comparer

	// FilterPolicy, if set, is used to generate a filter for each
	// mini-run. Keys are filtered by their user key portion.
	// Default: nil.
	FilterPolicy filter.Filter
}

func (o *WriterOptions) norm() *WriterOptions {
	var oo WriterOptions
	if o != nil {
		oo = *o
	}

	if oo.BlockSize < 1 {
		oo.BlockSize = 1 << 12
	}
	if oo.BlockRestartInterval < 1 {
		oo.BlockRestartInterval = 16
	}
	if !oo.Compression.isValid() {
		oo.Compression = SnappyCompression
	}
	if oo.Comparer == nil {
		oo.Comparer = comparer.DefaultComparer
	}

	return &oo
}

// MiniRunHandle describes a finished mini-run.
type MiniRunHandle struct {
	RunNumber  uint32 // ordinal of the mini-run within the segment
	NumEntries int    // number of entries
	BlockIndex []byte // serialized block index
	Filter     []byte // serialized filter block, may be empty
}

// IndexEntry encodes the handle as a mini-run index entry of the given
// segment and appends it to dst.
func (h *MiniRunHandle) IndexEntry(dst []byte, segNo uint32) []byte {
	return leafstore.AppendMiniRunIndexEntry(dst, segNo, h.RunNumber, h.BlockIndex, h.Filter)
}

// Writer instances can write a segment, one mini-run at a time.
type Writer struct {
	w      io.Writer
	o      *WriterOptions
	icmp   comparer.Comparer
	policy filter.Filter

	offset  int64   // number of bytes written
	runs    []int64 // start offsets of finished runs
	started bool    // true if a run is in progress

	runOff  int64     // start offset of the current run
	lastKey []byte    // the last appended key
	blen    int       // the number of entries in the current block
	soffs   []int     // section offsets in the current block
	nkeys   int       // the number of entries in the current run
	index   []byte    // the block index of the current run
	filters *leafstore.FilterBlockWriter

	buf []byte // plain buffer
	snp []byte // snappy  buffer
	tmp []byte // scratch buffer
}

// NewWriter wraps a writer and returns a Writer.
func NewWriter(w io.Writer, o *WriterOptions) *Writer {
	o = o.norm()
	return &Writer{
		w:      w,
		o:      o,
		icmp:   leafstore.InternalComparer(o.Comparer),
		policy: leafstore.InternalFilter(o.FilterPolicy),
		tmp:    make([]byte, 3*binary.MaxVarintLen64),
	}
}

// NumRuns returns the number of finished mini-runs.
func (w *Writer) NumRuns() int { return len(w.runs) }

// StartMiniRun starts a new mini-run.
func (w *Writer) StartMiniRun() error {
	if w.tmp == nil {
		return errClosed
	}
	if w.started {
		return errRunStarted
	}

	w.started = true
	w.runOff = w.offset
	w.nkeys = 0
	w.index = nil
	if w.policy != nil {
		w.filters = leafstore.NewFilterBlockWriter(w.policy)
	}
	return nil
}

// Append appends an entry to the current mini-run. Internal keys must be
// appended in strictly increasing order.
func (w *Writer) Append(ikey, value []byte) error {
	if w.tmp == nil {
		return errClosed
	}
	if !w.started {
		return errRunNotStarted
	}
	if _, err := leafstore.ParseInternalKey(ikey); err != nil {
		return err
	}

	if w.nkeys != 0 && w.icmp.Compare(ikey, w.lastKey) <= 0 {
		return errors.Errorf("segment: attempted an out-of-order append, %q must be > %q", ikey, w.lastKey)
	}

	if len(w.buf) != 0 && len(w.buf)+len(ikey)+len(value)+3*binary.MaxVarintLen64 > w.o.BlockSize {
		if err := w.flush(); err != nil {
			return err
		}
	}

	shared := 0
	if w.blen%w.o.BlockRestartInterval == 0 { // new section?
		w.soffs = append(w.soffs, len(w.buf))
	} else {
		shared = sharedPrefixLen(w.lastKey, ikey) // apply delta-encoding
	}

	n := binary.PutUvarint(w.tmp[0:], uint64(shared))
	n += binary.PutUvarint(w.tmp[n:], uint64(len(ikey)-shared))
	n += binary.PutUvarint(w.tmp[n:], uint64(len(value)))
	w.buf = append(w.buf, w.tmp[:n]...)
	w.buf = append(w.buf, ikey[shared:]...)
	w.buf = append(w.buf, value...)

	if w.filters != nil {
		w.filters.Add(ikey)
	}

	w.blen++
	w.nkeys++
	w.lastKey = append(w.lastKey[:0], ikey...)

	return nil
}

// FinishMiniRun flushes the current mini-run and returns its handle.
func (w *Writer) FinishMiniRun() (*MiniRunHandle, error) {
	if w.tmp == nil {
		return nil, errClosed
	}
	if !w.started {
		return nil, errRunNotStarted
	}
	if err := w.flush(); err != nil {
		return nil, err
	}

	h := &MiniRunHandle{
		RunNumber:  uint32(len(w.runs)),
		NumEntries: w.nkeys,
		BlockIndex: w.index,
	}
	if w.filters != nil {
		h.Filter = w.filters.Finish()
		w.filters = nil
	}

	w.runs = append(w.runs, w.runOff)
	w.started = false
	w.index = nil
	return h, nil
}

// Close writes the run handles and the footer. It fails if a mini-run is
// still in progress.
func (w *Writer) Close() error {
	if w.tmp == nil {
		return errClosed
	}
	if w.started {
		return errRunStarted
	}

	for _, off := range w.runs {
		binary.LittleEndian.PutUint64(w.tmp, uint64(off))
		if err := w.writeRaw(w.tmp[:8]); err != nil {
			return err
		}
	}

	binary.LittleEndian.PutUint64(w.tmp, uint64(8*len(w.runs)))
	if err := w.writeRaw(w.tmp[:8]); err != nil {
		return err
	}
	if err := w.writeRaw(magic); err != nil {
		return err
	}

	w.tmp = nil
	return nil
}

func (w *Writer) writeRaw(p []byte) error {
	n, err := w.w.Write(p)
	w.offset += int64(n)
	return err
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}

	for _, o := range w.soffs {
		if o > 0 {
			binary.LittleEndian.PutUint32(w.tmp, uint32(o))
			w.buf = append(w.buf, w.tmp[:4]...)
		}
	}
	binary.LittleEndian.PutUint32(w.tmp, uint32(len(w.soffs)))
	w.buf = append(w.buf, w.tmp[:4]...)

	var block []byte
	switch w.o.Compression {
	case SnappyCompression:
		w.snp = snappy.Encode(w.snp[:cap(w.snp)], w.buf)
		if len(w.snp) < len(w.buf)-len(w.buf)/4 {
			block = append(w.snp, blockSnappyCompression)
		} else {
			block = append(w.buf, blockNoCompression)
		}
	default:
		block = append(w.buf, blockNoCompression)
	}

	offset := w.offset
	if err := w.writeRaw(block); err != nil {
		return err
	}

	w.index = appendBlockInfo(w.index, blockInfo{
		LastKey: w.lastKey,
		Offset:  offset,
		Size:    int64(len(block)),
	})
	w.buf = w.buf[:0]
	w.soffs = w.soffs[:0]
	w.blen = 0

	return nil
}

func sharedPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
