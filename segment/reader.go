package segment

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"sync"

	"github.com/bsm/leafstore"
	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Reader instances provide access to the mini-runs of a segment.
type Reader struct {
	r    io.ReaderAt
	icmp comparer.Comparer

	runs    []int64 // run start offsets
	dataEnd int64   // end of the last run
}

// NewReader opens a reader. The comparer must match the one the segment
// was written with, defaults to comparer.DefaultComparer.
func NewReader(r io.ReaderAt, size int64, ucmp comparer.Comparer) (*Reader, error) {
	if size < footerLen {
		return nil, errCorruptionf("file too short (%d bytes)", size)
	}

	tmp := make([]byte, footerLen)

	// read footer
	footerOffset := size - footerLen
	if _, err := r.ReadAt(tmp, footerOffset); err != nil {
		return nil, err
	}

	// parse footer
	if !bytes.Equal(tmp[8:16], magic) {
		return nil, errBadMagic
	}
	handlesSize := int64(binary.LittleEndian.Uint64(tmp[:8]))
	if handlesSize < 0 || handlesSize%8 != 0 || handlesSize > footerOffset {
		return nil, errCorruptionf("bad run handles size %d", handlesSize)
	}

	// read run handles
	handlesOffset := footerOffset - handlesSize
	raw := make([]byte, handlesSize)
	if _, err := r.ReadAt(raw, handlesOffset); err != nil {
		return nil, err
	}

	runs := make([]int64, 0, handlesSize/8)
	for pos := 0; pos < len(raw); pos += 8 {
		off := int64(binary.LittleEndian.Uint64(raw[pos:]))
		if off < 0 || off > handlesOffset || (len(runs) != 0 && off < runs[len(runs)-1]) {
			return nil, errCorruptionf("bad offset %d for run %d", off, len(runs))
		}
		runs = append(runs, off)
	}

	return &Reader{
		r:    r,
		icmp: leafstore.InternalComparer(ucmp),

		runs:    runs,
		dataEnd: handlesOffset,
	}, nil
}

// NumRuns returns the number of stored mini-runs.
func (r *Reader) NumRuns() int {
	return len(r.runs)
}

// OpenMiniRun opens a mini-run using its externally stored block index.
func (r *Reader) OpenMiniRun(runNo uint32, blockIndex []byte) (*MiniRun, error) {
	if int(runNo) >= len(r.runs) {
		return nil, errCorruptionf("mini-run %d not found, segment has %d runs", runNo, len(r.runs))
	}

	min := r.runs[runNo]
	max := r.dataEnd
	if next := int(runNo) + 1; next < len(r.runs) {
		max = r.runs[next]
	}

	index, err := decodeBlockIndex(blockIndex)
	if err != nil {
		return nil, err
	}

	pos := min
	for i, info := range index {
		if info.Offset < pos || info.Offset+info.Size > max {
			return nil, errCorruptionf("block %d of mini-run %d at [%d, %d) outside of [%d, %d)", i, runNo, info.Offset, info.Offset+info.Size, pos, max)
		}
		pos = info.Offset + info.Size
	}

	return &MiniRun{r: r, index: index}, nil
}

// --------------------------------------------------------------------

// MiniRun is an open mini-run.
type MiniRun struct {
	r     *Reader
	index []blockInfo

	once sync.Once
	ref  util.Releaser // reference on the segment, may be nil
}

// NumBlocks returns the number of blocks.
func (m *MiniRun) NumBlocks() int { return len(m.index) }

// Release releases the segment reference held by the mini-run.
func (m *MiniRun) Release() {
	m.once.Do(func() {
		if m.ref != nil {
			m.ref.Release()
		}
	})
}

// NewIterator returns a bidirectional iterator across the mini-run.
func (m *MiniRun) NewIterator(_ *opt.ReadOptions) iterator.Iterator {
	return &runIterator{m: m}
}

// Get is a convenience method that returns the value stored under the exact
// internal key.
func (m *MiniRun) Get(ikey []byte) ([]byte, error) {
	iter := m.NewIterator(nil)
	defer iter.Release()

	if !iter.Seek(ikey) {
		if err := iter.Error(); err != nil {
			return nil, err
		}
		return nil, leafstore.ErrNotFound
	}
	if m.r.icmp.Compare(iter.Key(), ikey) != 0 {
		return nil, leafstore.ErrNotFound
	}
	return append([]byte(nil), iter.Value()...), nil
}

// GetBlock returns a reader for the n-th block.
func (m *MiniRun) GetBlock(bpos int) (*BlockReader, error) {
	if bpos < 0 || bpos >= len(m.index) {
		return nil, errCorruptionf("block %d out of range", bpos)
	}
	return m.readBlock(bpos)
}

// SeekBlock returns the position of the first block that may contain
// keys >= ikey. It returns NumBlocks() if no such block exists.
func (m *MiniRun) SeekBlock(ikey []byte) int {
	return sort.Search(len(m.index), func(i int) bool {
		return m.r.icmp.Compare(m.index[i].LastKey, ikey) >= 0
	})
}

func (m *MiniRun) readBlock(bpos int) (*BlockReader, error) {
	info := m.index[bpos]

	raw := fetchBuffer(int(info.Size))
	if _, err := m.r.r.ReadAt(raw, info.Offset); err != nil {
		releaseBuffer(raw)
		return nil, err
	}

	var block []byte
	switch cBitPos := len(raw) - 1; raw[cBitPos] {
	case blockNoCompression:
		block = raw[:cBitPos]
	case blockSnappyCompression:
		defer releaseBuffer(raw)

		sz, err := snappy.DecodedLen(raw[:cBitPos])
		if err != nil {
			return nil, err
		}

		plain := fetchBuffer(sz)
		if block, err = snappy.Decode(plain, raw[:cBitPos]); err != nil {
			releaseBuffer(plain)
			return nil, err
		}
	default:
		releaseBuffer(raw)
		return nil, errBadCompression
	}

	if len(block) < 4 {
		releaseBuffer(block)
		return nil, errCorruptionf("block %d too short", bpos)
	}
	scnt := int(binary.LittleEndian.Uint32(block[len(block)-4:]))
	if scnt < 1 || scnt*4 > len(block) {
		releaseBuffer(block)
		return nil, errCorruptionf("block %d has bad section count %d", bpos, scnt)
	}

	return &BlockReader{
		block: block,
		bpos:  bpos,
		scnt:  scnt,
		icmp:  m.r.icmp,
	}, nil
}

// --------------------------------------------------------------------

// BlockReader reads a single block.
type BlockReader struct {
	block []byte
	bpos  int // the current block position
	scnt  int // the section count
	icmp  comparer.Comparer
}

// NumSections returns the number of sections in this block.
func (r *BlockReader) NumSections() int { return r.scnt }

// Pos returns the index position the current block within the mini-run.
func (r *BlockReader) Pos() int { return r.bpos }

// GetSection decodes a single section.
func (r *BlockReader) GetSection(spos int) (*SectionReader, error) {
	if spos < 0 || spos >= r.scnt {
		return nil, errCorruptionf("section %d out of range", spos)
	}

	min := r.sectionOffset(spos)
	max := r.sectionOffset(spos + 1)
	if min < 0 || max > len(r.block)-r.scnt*4 || min >= max {
		return nil, errCorruptionf("bad extent of section %d in block %d", spos, r.bpos)
	}
	return decodeSection(r.block[min:max], spos)
}

// SeekSection returns the position of the section that may contain
// the first key >= ikey.
func (r *BlockReader) SeekSection(ikey []byte) int {
	spos := sort.Search(r.scnt, func(i int) bool {
		first, ok := r.firstKey(i)
		return ok && r.icmp.Compare(first, ikey) > 0
	}) - 1
	if spos < 0 {
		return 0
	}
	return spos
}

// Release releases the block reader and frees up resources. The reader must not be used
// after this method is called.
func (r *BlockReader) Release() { releaseBuffer(r.block) }

// The first key of a section, which is always stored in full.
func (r *BlockReader) firstKey(spos int) ([]byte, bool) {
	off := r.sectionOffset(spos)
	end := len(r.block) - r.scnt*4
	if off < 0 || off >= end {
		return nil, false
	}

	p := r.block[off:end]
	if _, n := binary.Uvarint(p); n != 1 {
		return nil, false
	}
	p = p[1:]
	klen, n := binary.Uvarint(p)
	if n <= 0 {
		return nil, false
	}
	p = p[n:]
	if _, n = binary.Uvarint(p); n <= 0 {
		return nil, false
	}
	p = p[n:]
	if uint64(len(p)) < klen {
		return nil, false
	}
	return p[:klen], true
}

// The starting offset of the section within the block.
func (r *BlockReader) sectionOffset(spos int) int {
	if spos < 1 {
		return 0
	} else if spos >= r.scnt {
		return len(r.block) - r.scnt*4
	} else {
		nn := len(r.block) - r.scnt*4 + (spos-1)*4
		return int(binary.LittleEndian.Uint32(r.block[nn:]))
	}
}

// SectionReader holds the decoded entries of a section.
type SectionReader struct {
	spos int

	keys [][]byte
	vals [][]byte
}

func decodeSection(section []byte, spos int) (*SectionReader, error) {
	var (
		kbuf  []byte
		koffs []int
		vals  [][]byte
		prev  int // start of the previous key in kbuf
	)

	for read := 0; read < len(section); {
		shared, n1 := binary.Uvarint(section[read:])
		if n1 <= 0 {
			return nil, errCorruptionf("bad entry in section %d", spos)
		}
		unshared, n2 := binary.Uvarint(section[read+n1:])
		if n2 <= 0 {
			return nil, errCorruptionf("bad entry in section %d", spos)
		}
		vlen, n3 := binary.Uvarint(section[read+n1+n2:])
		if n3 <= 0 {
			return nil, errCorruptionf("bad entry in section %d", spos)
		}
		read += n1 + n2 + n3

		if prevLen := uint64(len(kbuf) - prev); shared > prevLen || (len(koffs) == 0 && shared != 0) {
			return nil, errCorruptionf("bad shared key length in section %d", spos)
		}
		if uint64(len(section)-read) < unshared || uint64(len(section)-read)-unshared < vlen {
			return nil, errCorruptionf("entry overruns section %d", spos)
		}

		start := len(kbuf)
		kbuf = append(kbuf, kbuf[prev:prev+int(shared)]...)
		kbuf = append(kbuf, section[read:read+int(unshared)]...)
		read += int(unshared)

		koffs = append(koffs, start)
		vals = append(vals, section[read:read+int(vlen):read+int(vlen)])
		read += int(vlen)
		prev = start
	}

	keys := make([][]byte, len(koffs))
	for i, off := range koffs {
		end := len(kbuf)
		if i+1 < len(koffs) {
			end = koffs[i+1]
		}
		keys[i] = kbuf[off:end:end]
	}
	return &SectionReader{spos: spos, keys: keys, vals: vals}, nil
}

// Pos returns the index position the current section within the block.
func (r *SectionReader) Pos() int { return r.spos }

// Len returns the number of entries in the section.
func (r *SectionReader) Len() int { return len(r.keys) }

// Search returns the position of the first key >= ikey.
func (r *SectionReader) Search(icmp comparer.Comparer, ikey []byte) int {
	return sort.Search(len(r.keys), func(i int) bool {
		return icmp.Compare(r.keys[i], ikey) >= 0
	})
}

// --------------------------------------------------------------------

type dir int

const (
	dirReleased dir = iota - 1
	dirSOI
	dirEOI
	dirBackward
	dirForward
)

// runIterator can iterate in both directions across block and section
// boundaries of a mini-run.
type runIterator struct {
	m *MiniRun
	b *BlockReader
	s *SectionReader
	n int // the entry position within the section

	dir      dir
	err      error
	releaser util.Releaser
}

func (i *runIterator) Valid() bool {
	return i.err == nil && (i.dir == dirForward || i.dir == dirBackward)
}

func (i *runIterator) First() bool {
	if !i.reset() {
		return false
	}
	if len(i.m.index) == 0 {
		return i.eoi()
	}
	if !i.setBlock(0) || !i.setSection(0) {
		return false
	}
	i.n = 0
	i.dir = dirForward
	return true
}

func (i *runIterator) Last() bool {
	if !i.reset() {
		return false
	}
	if len(i.m.index) == 0 {
		return i.soi()
	}
	if !i.setBlock(len(i.m.index)-1) || !i.setSection(i.b.NumSections()-1) {
		return false
	}
	i.n = i.s.Len() - 1
	i.dir = dirBackward
	return true
}

func (i *runIterator) Seek(key []byte) bool {
	if !i.reset() {
		return false
	}

	bpos := i.m.SeekBlock(key)
	if bpos >= len(i.m.index) {
		return i.eoi()
	}
	if !i.setBlock(bpos) || !i.setSection(i.b.SeekSection(key)) {
		return false
	}

	i.n = i.s.Search(i.m.r.icmp, key)
	i.dir = dirForward
	if i.n < i.s.Len() {
		return true
	}
	return i.forward()
}

func (i *runIterator) Next() bool {
	if i.dir == dirReleased {
		i.err = leafstore.ErrReleased
		return false
	}
	if i.err != nil {
		return false
	}

	switch i.dir {
	case dirSOI:
		return i.First()
	case dirEOI:
		return false
	}

	i.n++
	i.dir = dirForward
	if i.n < i.s.Len() {
		return true
	}
	return i.forward()
}

func (i *runIterator) Prev() bool {
	if i.dir == dirReleased {
		i.err = leafstore.ErrReleased
		return false
	}
	if i.err != nil {
		return false
	}

	switch i.dir {
	case dirSOI:
		return false
	case dirEOI:
		return i.Last()
	}

	i.n--
	i.dir = dirBackward
	if i.n >= 0 {
		return true
	}
	return i.backward()
}

func (i *runIterator) Key() []byte {
	if !i.Valid() {
		return nil
	}
	return i.s.keys[i.n]
}

func (i *runIterator) Value() []byte {
	if !i.Valid() {
		return nil
	}
	return i.s.vals[i.n]
}

func (i *runIterator) Error() error { return i.err }

func (i *runIterator) Release() {
	if i.dir == dirReleased {
		return
	}

	i.dir = dirReleased
	i.releaseBlock()
	if i.releaser != nil {
		i.releaser.Release()
		i.releaser = nil
	}
}

func (i *runIterator) SetReleaser(releaser util.Releaser) {
	if i.dir == dirReleased {
		panic(util.ErrReleased)
	}
	if i.releaser != nil && releaser != nil {
		panic(util.ErrHasReleaser)
	}
	i.releaser = releaser
}

func (i *runIterator) reset() bool {
	if i.dir == dirReleased {
		i.err = leafstore.ErrReleased
		return false
	}
	i.err = nil
	return true
}

// forward moves to the first entry of the next non-exhausted section.
func (i *runIterator) forward() bool {
	if next := i.s.Pos() + 1; next < i.b.NumSections() {
		if !i.setSection(next) {
			return false
		}
		i.n = 0
		return true
	}
	if next := i.b.Pos() + 1; next < len(i.m.index) {
		if !i.setBlock(next) || !i.setSection(0) {
			return false
		}
		i.n = 0
		return true
	}
	return i.eoi()
}

// backward moves to the last entry of the previous section.
func (i *runIterator) backward() bool {
	if prev := i.s.Pos() - 1; prev >= 0 {
		if !i.setSection(prev) {
			return false
		}
		i.n = i.s.Len() - 1
		return true
	}
	if prev := i.b.Pos() - 1; prev >= 0 {
		if !i.setBlock(prev) || !i.setSection(i.b.NumSections()-1) {
			return false
		}
		i.n = i.s.Len() - 1
		return true
	}
	return i.soi()
}

func (i *runIterator) setBlock(bpos int) bool {
	if i.b != nil && i.b.Pos() == bpos {
		return true
	}

	b, err := i.m.readBlock(bpos)
	if err != nil {
		i.err = err
		return false
	}

	i.releaseBlock()
	i.b = b
	return true
}

func (i *runIterator) setSection(spos int) bool {
	if i.s != nil && i.s.Pos() == spos {
		return true
	}

	s, err := i.b.GetSection(spos)
	if err != nil {
		i.err = err
		return false
	}
	i.s = s
	return true
}

func (i *runIterator) releaseBlock() {
	if i.b != nil {
		i.b.Release()
		i.b = nil
		i.s = nil
	}
}

func (i *runIterator) soi() bool {
	i.dir = dirSOI
	return false
}

func (i *runIterator) eoi() bool {
	i.dir = dirEOI
	return false
}

// --------------------------------------------------------------------

var bufPool sync.Pool

func fetchBuffer(sz int) []byte {
	if v := bufPool.Get(); v != nil {
		if p := v.([]byte); sz <= cap(p) {
			return p[:sz]
		}
	}
	return make([]byte, sz)
}

func releaseBuffer(p []byte) {
	if cap(p) != 0 {
		bufPool.Put(p)
	}
}
