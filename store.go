package leafstore

import (
	"math"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/memdb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LeafIndex is the ordered map of leaf separator keys to encoded leaf index
// entries. A leaf owns all user keys that are less than or equal to its
// separator and greater than the separator of its predecessor.
//
// Both *leveldb.DB and *leveldb.Snapshot satisfy this interface.
type LeafIndex interface {
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

// SegmentManager opens segments by number.
type SegmentManager interface {
	OpenSegment(segNo uint32) (Segment, error)
}

// Segment is an open, reference-counted segment. It must be released after
// use.
type Segment interface {
	util.Releaser

	// OpenMiniRun opens a mini-run within the segment. The returned
	// mini-run holds its own reference to the segment.
	OpenMiniRun(runNo uint32, blockIndex []byte) (MiniRun, error)
}

// MiniRun is an open mini-run. It must be released after use.
type MiniRun interface {
	util.Releaser

	NewIterator(ro *opt.ReadOptions) iterator.Iterator
}

// MemLeafIndex exposes an in-memory memdb.DB as a LeafIndex. Unlike a
// leveldb.DB, its iterators do not operate on a snapshot.
type MemLeafIndex struct {
	*memdb.DB
}

// NewIterator implements LeafIndex.
func (m MemLeafIndex) NewIterator(slice *util.Range, _ *opt.ReadOptions) iterator.Iterator {
	return m.DB.NewIterator(slice)
}

// --------------------------------------------------------------------

// Store serves reads from leaves of mini-runs. It holds no mutable state and
// is safe for concurrent use.
type Store struct {
	segs SegmentManager
	idx  LeafIndex

	ucmp    comparer.Comparer
	icmp    comparer.Comparer
	policy  filter.Filter
	logger  log.Logger
	metrics *storeMetrics
}

// Open opens a store on top of a segment manager and a leaf index.
func Open(segs SegmentManager, idx LeafIndex, o *Options) (*Store, error) {
	if segs == nil || idx == nil {
		return nil, errors.Wrap(ErrInvalidArgument, "segment manager and leaf index are required")
	}

	o = o.norm()
	return &Store{
		segs:    segs,
		idx:     idx,
		ucmp:    o.Comparer,
		icmp:    InternalComparer(o.Comparer),
		policy:  InternalFilter(o.FilterPolicy),
		logger:  o.Logger,
		metrics: newStoreMetrics(o.Registerer),
	}, nil
}

// InternalComparer returns the comparer used to order internal keys.
func (s *Store) InternalComparer() comparer.Comparer { return s.icmp }

// Get is a shortcut for Append(nil, ro, key).
// It may return an ErrNotFound error.
func (s *Store) Get(ro *opt.ReadOptions, key LookupKey) ([]byte, error) {
	return s.Append(nil, ro, key)
}

// Append retrieves the most recent value of a key and appends it to dst.
// Mini-runs of the owning leaf are consulted newest first. A deletion
// shadows all older versions and results in an ErrNotFound error.
func (s *Store) Append(dst []byte, ro *opt.ReadOptions, key LookupKey) ([]byte, error) {
	s.metrics.gets.Inc()

	it := s.idx.NewIterator(nil, ro)
	defer it.Release()

	if !it.Seek(key.UserKey()) {
		if err := it.Error(); err != nil {
			return dst, err
		}
		return dst, ErrNotFound
	}

	var (
		res = dst
		err = ErrNotFound
	)
	if ferr := LeafIndexEntry(it.Value()).ForEach(func(ent MiniRunIndexEntry, _ uint32) bool {
		var done bool
		res, done, err = s.lookup(dst, ro, key, ent)
		return done
	}, Backward); ferr != nil {
		return dst, ferr
	}

	if err == nil {
		s.metrics.getHits.Inc()
	}
	return res, err
}

// lookup searches a single mini-run. It returns done = true once the
// key has been resolved or the search must be aborted.
func (s *Store) lookup(dst []byte, ro *opt.ReadOptions, key LookupKey, ent MiniRunIndexEntry) ([]byte, bool, error) {
	if s.policy != nil && !NewFilterBlockReader(s.policy, ent.Filter()).KeyMayMatch(0, key.InternalKey()) {
		s.metrics.filterSkips.Inc()
		level.Debug(s.logger).Log("msg", "filter excluded key", "segment", ent.SegmentNumber(), "run", ent.RunNumber())
		return dst, false, ErrNotFound
	}

	run, err := s.openMiniRun(ent)
	if err != nil {
		return dst, true, err
	}

	it := run.NewIterator(ro)
	it.SetReleaser(run)
	defer it.Release()

	if !it.Seek(key.InternalKey()) {
		if err := it.Error(); err != nil {
			return dst, true, err
		}
		return dst, false, ErrNotFound
	}

	pk, err := ParseInternalKey(it.Key())
	if err != nil {
		return dst, true, err
	}
	if s.ucmp.Compare(pk.UserKey, key.UserKey()) != 0 {
		return dst, false, ErrNotFound
	}
	if pk.Kind == KindDeletion {
		return dst, true, ErrNotFound
	}
	return append(dst, it.Value()...), true, nil
}

// NewIteratorForLeaf returns a merging iterator across the mini-runs of
// a leaf whose insertion index lies within [start, end]. Each mini-run is
// released together with its iterator. On error, all mini-runs opened so far
// are released and no iterator is returned.
func (s *Store) NewIteratorForLeaf(ro *opt.ReadOptions, leaf LeafIndexEntry, start, end uint32) (iterator.Iterator, error) {
	iters := make([]iterator.Iterator, 0, leaf.sizeHint())

	var err error
	if ferr := leaf.ForEach(func(ent MiniRunIndexEntry, i uint32) bool {
		if i > end {
			return true
		} else if i < start {
			return false
		}

		run, e := s.openMiniRun(ent)
		if e != nil {
			err = e
			return true
		}

		it := run.NewIterator(ro)
		it.SetReleaser(run)
		iters = append(iters, it)
		return false
	}, Forward); ferr != nil && err == nil {
		err = ferr
	}

	if err != nil {
		for _, it := range iters {
			it.Release()
		}
		return nil, err
	}
	return iterator.NewMergedIterator(iters, s.icmp, ro.GetStrict(opt.StrictReader)), nil
}

// NewLeafIterator is a shortcut for NewIteratorForLeaf across all mini-runs.
func (s *Store) NewLeafIterator(ro *opt.ReadOptions, leaf LeafIndexEntry) (iterator.Iterator, error) {
	return s.NewIteratorForLeaf(ro, leaf, 0, math.MaxUint32)
}

// NewIterator returns an iterator across all leaves. Keys are internal keys,
// ordered by leaf and, within each leaf, by the internal key comparer. All
// versions of a key are returned, including deletions.
func (s *Store) NewIterator(ro *opt.ReadOptions) iterator.Iterator {
	return &leafStoreIterator{
		s:     s,
		ro:    ro,
		index: s.idx.NewIterator(nil, ro),
	}
}

func (s *Store) openMiniRun(ent MiniRunIndexEntry) (MiniRun, error) {
	segNo, runNo := ent.SegmentNumber(), ent.RunNumber()

	seg, err := s.segs.OpenSegment(segNo)
	if err != nil {
		s.metrics.openErrors.Inc()
		level.Error(s.logger).Log("msg", "error opening segment", "segment", segNo, "err", err)
		return nil, errors.Wrapf(err, "leafstore: open segment %d", segNo)
	}
	defer seg.Release()

	run, err := seg.OpenMiniRun(runNo, ent.BlockIndex())
	if err != nil {
		s.metrics.openErrors.Inc()
		level.Error(s.logger).Log("msg", "error opening mini-run", "segment", segNo, "run", runNo, "err", err)
		return nil, errors.Wrapf(err, "leafstore: open mini-run %d/%d", segNo, runNo)
	}

	s.metrics.miniRunsOpen.Inc()
	return run, nil
}
