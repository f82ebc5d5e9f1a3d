package leafstore

import (
	"math"

	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

type dir int

const (
	dirReleased dir = iota - 1
	dirSOI
	dirEOI
	dirBackward
	dirForward
)

// leafStoreIterator is a two-level iterator. The outer iterator walks the
// leaf index, the inner one merges the mini-runs of the current leaf.
type leafStoreIterator struct {
	s  *Store
	ro *opt.ReadOptions

	index iterator.Iterator
	leaf  iterator.Iterator

	dir      dir
	err      error // non-iterator errors only
	releaser util.Releaser
}

func (i *leafStoreIterator) Valid() bool {
	return i.err == nil && i.leaf != nil && i.leaf.Valid() && i.index.Valid()
}

func (i *leafStoreIterator) First() bool {
	if !i.reset() {
		return false
	}
	if !i.index.First() {
		return i.eoi()
	}
	if !i.openLeaf() {
		return false
	}
	i.leaf.First()
	return i.forward()
}

func (i *leafStoreIterator) Last() bool {
	if !i.reset() {
		return false
	}
	if !i.index.Last() {
		return i.soi()
	}
	if !i.openLeaf() {
		return false
	}
	i.leaf.Last()
	return i.backward()
}

// Seek positions the iterator at the first internal key >= key. The leaf
// index is searched by the user key portion of key.
func (i *leafStoreIterator) Seek(key []byte) bool {
	if !i.reset() {
		return false
	}
	if !i.index.Seek(ExtractUserKey(key)) {
		return i.eoi()
	}
	if !i.openLeaf() {
		return false
	}
	i.leaf.Seek(key)
	return i.forward()
}

func (i *leafStoreIterator) Next() bool {
	if i.dir == dirReleased {
		i.err = ErrReleased
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

	i.leaf.Next()
	return i.forward()
}

func (i *leafStoreIterator) Prev() bool {
	if i.dir == dirReleased {
		i.err = ErrReleased
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

	i.leaf.Prev()
	return i.backward()
}

func (i *leafStoreIterator) Key() []byte {
	if !i.Valid() {
		return nil
	}
	return i.leaf.Key()
}

func (i *leafStoreIterator) Value() []byte {
	if !i.Valid() {
		return nil
	}
	return i.leaf.Value()
}

// Error returns the first error of: the iterator itself, the leaf index and
// the current leaf.
func (i *leafStoreIterator) Error() error {
	if i.err != nil {
		return i.err
	}
	if err := i.index.Error(); err != nil {
		return err
	}
	if i.leaf == nil {
		if i.index.Valid() {
			return errCorruptionf("empty leaf reference")
		}
		return nil
	}
	return i.leaf.Error()
}

func (i *leafStoreIterator) Release() {
	if i.dir == dirReleased {
		return
	}

	i.dir = dirReleased
	i.releaseLeaf()
	i.index.Release()
	if i.releaser != nil {
		i.releaser.Release()
		i.releaser = nil
	}
}

func (i *leafStoreIterator) SetReleaser(releaser util.Releaser) {
	if i.dir == dirReleased {
		panic(util.ErrReleased)
	}
	if i.releaser != nil && releaser != nil {
		panic(util.ErrHasReleaser)
	}
	i.releaser = releaser
}

func (i *leafStoreIterator) reset() bool {
	if i.dir == dirReleased {
		i.err = ErrReleased
		return false
	}
	i.err = nil
	return true
}

// openLeaf replaces the inner iterator with one for the current leaf.
func (i *leafStoreIterator) openLeaf() bool {
	i.releaseLeaf()

	it, err := i.s.NewIteratorForLeaf(i.ro, LeafIndexEntry(i.index.Value()), 0, math.MaxUint32)
	if err != nil {
		i.err = err
		return false
	}
	i.leaf = it
	return true
}

func (i *leafStoreIterator) releaseLeaf() {
	if i.leaf != nil {
		i.leaf.Release()
		i.leaf = nil
	}
}

// forward skips exhausted leaves until the inner iterator is positioned.
func (i *leafStoreIterator) forward() bool {
	for !i.leaf.Valid() {
		if i.leaf.Error() != nil {
			return false
		}
		if !i.index.Next() {
			return i.eoi()
		}
		if !i.openLeaf() {
			return false
		}
		i.leaf.First()
	}
	i.dir = dirForward
	return true
}

// backward skips exhausted leaves until the inner iterator is positioned.
func (i *leafStoreIterator) backward() bool {
	for !i.leaf.Valid() {
		if i.leaf.Error() != nil {
			return false
		}
		if !i.index.Prev() {
			return i.soi()
		}
		if !i.openLeaf() {
			return false
		}
		i.leaf.Last()
	}
	i.dir = dirBackward
	return true
}

func (i *leafStoreIterator) soi() bool {
	i.releaseLeaf()
	i.dir = dirSOI
	return false
}

func (i *leafStoreIterator) eoi() bool {
	i.releaseLeaf()
	i.dir = dirEOI
	return false
}
