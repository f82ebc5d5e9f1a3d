package leafstore_test

import (
	"sort"

	"github.com/bsm/leafstore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/syndtr/goleveldb/leveldb/comparer"
)

var _ = Describe("InternalKey", func() {
	It("should make and parse", func() {
		ikey := leafstore.MakeInternalKey(nil, []byte("key"), 0x010203, leafstore.KindValue)
		Expect(ikey).To(Equal([]byte("key\x01\x03\x02\x01\x00\x00\x00\x00")))

		pk, err := leafstore.ParseInternalKey(ikey)
		Expect(err).NotTo(HaveOccurred())
		Expect(pk.UserKey).To(Equal([]byte("key")))
		Expect(pk.Seq).To(Equal(uint64(0x010203)))
		Expect(pk.Kind).To(Equal(leafstore.KindValue))
		Expect(leafstore.ExtractUserKey(ikey)).To(Equal([]byte("key")))
	})

	It("should support empty user keys", func() {
		ikey := leafstore.MakeInternalKey(nil, nil, 7, leafstore.KindDeletion)
		Expect(ikey).To(HaveLen(8))

		pk, err := leafstore.ParseInternalKey(ikey)
		Expect(err).NotTo(HaveOccurred())
		Expect(pk.UserKey).To(BeEmpty())
		Expect(pk.Kind).To(Equal(leafstore.KindDeletion))
	})

	It("should reject bad keys", func() {
		_, err := leafstore.ParseInternalKey([]byte("short"))
		Expect(leafstore.IsCorruption(err)).To(BeTrue())

		_, err = leafstore.ParseInternalKey(leafstore.MakeInternalKey(nil, []byte("k"), 1, leafstore.Kind(9)))
		Expect(leafstore.IsCorruption(err)).To(BeTrue())

		Expect(func() {
			leafstore.MakeInternalKey(nil, []byte("k"), leafstore.MaxSequence+1, leafstore.KindValue)
		}).To(Panic())
	})

	It("should format kinds", func() {
		Expect(leafstore.KindDeletion.String()).To(Equal("DEL"))
		Expect(leafstore.KindValue.String()).To(Equal("VAL"))
		Expect(leafstore.Kind(5).String()).To(Equal("UNKNOWN"))
	})

	It("should build lookup keys", func() {
		lk := leafstore.NewLookupKey([]byte("key"), 42)
		Expect(lk.UserKey()).To(Equal([]byte("key")))
		Expect(lk.InternalKey()).To(Equal(leafstore.MakeInternalKey(nil, []byte("key"), 42, leafstore.KindValue)))
	})
})

var _ = Describe("InternalComparer", func() {
	var subject = leafstore.InternalComparer(nil)

	ikey := func(ukey string, seq uint64, kind leafstore.Kind) []byte {
		return leafstore.MakeInternalKey(nil, []byte(ukey), seq, kind)
	}

	It("should order by user key, then newest first", func() {
		keys := [][]byte{
			ikey("b", 1, leafstore.KindValue),
			ikey("a", 1, leafstore.KindValue),
			ikey("b", 3, leafstore.KindDeletion),
			ikey("a", 2, leafstore.KindDeletion),
			ikey("b", 3, leafstore.KindValue),
		}
		sort.Slice(keys, func(i, j int) bool { return subject.Compare(keys[i], keys[j]) < 0 })
		Expect(keys).To(Equal([][]byte{
			ikey("a", 2, leafstore.KindDeletion),
			ikey("a", 1, leafstore.KindValue),
			ikey("b", 3, leafstore.KindValue),
			ikey("b", 3, leafstore.KindDeletion),
			ikey("b", 1, leafstore.KindValue),
		}))
	})

	It("should place lookup keys before all visible versions", func() {
		lk := leafstore.NewLookupKey([]byte("b"), 3)
		Expect(subject.Compare(lk.InternalKey(), ikey("b", 3, leafstore.KindValue))).To(Equal(0))
		Expect(subject.Compare(lk.InternalKey(), ikey("b", 3, leafstore.KindDeletion))).To(Equal(-1))
		Expect(subject.Compare(lk.InternalKey(), ikey("b", 4, leafstore.KindValue))).To(Equal(1))
		Expect(subject.Compare(lk.InternalKey(), ikey("a", 1, leafstore.KindValue))).To(Equal(1))
	})

	It("should shorten separators", func() {
		sep := subject.Separator(nil, ikey("abcdef", 5, leafstore.KindValue), ikey("abzz", 9, leafstore.KindValue))
		Expect(sep).To(Equal(leafstore.MakeInternalKey(nil, []byte("abd"), leafstore.MaxSequence, leafstore.KindValue)))
		Expect(subject.Compare(ikey("abcdef", 5, leafstore.KindValue), sep)).To(Equal(-1))
		Expect(subject.Compare(sep, ikey("abzz", 9, leafstore.KindValue))).To(Equal(-1))

		Expect(subject.Separator(nil, ikey("abc", 5, leafstore.KindValue), ikey("abd", 9, leafstore.KindValue))).To(BeNil())
	})

	It("should shorten successors", func() {
		succ := subject.Successor(nil, ikey("abc", 5, leafstore.KindValue))
		Expect(succ).To(Equal(leafstore.MakeInternalKey(nil, []byte("b"), leafstore.MaxSequence, leafstore.KindValue)))
	})

	It("should be named", func() {
		Expect(subject.Name()).To(Equal("leafstore.InternalKeyComparator"))
		Expect(leafstore.InternalComparer(comparer.DefaultComparer).Compare(ikey("a", 1, 1), ikey("a", 1, 1))).To(Equal(0))
	})
})
