package leafstore_test

import (
	"fmt"

	"github.com/bsm/leafstore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/syndtr/goleveldb/leveldb/filter"
)

var _ = Describe("FilterBlock", func() {
	var policy filter.Filter

	BeforeEach(func() {
		policy = leafstore.InternalFilter(filter.NewBloomFilter(10))
	})

	build := func(keys ...string) []byte {
		w := leafstore.NewFilterBlockWriter(policy)
		for i, k := range keys {
			w.Add(leafstore.MakeInternalKey(nil, []byte(k), uint64(i+1), leafstore.KindValue))
		}
		Expect(w.NumKeys()).To(Equal(len(keys)))
		return w.Finish()
	}

	It("should build blocks", func() {
		data := build("foo", "bar")
		Expect(len(data)).To(BeNumerically(">", 9))
		Expect(data[len(data)-1]).To(Equal(byte(11)))
	})

	It("should match contained keys at any sequence", func() {
		var keys []string
		for i := 0; i < 200; i++ {
			keys = append(keys, fmt.Sprintf("key%04d", i))
		}
		r := leafstore.NewFilterBlockReader(policy, build(keys...))

		for _, k := range keys {
			Expect(r.KeyMayMatch(0, leafstore.NewLookupKey([]byte(k), leafstore.MaxSequence).InternalKey())).To(BeTrue(), k)
			Expect(r.KeyMayMatch(0, leafstore.NewLookupKey([]byte(k), 1).InternalKey())).To(BeTrue(), k)
		}
	})

	It("should exclude most missing keys", func() {
		r := leafstore.NewFilterBlockReader(policy, build("foo", "bar", "baz"))

		misses := 0
		for i := 0; i < 1000; i++ {
			if !r.KeyMayMatch(0, lookup(fmt.Sprintf("missing%04d", i)).InternalKey()) {
				misses++
			}
		}
		Expect(misses).To(BeNumerically(">", 950))
	})

	It("should match everything on malformed data", func() {
		for _, data := range [][]byte{
			nil,
			{1, 2, 3},
			{0xff, 0xff, 0xff, 0xff, 11},
		} {
			r := leafstore.NewFilterBlockReader(policy, data)
			Expect(r.KeyMayMatch(0, lookup("any").InternalKey())).To(BeTrue())
		}
	})

	It("should match everything beyond the last filter", func() {
		r := leafstore.NewFilterBlockReader(policy, build("foo"))
		Expect(r.KeyMayMatch(1<<20, lookup("missing").InternalKey())).To(BeTrue())
	})

	It("should wrap policies once", func() {
		Expect(leafstore.InternalFilter(nil)).To(BeNil())
		Expect(leafstore.InternalFilter(policy)).To(Equal(policy))
	})
})
