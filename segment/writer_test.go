package segment_test

import (
	"bytes"

	"github.com/bsm/leafstore"
	"github.com/bsm/leafstore/segment"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/syndtr/goleveldb/leveldb/filter"
)

var _ = Describe("Writer", func() {
	var buf *bytes.Buffer
	var subject *segment.Writer
	var testdata = []byte("testdata")

	BeforeEach(func() {
		buf = new(bytes.Buffer)
		subject = segment.NewWriter(buf, nil)
	})

	AfterEach(func() {
		_ = subject.Close()
	})

	It("should write empty", func() {
		Expect(subject.Close()).To(Succeed())
		Expect(buf.Len()).To(Equal(16))
		Expect(buf.String()[buf.Len()-8:]).To(Equal("LEAFSEG\xDB"))
	})

	It("should write empty mini-runs", func() {
		Expect(subject.StartMiniRun()).To(Succeed())
		h, err := subject.FinishMiniRun()
		Expect(err).NotTo(HaveOccurred())
		Expect(h.RunNumber).To(Equal(uint32(0)))
		Expect(h.NumEntries).To(Equal(0))
		Expect(h.BlockIndex).To(BeEmpty())
		Expect(subject.NumRuns()).To(Equal(1))

		Expect(subject.Close()).To(Succeed())
		Expect(buf.Len()).To(Equal(24))
	})

	It("should require mini-runs", func() {
		Expect(subject.Append(ikey(1, 1), testdata)).To(MatchError(`segment: no mini-run started`))
		_, err := subject.FinishMiniRun()
		Expect(err).To(MatchError(`segment: no mini-run started`))

		Expect(subject.StartMiniRun()).To(Succeed())
		Expect(subject.StartMiniRun()).To(MatchError(`segment: mini-run already started`))
		Expect(subject.Close()).To(MatchError(`segment: mini-run already started`))

		_, err = subject.FinishMiniRun()
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Close()).To(Succeed())
		Expect(subject.StartMiniRun()).To(MatchError(`segment: is closed`))
		Expect(subject.Close()).To(MatchError(`segment: is closed`))
	})

	It("should validate keys", func() {
		Expect(subject.StartMiniRun()).To(Succeed())
		err := subject.Append([]byte("short"), testdata)
		Expect(leafstore.IsCorruption(err)).To(BeTrue())
	})

	It("should prevent out-of-order appends", func() {
		Expect(subject.StartMiniRun()).To(Succeed())
		Expect(subject.Append(ikey(20, 1), testdata)).To(Succeed())
		Expect(subject.Append(ikey(19, 1), testdata)).To(MatchError(ContainSubstring(`segment: attempted an out-of-order append`)))
		Expect(subject.Append(ikey(22, 1), testdata)).To(Succeed())
		Expect(subject.Append(ikey(22, 1), testdata)).To(MatchError(ContainSubstring(`segment: attempted an out-of-order append`)))

		// newer versions of a key sort first
		Expect(subject.Append(ikey(22, 2), testdata)).To(MatchError(ContainSubstring(`segment: attempted an out-of-order append`)))
		Expect(subject.Append(ikey(23, 2), testdata)).To(Succeed())
		Expect(subject.Append(ikey(23, 1), testdata)).To(Succeed())

		// order is reset per mini-run
		_, err := subject.FinishMiniRun()
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.StartMiniRun()).To(Succeed())
		Expect(subject.Append(ikey(1, 1), testdata)).To(Succeed())
	})

	It("should number mini-runs", func() {
		for i := 0; i < 3; i++ {
			h, err := seedRun(subject, 10, 1, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.RunNumber).To(Equal(uint32(i)))
			Expect(h.NumEntries).To(Equal(10))
			Expect(h.BlockIndex).NotTo(BeEmpty())
			Expect(h.Filter).To(BeEmpty())
		}
		Expect(subject.NumRuns()).To(Equal(3))
		Expect(subject.Close()).To(Succeed())
	})

	It("should encode index entries", func() {
		h, err := seedRun(subject, 10, 1, 1)
		Expect(err).NotTo(HaveOccurred())

		ent, err := leafstore.DecodeMiniRunIndexEntry(h.IndexEntry(nil, 33))
		Expect(err).NotTo(HaveOccurred())
		Expect(ent.SegmentNumber()).To(Equal(uint32(33)))
		Expect(ent.RunNumber()).To(Equal(uint32(0)))
		Expect(ent.BlockIndex()).To(Equal(h.BlockIndex))
	})

	It("should generate filters", func() {
		subject = segment.NewWriter(buf, &segment.WriterOptions{
			FilterPolicy: filter.NewBloomFilter(10),
		})

		h, err := seedRun(subject, 100, 1, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Filter).NotTo(BeEmpty())

		r := leafstore.NewFilterBlockReader(leafstore.InternalFilter(filter.NewBloomFilter(10)), h.Filter)
		Expect(r.KeyMayMatch(0, ikey(42, 99))).To(BeTrue())
	})

	It("should write (non-compressable)", func() {
		_, err := seedRun(subject, 10000, 2, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Close()).To(Succeed())
		Expect(buf.Len()).To(BeNumerically(">", 10000*128))
		Expect(buf.String()[buf.Len()-8:]).To(Equal("LEAFSEG\xDB"))
	})

	It("should write (well-compressable)", func() {
		val := bytes.Repeat(testdata, 16)

		Expect(subject.StartMiniRun()).To(Succeed())
		for n := 0; n < 10000; n += 2 {
			Expect(subject.Append(ikey(n, 1), val)).To(Succeed())
		}
		_, err := subject.FinishMiniRun()
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Close()).To(Succeed())
		Expect(buf.Len()).To(BeNumerically("<", 5000*128/2))
	})
})
