package segment_test

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/bsm/leafstore"
	"github.com/bsm/leafstore/segment"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ = Describe("Manager", func() {
	var dir string
	var reg *prometheus.Registry
	var subject *segment.Manager

	create := func(segNo uint32, vals ...[]byte) *segment.MiniRunHandle {
		w, err := subject.Create(segNo, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.StartMiniRun()).To(Succeed())
		for i, val := range vals {
			Expect(w.Append(ikey(i, 1), val)).To(Succeed())
		}
		h, err := w.FinishMiniRun()
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Close()).To(Succeed())
		return h
	}

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "leafstore-segment-test")
		Expect(err).NotTo(HaveOccurred())

		reg = prometheus.NewPedanticRegistry()
		subject, err = segment.NewManager(filepath.Join(dir, "segs"), &segment.ManagerOptions{
			OpenFilesCacheCapacity: 2,
			Registerer:             reg,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(subject.Close()).To(Succeed())
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("should name files", func() {
		Expect(subject.FileName(7)).To(Equal(filepath.Join(dir, "segs", "000007.seg")))
	})

	It("should create and open segments", func() {
		val := bytes.Repeat([]byte("testdata"), 64)
		h := create(7, val, val, val)

		seg, err := subject.OpenSegment(7)
		Expect(err).NotTo(HaveOccurred())

		run, err := seg.OpenMiniRun(h.RunNumber, h.BlockIndex)
		Expect(err).NotTo(HaveOccurred())
		seg.Release()
		seg.Release()

		iter := run.NewIterator(nil)
		iter.SetReleaser(run)
		defer iter.Release()

		n := 0
		for iter.Next() {
			Expect(iter.Key()).To(Equal(ikey(n, 1)))
			Expect(iter.Value()).To(Equal(val))
			n++
		}
		Expect(iter.Error()).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))
	})

	It("should cache open segments", func() {
		h := create(1, []byte("a"))
		create(2, []byte("b"))

		for i := 0; i < 3; i++ {
			seg, err := subject.OpenSegment(1)
			Expect(err).NotTo(HaveOccurred())
			run, err := seg.OpenMiniRun(h.RunNumber, h.BlockIndex)
			Expect(err).NotTo(HaveOccurred())
			run.Release()
			seg.Release()
		}

		seg, err := subject.OpenSegment(2)
		Expect(err).NotTo(HaveOccurred())
		seg.Release()

		Expect(testutil.GatherAndCount(reg, "leafstore_segment_opens_total")).To(Equal(1))
		mfs, err := reg.Gather()
		Expect(err).NotTo(HaveOccurred())
		Expect(mfs).To(HaveLen(1))
		Expect(mfs[0].GetMetric()[0].GetCounter().GetValue()).To(Equal(2.0))
	})

	It("should fail on missing segments", func() {
		_, err := subject.OpenSegment(9)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should fail on corrupt segments", func() {
		Expect(os.WriteFile(subject.FileName(3), []byte("not a segment file"), 0644)).To(Succeed())

		_, err := subject.OpenSegment(3)
		Expect(leafstore.IsCorruption(err)).To(BeTrue())
	})

	It("should reject bad mini-runs", func() {
		create(1, []byte("a"))

		seg, err := subject.OpenSegment(1)
		Expect(err).NotTo(HaveOccurred())
		defer seg.Release()

		_, err = seg.OpenMiniRun(1, nil)
		Expect(leafstore.IsCorruption(err)).To(BeTrue())
	})

	It("should only expose finished segments", func() {
		w, err := subject.Create(4, nil)
		Expect(err).NotTo(HaveOccurred())

		_, err = subject.OpenSegment(4)
		Expect(os.IsNotExist(err)).To(BeTrue())

		Expect(w.Discard()).To(Succeed())
		_, err = os.Stat(subject.FileName(4) + ".tmp")
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should remove temporary files on failure", func() {
		w, err := subject.Create(6, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.StartMiniRun()).To(Succeed())

		Expect(w.Close()).To(MatchError(`segment: mini-run already started`))
		_, err = os.Stat(subject.FileName(6) + ".tmp")
		Expect(os.IsNotExist(err)).To(BeTrue())
		_, err = os.Stat(subject.FileName(6))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should not overwrite segments", func() {
		create(5)

		_, err := subject.Create(5, nil)
		Expect(err).To(MatchError(`segment: 5 already exists`))
	})
})
