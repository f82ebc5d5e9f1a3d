package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bsm/leafstore"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/syndtr/goleveldb/leveldb/cache"
	"github.com/syndtr/goleveldb/leveldb/comparer"
)

// ManagerOptions define manager specific options.
type ManagerOptions struct {
	// OpenFilesCacheCapacity is the number of segment files kept open.
	// Default: 500.
	OpenFilesCacheCapacity int

	// Comparer orders user keys.
	// Default: comparer.DefaultComparer.
	Comparer comparer.Comparer

	// Logger receives debug and error messages.
	// Default: log.NewNopLogger().
	Logger log.Logger

	// Registerer, if set, receives the manager metrics.
	// Default: nil.
	Registerer prometheus.Registerer
}

func (o *ManagerOptions) norm() *ManagerOptions {
	var oo ManagerOptions
	if o != nil {
		oo = *o
	}

	if oo.OpenFilesCacheCapacity < 1 {
		oo.OpenFilesCacheCapacity = 500
	}
	if oo.Comparer == nil {
		oo.Comparer = comparer.DefaultComparer
	}
	if oo.Logger == nil {
		oo.Logger = log.NewNopLogger()
	}

	return &oo
}

// Manager opens segment files within a directory. Open segments are
// reference counted and kept in an LRU cache.
type Manager struct {
	dir    string
	o      *ManagerOptions
	cache  *cache.Cache
	logger log.Logger
	opens  prometheus.Counter
}

// NewManager inits a new manager for the segments in dir.
func NewManager(dir string, o *ManagerOptions) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	o = o.norm()
	m := &Manager{
		dir:    dir,
		o:      o,
		cache:  cache.NewCache(cache.NewLRU(o.OpenFilesCacheCapacity)),
		logger: log.With(o.Logger, "component", "segment.Manager"),
		opens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "segment_opens_total",
			Help: "Total number of opened segment files.",
		}),
	}
	if o.Registerer != nil {
		prometheus.WrapRegistererWithPrefix("leafstore_", o.Registerer).MustRegister(m.opens)
	}
	return m, nil
}

// FileName returns the file name of a segment.
func (m *Manager) FileName(segNo uint32) string {
	return filepath.Join(m.dir, fmt.Sprintf("%06d.seg", segNo))
}

// Create creates a new segment. The segment becomes visible to OpenSegment
// once the returned writer is closed.
func (m *Manager) Create(segNo uint32, o *WriterOptions) (*FileWriter, error) {
	name := m.FileName(segNo)
	if _, err := os.Stat(name); err == nil {
		return nil, errors.Errorf("segment: %d already exists", segNo)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	f, err := os.Create(name + ".tmp")
	if err != nil {
		return nil, err
	}

	var oo WriterOptions
	if o != nil {
		oo = *o
	}
	if oo.Comparer == nil {
		oo.Comparer = m.o.Comparer
	}

	return &FileWriter{Writer: NewWriter(f, &oo), f: f, name: name}, nil
}

// OpenSegment opens a segment. The returned segment must be released after use.
func (m *Manager) OpenSegment(segNo uint32) (leafstore.Segment, error) {
	var err error
	h := m.cache.Get(0, uint64(segNo), func() (int, cache.Value) {
		var fr *fileReader
		if fr, err = m.openFile(segNo); err != nil {
			return 0, nil
		}
		return 1, fr
	})
	if h == nil {
		if err == nil {
			err = errClosed
		}
		return nil, err
	}
	return &segmentRef{m: m, h: h, segNo: segNo}, nil
}

// Close closes the manager and all open segment files.
func (m *Manager) Close() error {
	return m.cache.Close()
}

func (m *Manager) openFile(segNo uint32) (*fileReader, error) {
	f, err := os.Open(m.FileName(segNo))
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	r, err := NewReader(f, fi.Size(), m.o.Comparer)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "segment: open %d", segNo)
	}

	m.opens.Inc()
	level.Debug(m.logger).Log("msg", "segment opened", "segment", segNo, "runs", r.NumRuns())
	return &fileReader{Reader: r, f: f, segNo: segNo, logger: m.logger}, nil
}

// --------------------------------------------------------------------

// fileReader is the cached value, the file is closed once the cache
// evicts it and all references have been released.
type fileReader struct {
	*Reader
	f      *os.File
	segNo  uint32
	logger log.Logger
}

func (r *fileReader) Release() {
	if err := r.f.Close(); err != nil {
		level.Error(r.logger).Log("msg", "error closing segment", "segment", r.segNo, "err", err)
		return
	}
	level.Debug(r.logger).Log("msg", "segment closed", "segment", r.segNo)
}

// segmentRef is a single reference to an open segment.
type segmentRef struct {
	m     *Manager
	h     *cache.Handle
	segNo uint32
	once  sync.Once
}

func (s *segmentRef) OpenMiniRun(runNo uint32, blockIndex []byte) (leafstore.MiniRun, error) {
	run, err := s.h.Value().(*fileReader).OpenMiniRun(runNo, blockIndex)
	if err != nil {
		return nil, err
	}

	ref := s.m.cache.Get(0, uint64(s.segNo), nil)
	if ref == nil {
		return nil, errClosed
	}
	run.ref = ref
	return run, nil
}

func (s *segmentRef) Release() {
	s.once.Do(s.h.Release)
}

// --------------------------------------------------------------------

// FileWriter writes a new segment file.
type FileWriter struct {
	*Writer
	f    *os.File
	name string
}

// Close finishes the segment, syncs and renames it to its final name.
func (w *FileWriter) Close() error {
	if err := w.Writer.Close(); err != nil {
		_ = w.Discard()
		return err
	}
	if err := w.f.Sync(); err != nil {
		_ = w.Discard()
		return err
	}
	if err := w.f.Close(); err != nil {
		return err
	}
	return os.Rename(w.f.Name(), w.name)
}

// Discard aborts the segment and removes the temporary file.
func (w *FileWriter) Discard() error {
	_ = w.f.Close()
	return os.Remove(w.f.Name())
}
