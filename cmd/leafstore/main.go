package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/bsm/leafstore"
	"github.com/bsm/leafstore/segment"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type config struct {
	IndexDir     string
	SegmentDir   string
	LogLevel     string
	BloomBits    int
	OpenSegments int
}

func loadConfig(args []string) (*config, []string, error) {
	// a missing .env file is fine
	_ = godotenv.Load(".env")

	cfg := &config{
		IndexDir:   os.Getenv("LEAFSTORE_INDEX_DIR"),
		SegmentDir: os.Getenv("LEAFSTORE_SEGMENT_DIR"),
		LogLevel:   os.Getenv("LEAFSTORE_LOG_LEVEL"),
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	fs := flag.NewFlagSet("leafstore", flag.ContinueOnError)
	fs.StringVar(&cfg.IndexDir, "index", cfg.IndexDir, "leaf index directory (LEAFSTORE_INDEX_DIR)")
	fs.StringVar(&cfg.SegmentDir, "segments", cfg.SegmentDir, "segment directory (LEAFSTORE_SEGMENT_DIR)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "one of debug, info, warn, error (LEAFSTORE_LOG_LEVEL)")
	fs.IntVar(&cfg.BloomBits, "bloom-bits", 0, "bits per key of the bloom filter the mini-runs were written with, 0 to disable")
	fs.IntVar(&cfg.OpenSegments, "open-segments", 0, "number of segment files kept open")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: leafstore [options] get KEY | scan [PREFIX] | leaves")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if cfg.IndexDir == "" || cfg.SegmentDir == "" {
		fs.Usage()
		return nil, nil, errors.New("index and segment directories are required")
	}
	return cfg, fs.Args(), nil
}

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	cfg, args, err := loadConfig(os.Args[1:])
	if err == flag.ErrHelp {
		return
	} else if err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(2)
	}
	logger = level.NewFilter(logger, level.Allow(level.ParseDefault(cfg.LogLevel, level.InfoValue())))

	if err := run(cfg, args, logger); err != nil {
		level.Error(logger).Log("err", err)
		os.Exit(1)
	}
}

func run(cfg *config, args []string, logger log.Logger) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}

	idx, err := leveldb.OpenFile(cfg.IndexDir, &opt.Options{ReadOnly: true, ErrorIfMissing: true})
	if err != nil {
		return errors.Wrap(err, "open leaf index")
	}
	defer idx.Close()

	reg := prometheus.NewRegistry()
	segs, err := segment.NewManager(cfg.SegmentDir, &segment.ManagerOptions{
		OpenFilesCacheCapacity: cfg.OpenSegments,
		Logger:                 logger,
		Registerer:             reg,
	})
	if err != nil {
		return errors.Wrap(err, "open segments")
	}
	defer segs.Close()

	var policy filter.Filter
	if cfg.BloomBits > 0 {
		policy = filter.NewBloomFilter(cfg.BloomBits)
	}

	snap, err := idx.GetSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	store, err := leafstore.Open(segs, snap, &leafstore.Options{
		FilterPolicy: policy,
		Logger:       logger,
		Registerer:   reg,
	})
	if err != nil {
		return err
	}

	switch cmd := args[0]; cmd {
	case "get":
		if len(args) != 2 {
			return errors.New("usage: get KEY")
		}
		return get(store, []byte(args[1]))
	case "scan":
		var prefix []byte
		if len(args) > 1 {
			prefix = []byte(args[1])
		}
		return scan(store, prefix)
	case "leaves":
		return leaves(snap)
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
}

func get(store *leafstore.Store, key []byte) error {
	val, err := store.Get(nil, leafstore.NewLookupKey(key, leafstore.MaxSequence))
	if leafstore.IsNotFound(err) {
		return errors.Errorf("key %q not found", key)
	} else if err != nil {
		return err
	}

	_, err = fmt.Fprintf(os.Stdout, "%s\n", val)
	return err
}

func scan(store *leafstore.Store, prefix []byte) error {
	iter := store.NewIterator(nil)
	defer iter.Release()

	ok := iter.First()
	if len(prefix) != 0 {
		ok = iter.Seek(leafstore.NewLookupKey(prefix, leafstore.MaxSequence).InternalKey())
	}

	for ; ok; ok = iter.Next() {
		pk, err := leafstore.ParseInternalKey(iter.Key())
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(pk.UserKey, prefix) {
			break
		}
		fmt.Fprintf(os.Stdout, "%q\t%d\t%s\t%q\n", pk.UserKey, pk.Seq, pk.Kind, iter.Value())
	}
	return iter.Error()
}

func leaves(snap *leveldb.Snapshot) error {
	iter := snap.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		leaf := leafstore.LeafIndexEntry(iter.Value())
		runs, err := leaf.MiniRuns(leafstore.Forward)
		if err != nil {
			return errors.Wrapf(err, "leaf %q", iter.Key())
		}

		fmt.Fprintf(os.Stdout, "%q\t%d mini-runs\n", iter.Key(), len(runs))
		for i, ent := range runs {
			fmt.Fprintf(os.Stdout, "\t#%d\tsegment=%d run=%d index=%dB filter=%dB\n", i, ent.SegmentNumber(), ent.RunNumber(), len(ent.BlockIndex()), len(ent.Filter()))
		}
	}
	return iter.Error()
}
