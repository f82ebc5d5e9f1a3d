package leafstore

import (
	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/syndtr/goleveldb/leveldb/comparer"
	"github.com/syndtr/goleveldb/leveldb/filter"
)

// ErrNotFound is returned when a key cannot be found, or when the most recent
// version of the key is a deletion.
var ErrNotFound = errors.New("leafstore: not found")

// ErrCorruption is the cause of all errors triggered by malformed data.
var ErrCorruption = errors.New("leafstore: corruption")

// ErrInvalidArgument is returned when an argument is out of bounds.
var ErrInvalidArgument = errors.New("leafstore: invalid argument")

// ErrReleased is returned by iterators that were released.
var ErrReleased = errors.New("leafstore: iterator was released")

// IsNotFound returns true if the cause of err is ErrNotFound.
func IsNotFound(err error) bool { return errors.Cause(err) == ErrNotFound }

// IsCorruption returns true if the cause of err is ErrCorruption.
func IsCorruption(err error) bool { return errors.Cause(err) == ErrCorruption }

func errCorruptionf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorruption, format, args...)
}

// --------------------------------------------------------------------

// Options define store specific options.
type Options struct {
	// Comparer orders user keys. The leaf index must be ordered by the
	// same comparer.
	// Default: comparer.DefaultComparer.
	Comparer comparer.Comparer

	// FilterPolicy, if set, is used to probe the filter of each mini-run
	// before it is opened. It must match the policy the mini-runs were
	// written with (see InternalFilter).
	// Default: nil.
	FilterPolicy filter.Filter

	// Logger receives debug and error messages.
	// Default: log.NewNopLogger().
	Logger log.Logger

	// Registerer, if set, receives the store metrics.
	// Default: nil.
	Registerer prometheus.Registerer
}

func (o *Options) norm() *Options {
	var oo Options
	if o != nil {
		oo = *o
	}

	if oo.Comparer == nil {
		oo.Comparer = comparer.DefaultComparer
	}
	if oo.Logger == nil {
		oo.Logger = log.NewNopLogger()
	}

	return &oo
}
