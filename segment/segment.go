package segment

import (
	"encoding/binary"

	"github.com/bsm/leafstore"
	"github.com/pkg/errors"
)

var magic = []byte{76, 69, 65, 70, 83, 69, 71, 219}

const footerLen = 16

const (
	blockNoCompression     = 0
	blockSnappyCompression = 1
)

var (
	errClosed         = errors.New("segment: is closed")
	errRunStarted     = errors.New("segment: mini-run already started")
	errRunNotStarted  = errors.New("segment: no mini-run started")
	errBadMagic       = errors.Wrap(leafstore.ErrCorruption, "segment: bad magic byte sequence")
	errBadCompression = errors.Wrap(leafstore.ErrCorruption, "segment: bad compression codec")
)

func errCorruptionf(format string, args ...interface{}) error {
	return errors.Wrapf(leafstore.ErrCorruption, "segment: "+format, args...)
}

type blockInfo struct {
	LastKey []byte // last internal key in the block
	Offset  int64  // block offset position
	Size    int64  // block size
}

func appendBlockInfo(dst []byte, info blockInfo) []byte {
	var tmp [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(tmp[:], uint64(len(info.LastKey)))
	dst = append(dst, tmp[:n]...)
	dst = append(dst, info.LastKey...)
	n = binary.PutUvarint(tmp[:], uint64(info.Offset))
	dst = append(dst, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(info.Size))
	return append(dst, tmp[:n]...)
}

func decodeBlockIndex(data []byte) ([]blockInfo, error) {
	var index []blockInfo

	for pos := 0; pos < len(data); {
		klen, n := binary.Uvarint(data[pos:])
		if n <= 0 || uint64(len(data)-pos-n) < klen {
			return nil, errCorruptionf("bad block index entry %d", len(index))
		}
		pos += n

		var info blockInfo
		info.LastKey = data[pos : pos+int(klen) : pos+int(klen)]
		pos += int(klen)

		off, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return nil, errCorruptionf("bad block offset in index entry %d", len(index))
		}
		pos += n

		sz, n := binary.Uvarint(data[pos:])
		if n <= 0 || sz == 0 {
			return nil, errCorruptionf("bad block size in index entry %d", len(index))
		}
		pos += n

		info.Offset = int64(off)
		info.Size = int64(sz)
		index = append(index, info)
	}
	return index, nil
}

// --------------------------------------------------------------------

// Compression is the compression codec
type Compression byte

func (c Compression) isValid() bool {
	return c >= SnappyCompression && c < unknownCompression
}

// Supported compression codecs
const (
	SnappyCompression Compression = iota
	NoCompression
	unknownCompression
)
