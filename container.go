package sac

import (
	"io"
	"math"

	"github.com/fumin/sac/ac"
	"github.com/icza/bitio"
	"github.com/pkg/errors"
)

const magic = "SAC1"

var (
	// ErrFormat is returned when a stream does not start with a valid header.
	ErrFormat = errors.New("not a sac stream")

	// ErrChecksum is returned when decompressed data does not match the checksum of the original.
	ErrChecksum = errors.New("checksum mismatch")
)

// A header precedes the code stream. All fields are big-endian.
//
//	magic     4 bytes "SAC1"
//	numSeq    uint32, symbols per code
//	total     uint64, number of symbols of the original
//	checksum  uint64, xxhash64 of the original
//	entries   uint16, followed by entries × (symbol uint8, probability float64)
type header struct {
	numSeq   int
	total    int64
	checksum uint64
	table    ac.ProbabilityTable
}

func (h *header) write(w io.Writer) error {
	bw := bitio.NewWriter(w)
	for i := 0; i < len(magic); i++ {
		bw.TryWriteByte(magic[i])
	}
	bw.TryWriteBits(uint64(h.numSeq), 32)
	bw.TryWriteBits(uint64(h.total), 64)
	bw.TryWriteBits(h.checksum, 64)
	syms := h.table.Symbols()
	bw.TryWriteBits(uint64(len(syms)), 16)
	for _, s := range syms {
		bw.TryWriteByte(s)
		bw.TryWriteBits(math.Float64bits(h.table[s]), 64)
	}
	if bw.TryError != nil {
		return errors.Wrap(bw.TryError, "")
	}
	return errors.Wrap(bw.Close(), "")
}

// readHeader reads a header from r.
// The caller must pass an io.ByteReader, so that no byte beyond the header is consumed.
func readHeader(r io.Reader) (*header, error) {
	br := bitio.NewReader(r)
	for i := 0; i < len(magic); i++ {
		if b := br.TryReadByte(); br.TryError == nil && b != magic[i] {
			return nil, errors.Wrapf(ErrFormat, "bad magic byte %d", i)
		}
	}
	h := &header{}
	h.numSeq = int(br.TryReadBits(32))
	h.total = int64(br.TryReadBits(64))
	h.checksum = br.TryReadBits(64)
	n := int(br.TryReadBits(16))
	if br.TryError != nil {
		return nil, errors.Wrapf(ErrFormat, "%v", br.TryError)
	}
	if n > 256 || h.numSeq < 1 || h.total < 0 {
		return nil, errors.Wrapf(ErrFormat, "numSeq %d, total %d, %d entries", h.numSeq, h.total, n)
	}
	h.table = make(ac.ProbabilityTable, n)
	for i := 0; i < n; i++ {
		s := br.TryReadByte()
		h.table[s] = math.Float64frombits(br.TryReadBits(64))
	}
	if br.TryError != nil {
		return nil, errors.Wrapf(ErrFormat, "%v", br.TryError)
	}
	return h, nil
}
