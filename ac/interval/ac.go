// Package interval implements arithmetic coding with a static model in double precision.
// Each group of numSeq symbols narrows the interval [0,1) through the symbols' segments,
// and the midpoint of the final interval is emitted as one code.
//
// Precision is bounded by float64: the narrowed interval must stay wider than the spacing of doubles near the code,
// which in practice limits numSeq to a handful of symbols for realistic alphabets.
package interval

import (
	"math"

	"github.com/fumin/sac/ac"
	"github.com/pkg/errors"
)

// EncodeGroup narrows [0,1) through group and returns the midpoint of the final interval.
// An empty group yields 0.5, which callers are expected to discard.
// If the interval collapses, or the midpoint would not decode back to group, ac.ErrPrecision is returned
// with the position of the first symbol lost.
func EncodeGroup(group []byte, st *ac.SegmentTable) (float64, error) {
	left, right := 0.0, 1.0
	for i, sym := range group {
		seg, ok := st.Segment(sym)
		if !ok {
			return 0, errors.Wrapf(ac.ErrUnknownSymbol, "symbol %d at %d", sym, i)
		}
		arange := right - left
		right = left + arange*seg.Right
		left = left + arange*seg.Left
		if !(left < right) {
			return 0, errors.Wrapf(ac.ErrPrecision, "symbol %d at %d", sym, i)
		}
	}
	c := (left + right) / 2
	if !(c >= left && c < right && c < 1) {
		return 0, errors.Wrapf(ac.ErrPrecision, "midpoint %v of [%v, %v)", c, left, right)
	}

	// Decoding amplifies rounding errors, so check the code against the decoder itself.
	var buf [16]byte
	decoded, err := decodeCode(buf[:0], c, len(group), st)
	if err != nil {
		return 0, errors.Wrapf(ac.ErrPrecision, "%v", err)
	}
	for i := range group {
		if decoded[i] != group[i] {
			return 0, errors.Wrapf(ac.ErrPrecision, "symbol %d at %d decodes as %d", group[i], i, decoded[i])
		}
	}
	return c, nil
}

// Encode codes symbols in groups of numSeq, producing ceil(len(symbols)/numSeq) codes.
// The last group may be shorter than numSeq.
func Encode(symbols []byte, numSeq int, st *ac.SegmentTable) ([]float64, error) {
	if numSeq < 1 {
		return nil, errors.Wrapf(ac.ErrNumSeq, "%d", numSeq)
	}
	codes := make([]float64, 0, (len(symbols)+numSeq-1)/numSeq)
	for i := 0; i < len(symbols); i += numSeq {
		end := i + numSeq
		if end > len(symbols) {
			end = len(symbols)
		}
		c, err := EncodeGroup(symbols[i:end], st)
		if err != nil {
			return nil, errors.Wrapf(err, "group at %d", i)
		}
		codes = append(codes, c)
	}
	return codes, nil
}

// Decode expands every code into exactly numSeq symbols.
//
// A code carries no length of its own, so a code produced from a short final group still decodes to numSeq symbols,
// the tail of which is garbage.
// Callers that know the original length should use DecodeN instead.
func Decode(codes []float64, numSeq int, st *ac.SegmentTable) ([]byte, error) {
	return DecodeN(codes, numSeq, st, -1)
}

// DecodeN is like Decode, but stops after n symbols.
// A negative n means the length is unknown.
func DecodeN(codes []float64, numSeq int, st *ac.SegmentTable, n int) ([]byte, error) {
	if numSeq < 1 {
		return nil, errors.Wrapf(ac.ErrNumSeq, "%d", numSeq)
	}
	size := len(codes) * numSeq
	if n >= 0 && n < size {
		size = n
	}
	dst := make([]byte, 0, size)
	for i, c := range codes {
		if len(dst) == size {
			break
		}
		if !(c >= 0 && c < 1) {
			return nil, errors.Wrapf(ac.ErrOutOfRange, "code %v at %d", c, i)
		}
		m := numSeq
		if size-len(dst) < m {
			m = size - len(dst)
		}
		var err error
		if dst, err = decodeCode(dst, c, m, st); err != nil {
			return nil, errors.Wrapf(err, "code %v at %d", c, i)
		}
	}
	return dst, nil
}

// decodeCode appends the n symbols that code c expands to.
func decodeCode(dst []byte, c float64, n int, st *ac.SegmentTable) ([]byte, error) {
	for j := 0; j < n; j++ {
		sym, seg, ok := st.Find(c)
		if !ok {
			return nil, errors.Wrapf(ac.ErrOutOfRange, "symbol %d", j)
		}
		dst = append(dst, sym)
		c = (c - seg.Left) / seg.Width()
		// Rounding may push c onto the right bound of the segment.
		if c >= 1 {
			c = math.Nextafter(1, 0)
		} else if c < 0 {
			c = 0
		}
	}
	return dst, nil
}
