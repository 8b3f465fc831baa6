package ac

import (
	"sort"

	"github.com/pkg/errors"
)

// tableTolerance bounds how far the probabilities of a table may sum away from one.
// Tables read back from text lose a few digits, hence the slack.
const tableTolerance = 1e-6

// A Segment is the half-open sub-interval [Left, Right) of [0,1) assigned to one symbol.
type Segment struct {
	Left  float64
	Right float64
}

// Width returns Right - Left.
func (s Segment) Width() float64 {
	return s.Right - s.Left
}

// Contains reports whether x lies in [Left, Right).
func (s Segment) Contains(x float64) bool {
	return s.Left <= x && x < s.Right
}

// A SegmentTable partitions [0,1) into per symbol segments.
// It is immutable once built and may be shared between goroutines.
type SegmentTable struct {
	known [256]bool
	segs  [256]Segment

	// order lists the known symbols ascending, so that segs[order[i]] are contiguous.
	order []byte
}

// Build derives a SegmentTable from pt.
// Segments are assigned in ascending symbol order, never in map iteration order,
// so that an encoder and a decoder loading the same table always agree.
func Build(pt ProbabilityTable) (*SegmentTable, error) {
	if err := pt.Validate(tableTolerance); err != nil {
		return nil, err
	}

	st := &SegmentTable{order: pt.Symbols()}
	var running float64
	for i, s := range st.order {
		right := running + pt[s]
		if i == len(st.order)-1 {
			right = 1
		}
		if right <= running {
			return nil, errors.Wrapf(ErrInvalidTable, "symbol %d has an empty segment", s)
		}
		st.known[s] = true
		st.segs[s] = Segment{Left: running, Right: right}
		running = right
	}
	return st, nil
}

// Segment returns the segment of sym, and false if sym is unknown.
func (st *SegmentTable) Segment(sym byte) (Segment, bool) {
	return st.segs[sym], st.known[sym]
}

// Find returns the symbol whose segment contains x.
func (st *SegmentTable) Find(x float64) (byte, Segment, bool) {
	if !(x >= 0 && x < 1) {
		return 0, Segment{}, false
	}
	i := sort.Search(len(st.order), func(i int) bool {
		return st.segs[st.order[i]].Right > x
	})
	if i == len(st.order) {
		return 0, Segment{}, false
	}
	sym := st.order[i]
	seg := st.segs[sym]
	if !seg.Contains(x) {
		return 0, Segment{}, false
	}
	return sym, seg, true
}

// Symbols returns the known symbols in ascending order.
func (st *SegmentTable) Symbols() []byte {
	return append([]byte(nil), st.order...)
}

// Len returns the number of known symbols.
func (st *SegmentTable) Len() int {
	return len(st.order)
}
