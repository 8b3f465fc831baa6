// Package ac defines the static probability model the arithmetic coding algorithm requires.
// A ProbabilityTable is trained once from a reference sample, and a SegmentTable partitions [0,1) among its symbols.
// See its subpackages for particular realizations of the coding algorithm.
package ac

import (
	"io"
	"math"
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrEmptyReference is returned when a probability table is trained on zero bytes.
	ErrEmptyReference = errors.New("empty training reference")

	// ErrUnknownSymbol is returned when a symbol has no segment in the table.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrOutOfRange is returned when a code lies outside [0,1) or no segment covers it.
	ErrOutOfRange = errors.New("code out of range")

	// ErrPrecision is returned when a group narrows the interval below what a double can represent.
	ErrPrecision = errors.New("interval narrowed beyond double precision")

	// ErrNumSeq is returned when the number of symbols per code is not positive.
	ErrNumSeq = errors.New("symbols per code must be positive")

	// ErrInvalidTable is returned when a probability table does not describe a distribution.
	ErrInvalidTable = errors.New("invalid probability table")
)

// A ProbabilityTable maps each known symbol to its probability.
// Symbols absent from the table cannot be coded.
type ProbabilityTable map[byte]float64

// Symbols returns the symbols of the table in ascending numeric order.
func (pt ProbabilityTable) Symbols() []byte {
	syms := make([]byte, 0, len(pt))
	for s := range pt {
		syms = append(syms, s)
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i] < syms[j] })
	return syms
}

// Sum returns the sum of all probabilities, accumulated in ascending symbol order.
func (pt ProbabilityTable) Sum() float64 {
	var sum float64
	for _, s := range pt.Symbols() {
		sum += pt[s]
	}
	return sum
}

// Normalize divides every entry by textLen.
// It is used when a table is given as raw occurrence counts.
func (pt ProbabilityTable) Normalize(textLen int64) error {
	if textLen <= 0 {
		return errors.Wrapf(ErrInvalidTable, "text length %d", textLen)
	}
	for s, p := range pt {
		pt[s] = p / float64(textLen)
	}
	return nil
}

// Validate checks that every probability lies in (0,1] and that they sum to one within tol.
func (pt ProbabilityTable) Validate(tol float64) error {
	if len(pt) == 0 {
		return errors.Wrap(ErrInvalidTable, "no symbols")
	}
	for _, s := range pt.Symbols() {
		p := pt[s]
		if !(p > 0 && p <= 1) {
			return errors.Wrapf(ErrInvalidTable, "symbol %d has probability %v", s, p)
		}
	}
	if sum := pt.Sum(); math.Abs(sum-1) > tol {
		return errors.Wrapf(ErrInvalidTable, "probabilities sum to %v", sum)
	}
	return nil
}

// Clone returns a copy of the table.
func (pt ProbabilityTable) Clone() ProbabilityTable {
	c := make(ProbabilityTable, len(pt))
	for s, p := range pt {
		c[s] = p
	}
	return c
}

// Counts holds per symbol occurrence counts of a reference sample.
type Counts struct {
	n     [256]uint64
	total uint64
}

// Observe counts the bytes of p.
func (c *Counts) Observe(p []byte) {
	for _, b := range p {
		c.n[b]++
	}
	c.total += uint64(len(p))
}

// Total returns the number of bytes observed so far.
func (c *Counts) Total() uint64 {
	return c.total
}

// Table divides each count by the total.
// Only symbols that were observed receive an entry.
func (c *Counts) Table() (ProbabilityTable, error) {
	if c.total == 0 {
		return nil, ErrEmptyReference
	}
	pt := make(ProbabilityTable)
	for s, n := range c.n {
		if n == 0 {
			continue
		}
		pt[byte(s)] = float64(n) / float64(c.total)
	}
	return pt, nil
}

// Train builds a probability table from ref in a single scan.
func Train(ref []byte) (ProbabilityTable, error) {
	var c Counts
	c.Observe(ref)
	return c.Table()
}

// TrainReader builds a probability table from everything read from r.
// It also returns the number of bytes read.
func TrainReader(r io.Reader) (ProbabilityTable, int64, error) {
	var c Counts
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		c.Observe(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, int64(c.total), errors.Wrap(err, "")
		}
	}
	pt, err := c.Table()
	if err != nil {
		return nil, 0, err
	}
	return pt, int64(c.total), nil
}
