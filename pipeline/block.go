package pipeline

import "github.com/pkg/errors"

// A Kind tells which variant a Block is.
type Kind int

const (
	Bytes Kind = iota
	Codes
)

func (k Kind) String() string {
	if k == Codes {
		return "codes"
	}
	return "bytes"
}

// A Block is the unit handed from one stage to the next.
// It is either a ByteBlock or a CodeBlock.
type Block interface {
	Kind() Kind
	Len() int
}

// A ByteBlock holds raw symbols.
type ByteBlock []byte

func (ByteBlock) Kind() Kind { return Bytes }
func (b ByteBlock) Len() int { return len(b) }

// A CodeBlock holds arithmetic codes, one per group of symbols.
type CodeBlock []float64

func (CodeBlock) Kind() Kind { return Codes }
func (b CodeBlock) Len() int { return len(b) }

// Elem is the element type of a Block variant.
type Elem interface {
	byte | float64
}

// blockData returns the elements of b, which must be of the variant whose element type is T.
// A nil block has no elements.
func blockData[T Elem](b Block) ([]T, error) {
	var data interface{}
	switch b := b.(type) {
	case nil:
		return nil, nil
	case ByteBlock:
		data = []byte(b)
	case CodeBlock:
		data = []float64(b)
	default:
		return nil, errors.Wrapf(ErrIncompatible, "unknown block %T", b)
	}
	v, ok := data.([]T)
	if !ok {
		var zero T
		return nil, errors.Wrapf(ErrIncompatible, "%s block read as %T", b.Kind(), zero)
	}
	return v, nil
}

// A Result tells what Cursor.Next found.
type Result int

const (
	// Item means a value was returned.
	Item Result = iota

	// EndOfWindow means the window over the current block is exhausted.
	// The cursor has rewound and will read the producer's next block.
	EndOfWindow

	// StreamEnded means the producer has finished and no block will follow.
	StreamEnded
)

func (r Result) String() string {
	switch r {
	case Item:
		return "item"
	case EndOfWindow:
		return "end of window"
	}
	return "stream ended"
}

// An edge connects a producer to one of its consumers.
type edge struct {
	from *Stage
	to   *Stage

	// seen is the sequence number of the producer's block the consumer last claimed.
	seen uint64
}

// port is the consumer side of an edge, a *Cursor[byte] or a *Cursor[float64].
type port interface {
	link() *edge

	// claim takes the producer's current block for reading.
	// It must be called with the pipeline lock held.
	claim() error
}

// A Cursor reads the window [start, start+length) of a producer's current block.
// A length of zero extends the window to the end of the block.
type Cursor[T Elem] struct {
	e      *edge
	start  int
	length int

	index int
	data  []T
	ended bool
}

func (c *Cursor[T]) link() *edge { return c.e }

func (c *Cursor[T]) claim() error {
	data, err := blockData[T](c.e.from.block)
	if err != nil {
		return errors.Wrapf(err, "from %s", c.e.from.name)
	}
	c.e.seen = c.e.from.seq
	c.ended = c.e.from.over
	c.data = data
	c.index = c.start
	return nil
}

// Next returns the next element of the window.
func (c *Cursor[T]) Next() (T, Result) {
	var zero T
	if c.ended {
		return zero, StreamEnded
	}
	end := len(c.data)
	if c.length > 0 && c.start+c.length < end {
		end = c.start + c.length
	}
	if c.index >= end {
		c.index = c.start
		return zero, EndOfWindow
	}
	v := c.data[c.index]
	c.index++
	return v, Item
}

// Producer returns the stage this cursor reads from.
func (c *Cursor[T]) Producer() *Stage {
	return c.e.from
}

// drain appends the rest of c's window to dst.
func drain[T Elem](c *Cursor[T], dst []T) []T {
	for {
		v, r := c.Next()
		if r != Item {
			return dst
		}
		dst = append(dst, v)
	}
}
