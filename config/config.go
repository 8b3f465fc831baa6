// Package config parses the configuration of a pipeline stage.
//
// A configuration file holds one directive per line, its words separated by a space, ':' or '=':
//
//	# encoder
//	target encode
//	num 4
//	block 4096
//	table english.tbl
//	table_method read
//
// The "table_method read" directive includes the probability table named by the preceding "table" directive,
// and "table_method write <reference>" trains a table from reference and persists it there.
package config

import (
	"fmt"

	"github.com/fumin/sac/ac"
	"github.com/pkg/errors"
)

// A Target selects the role of a stage.
type Target int

const (
	Encode Target = iota
	Decode
	Read
	Write
)

var targetNames = map[string]Target{
	"encode": Encode,
	"decode": Decode,
	"read":   Read,
	"write":  Write,
}

func (t Target) String() string {
	switch t {
	case Encode:
		return "encode"
	case Decode:
		return "decode"
	case Read:
		return "read"
	case Write:
		return "write"
	}
	return fmt.Sprintf("Target(%d)", int(t))
}

// ParseTarget returns the Target named s.
func ParseTarget(s string) (Target, error) {
	t, ok := targetNames[s]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownTarget, "%q, want encode|decode|read|write", s)
	}
	return t, nil
}

// A Config is the immutable record a stage is built from.
type Config struct {
	Target Target

	// NumSeq is the number of symbols coded per code.
	NumSeq int

	// TextLen, when set, is the length by which raw "prob" counts are normalized.
	TextLen int64

	// Total, when set, is the number of symbols of the coded stream.
	// A decoder truncates its output to Total.
	Total int64

	// BlockSize is the I/O chunk size in bytes of a source.
	// For a consumer it sizes the window when Window is zero.
	BlockSize int

	// Window bounds how many elements of a producer's block this stage reads per cycle.
	// Zero means BlockSize, or all of the block if that is zero too.
	Window int

	// Start orders this stage's output relative to sibling producers feeding the same consumer,
	// and is the first element of its window over a producer's block.
	Start int

	TablePath string
	Table     ac.ProbabilityTable
}

// Validate checks that c carries what its target requires.
func (c *Config) Validate() error {
	switch c.Target {
	case Encode, Decode:
		if c.NumSeq < 1 {
			return errors.Wrapf(ErrMissing, "%s needs num >= 1, got %d", c.Target, c.NumSeq)
		}
		if len(c.Table) == 0 {
			return errors.Wrapf(ErrMissing, "%s needs a probability table", c.Target)
		}
	case Read:
		if c.BlockSize < 1 {
			return errors.Wrapf(ErrMissing, "read needs block >= 1, got %d", c.BlockSize)
		}
	case Write:
	default:
		return errors.Wrapf(ErrUnknownTarget, "%d", int(c.Target))
	}
	if c.Start < 0 || c.Window < 0 {
		return errors.Wrapf(ErrSyntax, "negative window %d+%d", c.Start, c.Window)
	}
	return nil
}

// WindowSize returns the number of elements a consumer reads from each block of a producer.
// Zero means the rest of the block.
func (c *Config) WindowSize() int {
	if c.Window > 0 {
		return c.Window
	}
	return c.BlockSize
}
