package config

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrSyntax        = errors.New("wrong number of arguments")
	ErrUnknownKey    = errors.New("unknown config")
	ErrUnknownTarget = errors.New("unknown target")
	ErrUnknownMethod = errors.New("unknown table method")
	ErrInclude       = errors.New("bad table include")
	ErrMissing       = errors.New("missing field")
)

// An Error reports a configuration problem together with where it was found.
type Error struct {
	File string
	Line int
	Key  string
	Err  error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("%s:%d: %s: %v", e.File, e.Line, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Cause lets errors.Cause see through to the sentinel.
func (e *Error) Cause() error { return errors.Cause(e.Err) }
