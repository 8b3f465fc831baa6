// Package sac provides a static-model arithmetic coding compressor.
// A probability table is trained on the input in a first pass, and the input is then coded by a pipeline of
// a source, an encoder and a sink, running as independent goroutines, see package pipeline.
//
// Below is an example of using this package to compress Lincoln's Gettysburg address:
//    go run ./compress gettysburg.txt > gettys.sac
//    cat gettys.sac | go run ./decompress > gettys.dsac
//    diff gettysburg.txt gettys.dsac
//
// The compressed stream is a header, carrying the table, the number of symbols and a checksum of the original,
// followed by one 8 byte big-endian double per group of NumSeq symbols.
// The number of symbols in the header is what lets the decoder drop the padding of the final group.
package sac

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/fumin/sac/ac"
	"github.com/fumin/sac/config"
	"github.com/fumin/sac/pipeline"
	"github.com/pkg/errors"
)

const (
	// DefaultNumSeq suits text. Inputs where rare symbols cluster may need fewer symbols per code,
	// Compress fails with ac.ErrPrecision when they do.
	DefaultNumSeq = 4

	DefaultBlockSize = 4096
)

// Options control compression. The zero value is usable.
type Options struct {
	// NumSeq is the number of symbols coded per code.
	NumSeq int

	// BlockSize is the size of the blocks read from the input.
	BlockSize int

	// Table is the probability table to code with.
	// If nil, a table is trained on the input itself.
	Table ac.ProbabilityTable

	// Logf, if set, receives progress messages from the pipeline.
	Logf func(format string, args ...interface{})
}

func (opts Options) withDefaults() Options {
	if opts.NumSeq == 0 {
		opts.NumSeq = DefaultNumSeq
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	return opts
}

// scan counts the symbols of the file at name and hashes its contents.
func scan(name string) (*ac.Counts, uint64, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, 0, errors.Wrap(err, "")
	}
	defer f.Close()

	counts := &ac.Counts{}
	digest := xxhash.New()
	buf := make([]byte, 32*1024)
	for {
		n, err := f.Read(buf)
		counts.Observe(buf[:n])
		digest.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, errors.Wrap(err, "")
		}
	}
	return counts, digest.Sum64(), nil
}

// Compress compresses the file at name and writes the result to w.
// If ctx is cancelled, Compress returns nil with the output cut short, see pipeline.Pipeline.Run.
func Compress(ctx context.Context, w io.Writer, name string, opts Options) error {
	opts = opts.withDefaults()
	counts, checksum, err := scan(name)
	if err != nil {
		return errors.Wrap(err, "")
	}
	h := &header{numSeq: opts.NumSeq, total: int64(counts.Total()), checksum: checksum, table: opts.Table}
	if h.table == nil && h.total > 0 {
		if h.table, err = counts.Table(); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if err := h.write(w); err != nil {
		return errors.Wrap(err, "")
	}
	if h.total == 0 {
		return nil
	}

	f, err := os.Open(name)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer f.Close()

	p := pipeline.New()
	p.Logf = opts.Logf
	src, err := p.NewSource("source", config.Config{Target: config.Read, BlockSize: opts.BlockSize}, f)
	if err != nil {
		return errors.Wrap(err, "")
	}
	enc, err := p.NewCoder("encoder", config.Config{Target: config.Encode, NumSeq: opts.NumSeq, Table: h.table})
	if err != nil {
		return errors.Wrap(err, "")
	}
	sink, err := p.NewSink("sink", config.Config{Target: config.Write}, w)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := connect(p, src, enc, sink); err != nil {
		return errors.Wrap(err, "")
	}
	return p.Run(ctx)
}

func connect(p *pipeline.Pipeline, stages ...*pipeline.Stage) error {
	for i := 1; i < len(stages); i++ {
		if err := p.Connect(stages[i-1], stages[i]); err != nil {
			return err
		}
	}
	return nil
}

// countingWriter counts and hashes what is written through it.
type countingWriter struct {
	w      io.Writer
	n      int64
	digest *xxhash.Digest
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	cw.digest.Write(p[:n])
	return n, err
}

// Decompress decompresses what Compress wrote to r, and writes the original to w.
// Only opts.Logf is used, everything else is read from the stream header.
// ErrChecksum is returned if the result does not match the original.
func Decompress(ctx context.Context, w io.Writer, r io.Reader, opts Options) error {
	br := bufio.NewReader(r)
	h, err := readHeader(br)
	if err != nil {
		return errors.Wrap(err, "")
	}
	cw := &countingWriter{w: w, digest: xxhash.New()}

	if h.total > 0 {
		p := pipeline.New()
		p.Logf = opts.Logf
		src, err := p.NewCodeSource("source", config.Config{Target: config.Read, BlockSize: DefaultBlockSize}, br)
		if err != nil {
			return errors.Wrap(err, "")
		}
		dec, err := p.NewCoder("decoder", config.Config{Target: config.Decode, NumSeq: h.numSeq, Total: h.total, Table: h.table})
		if err != nil {
			return errors.Wrap(err, "")
		}
		sink, err := p.NewSink("sink", config.Config{Target: config.Write}, cw)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if err := connect(p, src, dec, sink); err != nil {
			return errors.Wrap(err, "")
		}
		if err := p.Run(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}

	if cw.n != h.total {
		return errors.Wrapf(ErrChecksum, "decoded %d of %d symbols", cw.n, h.total)
	}
	if sum := cw.digest.Sum64(); sum != h.checksum {
		return errors.Wrapf(ErrChecksum, "%016x != %016x", sum, h.checksum)
	}
	return nil
}
