package config

import (
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// zstdExt marks files that are stored zstd compressed.
const zstdExt = ".zst"

type zstdReadCloser struct {
	*zstd.Decoder
	f *os.File
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

type zstdWriteCloser struct {
	*zstd.Encoder
	f *os.File
}

func (z zstdWriteCloser) Close() error {
	if err := z.Encoder.Close(); err != nil {
		z.f.Close()
		return errors.Wrap(err, "")
	}
	return errors.Wrap(z.f.Close(), "")
}

// Open opens path for reading, decompressing it if its name ends in ".zst".
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if !strings.HasSuffix(path, zstdExt) {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, path)
	}
	return zstdReadCloser{Decoder: dec, f: f}, nil
}

// Create creates path for writing, compressing it if its name ends in ".zst".
func Create(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if !strings.HasSuffix(path, zstdExt) {
		return f, nil
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, path)
	}
	return zstdWriteCloser{Encoder: enc, f: f}, nil
}
