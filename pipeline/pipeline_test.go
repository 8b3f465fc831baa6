package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fumin/sac/ac"
	"github.com/fumin/sac/config"
	"github.com/pkg/errors"
)

func readConf(block, start int) config.Config {
	return config.Config{Target: config.Read, BlockSize: block, Start: start}
}

func writeConf() config.Config {
	return config.Config{Target: config.Write}
}

func coderConf(target config.Target, numSeq int, pt ac.ProbabilityTable) config.Config {
	return config.Config{Target: target, NumSeq: numSeq, Table: pt}
}

func encode(t *testing.T, x []byte, block, numSeq int, pt ac.ProbabilityTable) []byte {
	t.Helper()
	p := New()
	src, err := p.NewSource("src", readConf(block, 0), bytes.NewReader(x))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	enc, err := p.NewCoder("enc", coderConf(config.Encode, numSeq, pt))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var out bytes.Buffer
	sink, err := p.NewSink("sink", writeConf(), &out)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(src, enc); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(enc, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("%+v", err)
	}
	for _, s := range []*Stage{src, enc, sink} {
		if f := s.Flags(); !f.Over || f.Available {
			t.Errorf("%s: %+v", s.Name(), f)
		}
	}
	return out.Bytes()
}

func decode(t *testing.T, encoded []byte, block, numSeq int, total int64, pt ac.ProbabilityTable) []byte {
	t.Helper()
	p := New()
	src, err := p.NewCodeSource("src", readConf(block, 0), bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	cfg := coderConf(config.Decode, numSeq, pt)
	cfg.Total = total
	dec, err := p.NewCoder("dec", cfg)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var out bytes.Buffer
	sink, err := p.NewSink("sink", writeConf(), &out)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(src, dec); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(dec, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("%+v", err)
	}
	return out.Bytes()
}

func TestEncodeTwoSymbols(t *testing.T) {
	pt := ac.ProbabilityTable{'a': 0.5, 'b': 0.5}
	encoded := encode(t, []byte("ab"), 16, 2, pt)
	if len(encoded) != 8 {
		t.Fatalf("%d bytes", len(encoded))
	}
	if c := math.Float64frombits(binary.BigEndian.Uint64(encoded)); c != 0.375 {
		t.Errorf("%v", c)
	}
	if decoded := decode(t, encoded, 8, 2, 0, pt); string(decoded) != "ab" {
		t.Errorf("%q", decoded)
	}
}

func TestRoundTrip(t *testing.T) {
	gettys, err := os.ReadFile("../gettysburg.txt")
	if err != nil {
		t.Fatalf("%v", err)
	}
	pt, err := ac.Train(gettys)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	tests := []struct {
		block  int
		numSeq int
	}{
		{block: 4096, numSeq: 1},
		{block: 7, numSeq: 3},
		{block: 64, numSeq: 4},
		{block: 1, numSeq: 2},
	}
	for _, test := range tests {
		encoded := encode(t, gettys, test.block, test.numSeq, pt)
		codes := (len(gettys) + test.numSeq - 1) / test.numSeq
		if len(encoded) != 8*codes {
			t.Errorf("%+v: %d bytes, want %d codes", test, len(encoded), codes)
		}

		decoded := decode(t, encoded, 8*5, test.numSeq, int64(len(gettys)), pt)
		if !bytes.Equal(decoded, gettys) {
			t.Errorf("%+v: decoded %d bytes, want %d", test, len(decoded), len(gettys))
		}

		// Without the total length the final code expands to a full group.
		untrimmed := decode(t, encoded, 8, test.numSeq, 0, pt)
		if len(untrimmed) != codes*test.numSeq || !bytes.Equal(untrimmed[:len(gettys)], gettys) {
			t.Errorf("%+v: untrimmed %d bytes", test, len(untrimmed))
		}
	}
}

// TestFanInOrder checks that a consumer drains its producers by start ordinal, not by registration order.
func TestFanInOrder(t *testing.T) {
	p := New()
	inputs := map[int]string{2: "mnopqr", 0: "abcdef", 1: "ghijkl"}
	var sources []*Stage
	for _, start := range []int{2, 0, 1} {
		src, err := p.NewSource("src", readConf(3, start), strings.NewReader(inputs[start]))
		if err != nil {
			t.Fatalf("%+v", err)
		}
		sources = append(sources, src)
	}
	var out bytes.Buffer
	sink, err := p.NewSink("sink", writeConf(), &out)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, src := range sources {
		if err := p.Connect(src, sink); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("%+v", err)
	}
	if out.String() != "abcghimnodefjklpqr" {
		t.Errorf("%q", out.String())
	}
}

// TestFanInEncode checks that an encoder codes the blocks of its producers merged by start ordinal,
// carrying partial groups across the merge.
func TestFanInEncode(t *testing.T) {
	pt := make(ac.ProbabilityTable)
	for c := byte('a'); c <= 'j'; c++ {
		pt[c] = 0.1
	}

	p := New()
	inputs := map[int]string{1: "fghij", 0: "abcde"}
	var sources []*Stage
	for _, start := range []int{1, 0} {
		src, err := p.NewSource("src", readConf(2, start), strings.NewReader(inputs[start]))
		if err != nil {
			t.Fatalf("%+v", err)
		}
		sources = append(sources, src)
	}
	enc, err := p.NewCoder("enc", coderConf(config.Encode, 3, pt))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var out bytes.Buffer
	sink, err := p.NewSink("sink", writeConf(), &out)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, src := range sources {
		if err := p.Connect(src, enc); err != nil {
			t.Fatalf("%+v", err)
		}
	}
	if err := p.Connect(enc, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("%+v", err)
	}

	// 10 symbols in groups of 3.
	if out.Len() != 4*8 {
		t.Fatalf("%d bytes", out.Len())
	}
	decoded := decode(t, out.Bytes(), 16, 3, 10, pt)
	if string(decoded) != "abfgcdhiej" {
		t.Errorf("%q", decoded)
	}
}

// TestFanOutBlockWindows checks that a consumer without a window reads as many elements as its block.
func TestFanOutBlockWindows(t *testing.T) {
	p := New()
	src, err := p.NewSource("src", readConf(8, 0), strings.NewReader("abcdefghABCDEFGH"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var low, high bytes.Buffer
	lowConf, highConf := writeConf(), writeConf()
	lowConf.BlockSize = 3
	highConf.Start, highConf.BlockSize = 4, 2
	lowSink, err := p.NewSink("low", lowConf, &low)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	highSink, err := p.NewSink("high", highConf, &high)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(src, lowSink); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(src, highSink); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("%+v", err)
	}
	if low.String() != "abcABC" || high.String() != "efEF" {
		t.Errorf("%q %q", low.String(), high.String())
	}
}

func TestFanOutWindows(t *testing.T) {
	p := New()
	src, err := p.NewSource("src", readConf(8, 0), strings.NewReader("abcdefghABCDEFGH"))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var low, high bytes.Buffer
	lowConf, highConf := writeConf(), writeConf()
	lowConf.Window = 4
	highConf.Start, highConf.Window = 4, 4
	lowSink, err := p.NewSink("low", lowConf, &low)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	highSink, err := p.NewSink("high", highConf, &high)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(src, lowSink); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(src, highSink); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("%+v", err)
	}
	if low.String() != "abcdABCD" || high.String() != "efghEFGH" {
		t.Errorf("%q %q", low.String(), high.String())
	}
}

func TestCursor(t *testing.T) {
	producer := &Stage{seq: 1, block: ByteBlock("abcdef")}
	c := &Cursor[byte]{e: &edge{from: producer}, start: 1, length: 3}
	if err := c.claim(); err != nil {
		t.Fatalf("%+v", err)
	}
	var got []byte
	for v, r := c.Next(); r == Item; v, r = c.Next() {
		got = append(got, v)
	}
	if string(got) != "bcd" {
		t.Errorf("%q", got)
	}

	// The cursor rewound to the start of its window on the end of window.
	producer.block, producer.seq = ByteBlock("xy"), 2
	if err := c.claim(); err != nil {
		t.Fatalf("%+v", err)
	}
	if v, r := c.Next(); r != Item || v != 'y' {
		t.Errorf("%c %v", v, r)
	}
	if _, r := c.Next(); r != EndOfWindow {
		t.Errorf("%v", r)
	}
	if c.e.seen != 2 {
		t.Errorf("seen %d", c.e.seen)
	}

	producer.block, producer.over = nil, true
	if err := c.claim(); err != nil {
		t.Fatalf("%+v", err)
	}
	if _, r := c.Next(); r != StreamEnded {
		t.Errorf("%v", r)
	}

	// A cursor of the wrong element type refuses the block.
	other := &Stage{seq: 1, block: ByteBlock("ab")}
	cc := &Cursor[float64]{e: &edge{from: other}}
	if err := cc.claim(); errors.Cause(err) != ErrIncompatible {
		t.Errorf("%v", err)
	}
	if cc.e.seen != 0 {
		t.Errorf("seen %d", cc.e.seen)
	}
}

func TestConnectErrors(t *testing.T) {
	pt := ac.ProbabilityTable{'a': 1}
	p := New()
	src0, _ := p.NewSource("src0", readConf(4, 0), strings.NewReader("a"))
	src0b, _ := p.NewSource("src0b", readConf(4, 0), strings.NewReader("a"))
	enc, _ := p.NewCoder("enc", coderConf(config.Encode, 1, pt))
	enc2, _ := p.NewCoder("enc2", coderConf(config.Encode, 1, pt))
	sink, _ := p.NewSink("sink", writeConf(), io.Discard)

	if err := p.Connect(src0, enc); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(src0, enc); errors.Cause(err) != ErrIncompatible {
		t.Errorf("%v", err)
	}
	if err := p.Connect(src0b, enc); errors.Cause(err) != ErrStartTaken {
		t.Errorf("%v", err)
	}
	if err := p.Connect(enc, enc2); errors.Cause(err) != ErrIncompatible {
		t.Errorf("%v", err)
	}
	if err := p.Connect(sink, enc); errors.Cause(err) != ErrIncompatible {
		t.Errorf("%v", err)
	}
	if err := p.Run(context.Background()); errors.Cause(err) != ErrUnconnected {
		t.Errorf("%v", err)
	}

	if _, err := p.NewCoder("bad", coderConf(config.Write, 1, pt)); errors.Cause(err) != ErrRole {
		t.Errorf("%v", err)
	}
	if _, err := p.NewCodeSource("bad", readConf(12, 0), strings.NewReader("")); errors.Cause(err) != config.ErrSyntax {
		t.Errorf("%v", err)
	}
}

type endless struct{}

func (endless) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a'
	}
	return len(p), nil
}

func TestCancel(t *testing.T) {
	p := New()
	src, err := p.NewSource("src", readConf(16, 0), endless{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	sink, err := p.NewSink("sink", writeConf(), io.Discard)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(src, sink); err != nil {
		t.Fatalf("%+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- p.Run(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("%+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pipeline did not stop")
	}
	if src.Blocks() == 0 {
		t.Errorf("source produced nothing")
	}
}

type brokenWriter struct {
	n int
}

var errBroken = errors.New("broken writer")

func (w *brokenWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > 100 {
		return 0, errBroken
	}
	w.n += len(p)
	return len(p), nil
}

// TestSinkFailure checks that a failing sink stops its producers instead of leaving them waiting.
func TestSinkFailure(t *testing.T) {
	p := New()
	src, err := p.NewSource("src", readConf(16, 0), endless{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	sink, err := p.NewSink("sink", writeConf(), &brokenWriter{})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(src, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	err = p.Run(context.Background())
	var serr *StageError
	if !errors.As(err, &serr) {
		t.Fatalf("%v", err)
	}
	if serr.Stage != "sink" || serr.Op != "write" || errors.Cause(err) != errBroken {
		t.Errorf("%+v", serr)
	}
}

func TestEncodeUnknownSymbol(t *testing.T) {
	p := New()
	src, _ := p.NewSource("src", readConf(4, 0), strings.NewReader("aabbz"))
	enc, err := p.NewCoder("enc", coderConf(config.Encode, 2, ac.ProbabilityTable{'a': 0.5, 'b': 0.5}))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	sink, _ := p.NewSink("sink", writeConf(), io.Discard)
	if err := p.Connect(src, enc); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(enc, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	err = p.Run(context.Background())
	var serr *StageError
	if !errors.As(err, &serr) || serr.Op != "encode" {
		t.Fatalf("%v", err)
	}
	if errors.Cause(err) != ac.ErrUnknownSymbol {
		t.Errorf("%v", err)
	}
}

func TestTruncatedCodeStream(t *testing.T) {
	pt := ac.ProbabilityTable{'a': 0.5, 'b': 0.5}
	p := New()
	src, _ := p.NewCodeSource("src", readConf(16, 0), bytes.NewReader(make([]byte, 12)))
	dec, _ := p.NewCoder("dec", coderConf(config.Decode, 2, pt))
	sink, _ := p.NewSink("sink", writeConf(), io.Discard)
	if err := p.Connect(src, dec); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := p.Connect(dec, sink); err != nil {
		t.Fatalf("%+v", err)
	}
	err := p.Run(context.Background())
	var serr *StageError
	if !errors.As(err, &serr) || serr.Op != "read" || errors.Cause(err) != io.ErrUnexpectedEOF {
		t.Errorf("%v", err)
	}
}
