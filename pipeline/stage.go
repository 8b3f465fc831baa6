package pipeline

import (
	"context"
	"encoding/binary"
	"io"
	"math"

	"github.com/fumin/sac/ac"
	"github.com/fumin/sac/ac/interval"
	"github.com/fumin/sac/config"
	"github.com/icza/bitio"
	"github.com/pkg/errors"
)

// codeSize is the size in bytes of one serialized code.
const codeSize = 8

// Flags is a snapshot of the scheduling state of a stage.
type Flags struct {
	// Available means the stage's output block is stable and safe to read.
	Available bool

	// ReadyToRead means the stage accepts a pull from a downstream consumer.
	ReadyToRead bool

	// ReadyToWrite means upstream producers may hand the stage a block.
	ReadyToWrite bool

	// Over means the stage will never produce again.
	Over bool
}

// A Stage is one independently scheduled participant of a Pipeline.
type Stage struct {
	name string
	cfg  config.Config
	p    *Pipeline

	produces   bool
	needsInput bool
	kind       Kind
	accepted   []Kind

	// Guarded by p.mu.
	available    bool
	readyToRead  bool
	readyToWrite bool
	over         bool
	block        Block
	seq          uint64
	consumers    []*edge
	inputs       []port

	tick func(ctx context.Context) (bool, error)

	// Source state.
	r io.Reader

	// Coder state.
	st      *ac.SegmentTable
	pending []byte
	emitted int64

	// Sink state.
	w *bitio.Writer
}

// Name returns the name the stage was created with.
func (s *Stage) Name() string { return s.name }

// Role returns the target of the stage's configuration.
func (s *Stage) Role() config.Target { return s.cfg.Target }

// Flags returns the current scheduling flags.
func (s *Stage) Flags() Flags {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return Flags{Available: s.available, ReadyToRead: s.readyToRead, ReadyToWrite: s.readyToWrite, Over: s.over}
}

// Blocks returns the number of blocks the stage has published.
func (s *Stage) Blocks() uint64 {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return s.seq
}

func (s *Stage) accepts(k Kind) bool {
	for _, a := range s.accepted {
		if a == k {
			return true
		}
	}
	return false
}

func (s *Stage) fail(op string, err error) error {
	return &StageError{Stage: s.name, Role: s.cfg.Target, Op: op, Err: err}
}

func newStage(name string, cfg config.Config, want ...config.Target) (*Stage, error) {
	ok := false
	for _, t := range want {
		ok = ok || cfg.Target == t
	}
	if !ok {
		return nil, errors.Wrapf(ErrRole, "%s has target %s, want %v", name, cfg.Target, want)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, name)
	}
	return &Stage{name: name, cfg: cfg}, nil
}

// NewSource adds a stage reading blocks of cfg.BlockSize raw bytes from r.
func (p *Pipeline) NewSource(name string, cfg config.Config, r io.Reader) (*Stage, error) {
	s, err := newStage(name, cfg, config.Read)
	if err != nil {
		return nil, err
	}
	s.produces, s.kind, s.r = true, Bytes, r
	s.tick = s.sourceTick
	return p.add(s)
}

// NewCodeSource adds a stage reading blocks of codes from r,
// each code an 8 byte big-endian IEEE-754 double.
// cfg.BlockSize must be a multiple of 8.
func (p *Pipeline) NewCodeSource(name string, cfg config.Config, r io.Reader) (*Stage, error) {
	s, err := newStage(name, cfg, config.Read)
	if err != nil {
		return nil, err
	}
	if cfg.BlockSize%codeSize != 0 {
		return nil, errors.Wrapf(config.ErrSyntax, "%s: block %d is not a multiple of %d", name, cfg.BlockSize, codeSize)
	}
	s.produces, s.kind, s.r = true, Codes, r
	s.tick = s.sourceTick
	return p.add(s)
}

// NewCoder adds a stage that encodes bytes into codes, or decodes codes into bytes,
// according to cfg.Target.
// The segment table is built from cfg.Table once, and reused for every block.
func (p *Pipeline) NewCoder(name string, cfg config.Config) (*Stage, error) {
	s, err := newStage(name, cfg, config.Encode, config.Decode)
	if err != nil {
		return nil, err
	}
	if s.st, err = ac.Build(cfg.Table); err != nil {
		return nil, errors.Wrap(err, name)
	}
	s.produces, s.needsInput = true, true
	s.kind, s.accepted = Codes, []Kind{Bytes}
	if cfg.Target == config.Decode {
		s.kind, s.accepted = Bytes, []Kind{Codes}
	}
	s.available, s.readyToRead = true, true
	s.tick = s.coderTick
	return p.add(s)
}

// NewSink adds a stage writing every block it reads to w.
// Bytes are written raw, codes as 8 byte big-endian IEEE-754 doubles.
func (p *Pipeline) NewSink(name string, cfg config.Config, w io.Writer) (*Stage, error) {
	s, err := newStage(name, cfg, config.Write)
	if err != nil {
		return nil, err
	}
	s.needsInput = true
	s.accepted = []Kind{Bytes, Codes}
	s.w = bitio.NewWriter(w)
	s.available, s.readyToRead = true, true
	s.tick = s.sinkTick
	return p.add(s)
}

func (s *Stage) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := s.tick(ctx)
		if err != nil {
			return err
		}
		if done {
			s.p.logf("%s stage %q over after %d blocks", s.cfg.Target, s.name, s.Blocks())
			return nil
		}
	}
}

// consumersReady reports whether every consumer has claimed the current block
// and is available and ready to read again.
func (s *Stage) consumersReady() bool {
	for _, e := range s.consumers {
		if e.seen != s.seq || !e.to.available || !e.to.readyToRead {
			return false
		}
	}
	return true
}

// inputsReady reports whether every producer that is not over has a fresh block
// and is available and ready to write.
func (s *Stage) inputsReady() bool {
	for _, in := range s.inputs {
		e := in.link()
		if e.from.over {
			continue
		}
		if e.seen == e.from.seq || !e.from.available || !e.from.readyToWrite {
			return false
		}
	}
	return true
}

func (s *Stage) inputsOver() bool {
	for _, in := range s.inputs {
		if !in.link().from.over {
			return false
		}
	}
	return true
}

// claim takes the current block of every input. It must be called with p.mu held.
func (s *Stage) claim() error {
	for _, in := range s.inputs {
		if err := in.claim(); err != nil {
			return err
		}
	}
	return nil
}

// publish installs b as the output block. It must be called with p.mu held.
func (s *Stage) publish(b Block) {
	s.block = b
	s.seq++
	s.available, s.readyToWrite = true, true
}

// finish marks the stage over. It must be called with p.mu held.
func (s *Stage) finish() {
	s.over = true
	s.available, s.readyToRead, s.readyToWrite = false, false, false
	s.block = nil
}

func (s *Stage) sourceTick(ctx context.Context) (bool, error) {
	p := s.p
	p.mu.Lock()
	if err := p.wait(ctx, s.consumersReady); err != nil {
		p.mu.Unlock()
		return false, err
	}
	s.available, s.readyToWrite = false, false
	p.mu.Unlock()

	b, err := s.read()

	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.cond.Broadcast()
	if err == io.EOF {
		s.finish()
		return true, nil
	}
	if err != nil {
		return false, s.fail("read", err)
	}
	s.publish(b)
	return false, nil
}

// read reads the next block, returning io.EOF once the input is exhausted.
func (s *Stage) read() (Block, error) {
	buf := make([]byte, s.cfg.BlockSize)
	n, err := io.ReadFull(s.r, buf)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(err, "")
	}
	buf = buf[:n]
	if s.kind == Bytes {
		return ByteBlock(buf), nil
	}

	if n%codeSize != 0 {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "code stream ends %d bytes into a code", n%codeSize)
	}
	codes := make(CodeBlock, n/codeSize)
	for i := range codes {
		codes[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[i*codeSize:]))
	}
	return codes, nil
}

func (s *Stage) coderTick(ctx context.Context) (bool, error) {
	p := s.p
	p.mu.Lock()
	err := p.wait(ctx, func() bool { return s.inputsReady() && s.consumersReady() })
	if err != nil {
		p.mu.Unlock()
		return false, err
	}
	if s.inputsOver() {
		defer p.mu.Unlock()
		defer p.cond.Broadcast()
		if tail, err := s.flush(); err != nil {
			return false, s.fail(s.cfg.Target.String(), err)
		} else if tail != nil {
			s.publish(tail)
			return false, nil
		}
		s.finish()
		return true, nil
	}
	if err := s.claim(); err != nil {
		p.cond.Broadcast()
		p.mu.Unlock()
		return false, s.fail(s.cfg.Target.String(), err)
	}
	s.available, s.readyToRead, s.readyToWrite = false, false, false
	p.mu.Unlock()

	out, err := s.code()

	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.cond.Broadcast()
	if err != nil {
		return false, s.fail(s.cfg.Target.String(), err)
	}
	if out.Len() > 0 {
		s.publish(out)
	}
	s.available, s.readyToRead = true, true
	s.readyToWrite = s.seq > 0
	return false, nil
}

// code drains the claimed blocks in ascending producer start order and codes them.
func (s *Stage) code() (Block, error) {
	var symbols []byte
	var codes []float64
	for _, in := range s.inputs {
		switch c := in.(type) {
		case *Cursor[byte]:
			symbols = drain(c, symbols)
		case *Cursor[float64]:
			codes = drain(c, codes)
		}
	}

	numSeq := s.cfg.NumSeq
	switch s.cfg.Target {
	case config.Encode:
		symbols = append(s.pending, symbols...)
		full := len(symbols) / numSeq * numSeq
		out, err := interval.Encode(symbols[:full], numSeq, s.st)
		if err != nil {
			return nil, errors.Wrapf(err, "block %d", s.seq+1)
		}
		s.pending = append([]byte(nil), symbols[full:]...)
		return CodeBlock(out), nil
	default:
		n := -1
		if s.cfg.Total > 0 {
			n = int(s.cfg.Total - s.emitted)
		}
		out, err := interval.DecodeN(codes, numSeq, s.st, n)
		if err != nil {
			return nil, errors.Wrapf(err, "block %d", s.seq+1)
		}
		s.emitted += int64(len(out))
		return ByteBlock(out), nil
	}
}

// flush codes the symbols left over from the last block, once every producer is over.
// It returns nil when there is nothing left.
func (s *Stage) flush() (Block, error) {
	if s.cfg.Target != config.Encode || len(s.pending) == 0 {
		return nil, nil
	}
	c, err := interval.EncodeGroup(s.pending, s.st)
	if err != nil {
		return nil, errors.Wrap(err, "final group")
	}
	s.pending = nil
	return CodeBlock{c}, nil
}

func (s *Stage) sinkTick(ctx context.Context) (bool, error) {
	p := s.p
	p.mu.Lock()
	if err := p.wait(ctx, s.inputsReady); err != nil {
		p.mu.Unlock()
		return false, err
	}
	if s.inputsOver() {
		s.finish()
		p.cond.Broadcast()
		p.mu.Unlock()
		if err := s.w.Close(); err != nil {
			return false, s.fail("write", errors.Wrap(err, ""))
		}
		return true, nil
	}
	if err := s.claim(); err != nil {
		p.cond.Broadcast()
		p.mu.Unlock()
		return false, s.fail("write", err)
	}
	s.available, s.readyToRead = false, false
	p.mu.Unlock()

	err := s.write()

	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.cond.Broadcast()
	if err != nil {
		return false, s.fail("write", err)
	}
	s.available, s.readyToRead = true, true
	return false, nil
}

// write writes the claimed blocks in ascending producer start order.
func (s *Stage) write() error {
	for _, in := range s.inputs {
		switch c := in.(type) {
		case *Cursor[byte]:
			for v, r := c.Next(); r == Item; v, r = c.Next() {
				if err := s.w.WriteByte(v); err != nil {
					return errors.Wrap(err, "")
				}
			}
		case *Cursor[float64]:
			for v, r := c.Next(); r == Item; v, r = c.Next() {
				if err := s.w.WriteBits(math.Float64bits(v), 64); err != nil {
					return errors.Wrap(err, "")
				}
			}
		}
	}
	return nil
}
