// Package pipeline runs a compressor as independently scheduled stages that hand blocks to each other.
//
// A Source reads blocks from a byte stream, a Coder encodes or decodes them, and a Sink writes them out.
// Every edge holds a single block in flight: a producer refills its block only after each of its consumers
// has claimed the current one and reports itself available and ready to read again.
// A consumer fed by several producers drains them in ascending order of their start ordinal.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fumin/sac/config"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var (
	ErrIncompatible = errors.New("can't communicate, wrong transporter structure")
	ErrStartTaken   = errors.New("start ordinal already taken by a sibling producer")
	ErrUnconnected  = errors.New("stage is not connected")
	ErrRole         = errors.New("wrong target for stage")
	ErrStarted      = errors.New("pipeline already started")
)

// A StageError reports the failure of a stage.
type StageError struct {
	Stage string
	Role  config.Target

	// Op is the failing operation: read, write, encode or decode.
	Op  string
	Err error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage %q: %s: %v", e.Role, e.Stage, e.Op, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Cause() error { return errors.Cause(e.Err) }

// A Pipeline owns a set of connected stages.
// All stages of one pipeline share a lock and a condition variable on which they wait for each other's flags.
type Pipeline struct {
	mu      sync.Mutex
	cond    *sync.Cond
	stages  []*Stage
	started bool

	// Logf, if set, receives progress messages.
	Logf func(format string, args ...interface{})
}

// New returns an empty pipeline.
func New() *Pipeline {
	p := &Pipeline{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.Logf != nil {
		p.Logf(format, args...)
	}
}

func (p *Pipeline) add(s *Stage) (*Stage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil, ErrStarted
	}
	s.p = p
	p.stages = append(p.stages, s)
	return s, nil
}

// Connect makes consumer read producer's blocks.
// The consumer's window over the producer's block is [consumer.Start, consumer.Start+size),
// where size is the consumer's Window, or its BlockSize if no window is set.
func (p *Pipeline) Connect(producer, consumer *Stage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrStarted
	}
	if producer.p != p || consumer.p != p {
		return errors.Wrapf(ErrIncompatible, "%s -> %s: stages of another pipeline", producer.name, consumer.name)
	}
	if !producer.produces || !consumer.accepts(producer.kind) {
		return errors.Wrapf(ErrIncompatible, "%s (%s) -> %s (%s)", producer.name, producer.cfg.Target, consumer.name, consumer.cfg.Target)
	}
	for _, in := range consumer.inputs {
		if in.link().from == producer {
			return errors.Wrapf(ErrIncompatible, "%s -> %s already connected", producer.name, consumer.name)
		}
		if in.link().from.cfg.Start == producer.cfg.Start {
			return errors.Wrapf(ErrStartTaken, "%s and %s both start at %d", in.link().from.name, producer.name, producer.cfg.Start)
		}
	}

	e := &edge{from: producer, to: consumer}
	size := consumer.cfg.WindowSize()
	var in port
	switch producer.kind {
	case Bytes:
		in = &Cursor[byte]{e: e, start: consumer.cfg.Start, length: size}
	case Codes:
		in = &Cursor[float64]{e: e, start: consumer.cfg.Start, length: size}
	}
	producer.consumers = append(producer.consumers, e)
	consumer.inputs = append(consumer.inputs, in)
	sort.SliceStable(consumer.inputs, func(i, j int) bool {
		return consumer.inputs[i].link().from.cfg.Start < consumer.inputs[j].link().from.cfg.Start
	})
	return nil
}

// wait blocks until cond holds or ctx is done.
// It must be called with p.mu held, which it holds again on return.
func (p *Pipeline) wait(ctx context.Context, cond func() bool) error {
	for !cond() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.cond.Wait()
	}
	return ctx.Err()
}

func (p *Pipeline) check() error {
	for _, s := range p.stages {
		if s.needsInput && len(s.inputs) == 0 {
			return errors.Wrapf(ErrUnconnected, "%s has no producer", s.name)
		}
		if s.produces && len(s.consumers) == 0 {
			return errors.Wrapf(ErrUnconnected, "%s has no consumer", s.name)
		}
	}
	return nil
}

// Run runs every stage in its own goroutine until all of them are over.
// The first stage to fail cancels the others, and its *StageError is returned.
// If ctx is cancelled, stages stop at their next tick, partially built blocks are discarded and Run returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrStarted
	}
	if err := p.check(); err != nil {
		p.mu.Unlock()
		return err
	}
	p.started = true
	stages := append([]*Stage(nil), p.stages...)
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	for _, s := range stages {
		s := s
		g.Go(func() error {
			return s.loop(gctx)
		})
	}
	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		p.logf("pipeline cancelled: %v", err)
		return nil
	}
	return err
}
