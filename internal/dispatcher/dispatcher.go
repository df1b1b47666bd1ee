// Package dispatcher fans decoded ring buffer samples out across a worker
// pool, standing in for the per-CPU parallelism the original implementation
// got for free from one ring per CPU (SPEC_FULL.md, Open Question
// resolution on ring buffer layout).
package dispatcher

import (
	"context"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/masdeepflow/agent/internal/transport"
	"github.com/masdeepflow/agent/internal/wire"
)

// Sink receives decoded events. Implemented by internal/correlator.
type Sink interface {
	HandleProcessEvent(wire.ProcessEvent)
	HandleTcpEvent(wire.TcpEvent)
}

// DropCounter receives a hit whenever a ring buffer sample fails to
// decode as its expected wire type, fed to internal/metrics.
type DropCounter interface {
	IncMalformedDrop(family string)
}

// Kind identifies which wire record a raw sample decodes as.
type Kind int

const (
	KindProcess Kind = iota
	KindTCP
)

// Pool drains one or more transport.Reader instances through a fixed set
// of worker goroutines, decoding each sample with internal/wire before
// handing it to Sink. Decode errors are logged and dropped: a malformed
// record is not actionable and must never block the pool.
type Pool struct {
	log     logrus.FieldLogger
	sink    Sink
	drops   DropCounter
	workers int
	queue   chan job
}

type job struct {
	kind Kind
	rec  transport.Record
}

// New creates a worker pool sized to the host's CPU count, following the
// same "one worker slot per core" intuition as the per-CPU ring buffers
// it replaces.
func New(log logrus.FieldLogger, sink Sink, drops DropCounter) *Pool {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		log:     log,
		sink:    sink,
		drops:   drops,
		workers: workers,
		queue:   make(chan job, workers*64),
	}
}

// Run starts the worker goroutines and blocks until ctx is canceled and
// every worker has returned. Jobs still queued at cancellation are
// discarded, not drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.queue:
			switch j.kind {
			case KindProcess:
				ev, err := wire.DecodeProcessEvent(j.rec.RawSample)
				if err != nil {
					p.log.WithError(err).Warn("dispatcher: dropping malformed process event")
					p.drops.IncMalformedDrop("process")
					continue
				}
				p.sink.HandleProcessEvent(ev)
			case KindTCP:
				ev, err := wire.DecodeTcpEvent(j.rec.RawSample)
				if err != nil {
					p.log.WithError(err).Warn("dispatcher: dropping malformed tcp event")
					p.drops.IncMalformedDrop("tcp")
					continue
				}
				p.sink.HandleTcpEvent(ev)
			}
		}
	}
}

// SubmitProcess queues a raw process-event sample for decode and dispatch.
// A canceled ctx is honored so a shutting-down pool never blocks a caller
// forever on a full queue.
func (p *Pool) SubmitProcess(ctx context.Context, rec transport.Record) {
	select {
	case p.queue <- job{kind: KindProcess, rec: rec}:
	case <-ctx.Done():
	}
}

// SubmitTCP queues a raw tcp-event sample for decode and dispatch.
func (p *Pool) SubmitTCP(ctx context.Context, rec transport.Record) {
	select {
	case p.queue <- job{kind: KindTCP, rec: rec}:
	case <-ctx.Done():
	}
}
