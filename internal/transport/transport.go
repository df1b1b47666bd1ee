// Package transport wraps the per-family ring buffers (C5, §4.2) that
// bridge kernel-probe output into user space.
//
// BPF_MAP_TYPE_RINGBUF (accessed here via cilium/ebpf's ringbuf.Reader, the
// same type other_examples/...kubePulse...tcp.go reads) carries no drop
// count of its own — that field exists on perf.Record, not ringbuf.Record.
// Ring-overrun visibility (§7) is therefore not this package's job: the BPF
// side bumps a dedicated counter map on a failed bpf_ringbuf_reserve, and
// internal/kernel.PollRingDrops reads it directly.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/sirupsen/logrus"
)

// Record is a decoded ring buffer sample.
type Record struct {
	RawSample []byte
}

// Reader drains a single ring buffer map until its context is canceled or
// the underlying reader is closed.
type Reader struct {
	log    logrus.FieldLogger
	name   string
	reader *ringbuf.Reader
}

// NewReader opens a ringbuf.Reader over m. name identifies the family
// ("process", "tcp") in log output.
func NewReader(log logrus.FieldLogger, name string, m *ebpf.Map) (*Reader, error) {
	r, err := ringbuf.NewReader(m)
	if err != nil {
		return nil, fmt.Errorf("transport: opening %s ring buffer: %w", name, err)
	}
	return &Reader{log: log, name: name, reader: r}, nil
}

// Run reads records until ctx is canceled, invoking emit for each one.
// A closed ring buffer (triggered by Close from another goroutine) ends
// the loop cleanly; any other read error is returned to the caller.
func (r *Reader) Run(ctx context.Context, emit func(Record)) error {
	go func() {
		<-ctx.Done()
		r.reader.Close()
	}()

	for {
		rec, err := r.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("transport: reading %s ring buffer: %w", r.name, err)
		}
		emit(Record{RawSample: rec.RawSample})
	}
}

// Close releases the underlying ring buffer reader.
func (r *Reader) Close() error {
	return r.reader.Close()
}
