package dispatcher

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/masdeepflow/agent/internal/transport"
	"github.com/masdeepflow/agent/internal/wire"
)

type recordingSink struct {
	mu       sync.Mutex
	procs    []wire.ProcessEvent
	tcpCount int
}

func (s *recordingSink) HandleProcessEvent(ev wire.ProcessEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs = append(s.procs, ev)
}

func (s *recordingSink) HandleTcpEvent(wire.TcpEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tcpCount++
}

type recordingDropCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *recordingDropCounter) IncMalformedDrop(family string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[family]++
}

func TestPoolDecodesAndDispatchesProcessEvent(t *testing.T) {
	sink := &recordingSink{}
	drops := &recordingDropCounter{}
	pool := New(logrus.New(), sink, drops)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	buf := make([]byte, wire.ProcessEventSize)
	binary.LittleEndian.PutUint32(buf[0:4], 42)
	binary.LittleEndian.PutUint64(buf[8:16], 9)
	copy(buf[16:], "sshd")

	pool.SubmitProcess(ctx, transport.Record{RawSample: buf})

	waitFor(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.procs) == 1
	})

	cancel()
	<-done

	if sink.procs[0].PID != 42 {
		t.Fatalf("unexpected pid: %d", sink.procs[0].PID)
	}
}

func TestPoolCountsMalformedRecordsAsDrops(t *testing.T) {
	sink := &recordingSink{}
	drops := &recordingDropCounter{}
	pool := New(logrus.New(), sink, drops)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	pool.SubmitTCP(ctx, transport.Record{RawSample: []byte{0x01}})

	waitFor(t, func() bool {
		drops.mu.Lock()
		defer drops.mu.Unlock()
		return drops.counts["tcp"] == 1
	})

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
