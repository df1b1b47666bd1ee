// Package correlator reconstructs five-tuples and L7 sessions out of the
// fragmentary events the kernel probes emit. A write(2) or read(2) only
// carries a cgroup id and an fd; the IP and port only show up on the
// connect/accept path, so this package stitches the two together the way
// the original prototype's single-file event loop did, split out into
// its own testable component.
package correlator

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/masdeepflow/agent/internal/emitter"
	"github.com/masdeepflow/agent/internal/l7"
	"github.com/masdeepflow/agent/internal/podresolver"
	"github.com/masdeepflow/agent/internal/session"
	"github.com/masdeepflow/agent/internal/wire"
)

// connectionTTL bounds how long a connection's resolved five-tuple is
// kept around with no traffic on it. The original prototype never
// evicted connections at all; this is a supplemented behavior (an
// unbounded process would eventually exhaust memory on a busy host).
const connectionTTL = 30 * time.Minute

// connectionCapacity caps the connections table independent of age, so a
// burst of short-lived connections can't grow the table unbounded before
// the TTL catches up.
const connectionCapacity = 65536

// pendingCapacity caps the connect/kprobe handoff table. A pid only
// lives in here for the few microseconds between the connect(2)
// tracepoint and the tcp_connect kprobe firing, so this can be small.
const pendingCapacity = 4096

// ConnectionInfo is the resolved five-tuple for one session.Key, filled
// in incrementally as CONNECT and IP_INFO events arrive.
type ConnectionInfo struct {
	SAddr net.IP
	DAddr net.IP
	SPort uint16
	DPort uint16

	// DiagID is a short opaque id assigned when the connection is first
	// observed, useful for correlating log lines for the same flow
	// without printing the full five-tuple on every line.
	DiagID xid.ID
}

// Correlator holds the live connection and pending-connect tables and
// dispatches each decoded wire event to the right handler, matching the
// direction codes in wire.Direction (§4.1).
//
// internal/dispatcher drains one shared queue through runtime.NumCPU()
// workers, so HandleTcpEvent for two different events (say an IP_INFO and
// a TX on the same session.Key) can run concurrently on two of them. mu
// guards every read-modify-write sequence against connections/
// pendingConnects; per §5 it is held only long enough to perform that
// sequence, never across L7 parsing or emit.
type Correlator struct {
	log     logrus.FieldLogger
	procLog *emitter.Emitter
	emit    func(evt TCPActivity)
	pods    podresolver.Resolver
	latency *l7.Tracker

	mu              sync.Mutex
	connections     *expirable.LRU[session.Key, ConnectionInfo]
	pendingConnects *lru.Cache[uint32, session.Key]
}

// TCPActivity is one correlated, log-ready TCP event handed to the emitter.
type TCPActivity struct {
	Direction  wire.Direction
	Pod        string
	SAddr      net.IP
	DAddr      net.IP
	DPort      uint16
	L7Info     string
	Latency    time.Duration
	HasLatency bool
	// DiagID is the connection's diagnostic id, set once the CONNECT event
	// has been seen. Zero for ACCEPT-only flows this process didn't
	// initiate, since nothing assigns one on the accept path.
	DiagID xid.ID
}

// New builds a Correlator. emit is called once per event worth logging
// (handshakes and L7-bearing traffic, per the logging policy in §4.6);
// events filtered as noise or as uninteresting mid-stream traffic never
// reach it.
func New(log logrus.FieldLogger, pods podresolver.Resolver, emit func(TCPActivity)) *Correlator {
	pending, err := lru.New[uint32, session.Key](pendingCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which pendingCapacity never is.
		panic(err)
	}
	return &Correlator{
		log:             log,
		procLog:         emitter.New(log),
		emit:            emit,
		pods:            pods,
		latency:         l7.NewTracker(),
		connections:     expirable.NewLRU[session.Key, ConnectionInfo](connectionCapacity, nil, connectionTTL),
		pendingConnects: pending,
	}
}

// HandleProcessEvent logs an exec event, resolving its pod label.
func (c *Correlator) HandleProcessEvent(ev wire.ProcessEvent) {
	pod := c.pods.Resolve(ev.CgroupID)
	c.procLog.Process(ev.PID, pod, ev.CommString())
}

// HandleTcpEvent implements the direction-based dispatch in §4.5: CONNECT
// and IP_INFO mutate the connections table, TX/RX and ACCEPT read from
// it, and every event it's worth logging about is handed to emit.
func (c *Correlator) HandleTcpEvent(ev wire.TcpEvent) {
	key := session.Key{CgroupID: ev.CgroupID, FD: ev.FD}

	// sport is always sourced from skc_num (already host order); dport is
	// always sourced from a sockaddr or skc_dport field (network order).
	// Only dport needs the byte-order fixup — swapping sport too would
	// corrupt the one field the kernel already hands over correctly (§3,
	// §9 "Port byte order inconsistency").
	saddr := ipv4(ev.SAddr)
	daddr := ipv4(ev.DAddr)
	sport := ev.SPort
	dport := port(ev.DPort)
	var diagID xid.ID

	c.mu.Lock()
	switch ev.Direction {
	case wire.DirConnect:
		diagID = xid.New()
		info := ConnectionInfo{SAddr: saddr, DAddr: daddr, SPort: sport, DPort: dport, DiagID: diagID}
		c.connections.Add(key, info)
		c.pendingConnects.Add(ev.PID, key)

	case wire.DirIPInfo:
		if pendingKey, ok := c.pendingConnects.Get(ev.PID); ok {
			if info, ok := c.connections.Get(pendingKey); ok {
				info.SAddr = saddr
				info.SPort = sport
				c.connections.Add(pendingKey, info)
			}
		}
		c.mu.Unlock()
		return // IP_INFO never produces a log line of its own.

	case wire.DirTX, wire.DirRX:
		if info, ok := c.connections.Get(key); ok {
			saddr, daddr, sport, dport, diagID = info.SAddr, info.DAddr, info.SPort, info.DPort, info.DiagID
		}

	default: // DirAccept
		if info, ok := c.connections.Get(key); ok {
			diagID = info.DiagID
		}
	}
	c.mu.Unlock()

	now := time.Now()
	clean := l7.Clean(ev.PayloadPrefix())
	result := l7.Parse(c.latency, key, sport, dport, ev.Direction, ev.PayloadPrefix(), now)

	if l7.IsNoise(clean) {
		return
	}

	isHandshake := ev.Direction == wire.DirConnect || ev.Direction == wire.DirAccept
	isL7 := result.Info != ""
	if !isHandshake && !isL7 {
		return
	}

	c.emit(TCPActivity{
		Direction:  ev.Direction,
		Pod:        c.pods.Resolve(ev.CgroupID),
		SAddr:      saddr,
		DAddr:      daddr,
		DPort:      dport,
		L7Info:     result.Info,
		Latency:    result.Latency,
		HasLatency: result.HasLatency,
		DiagID:     diagID,
	})
}

// ipv4 reconstructs the original network-order address bytes. wire.TcpEvent
// decodes every field with binary.LittleEndian regardless of the source
// field's true byte order (§3), so the raw network-order bytes the kernel
// wrote are recovered by writing the value back out the same way it was
// read in, not by reinterpreting it as big-endian.
func ipv4(raw uint32) net.IP {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, raw)
	return net.IP(b)
}

// port recovers a host-order port number from a raw, byte-order-preserved
// dport field wire.DecodeTcpEvent produced (network order: either a
// sockaddr's sin_port or struct sock's skc_dport). Never apply this to an
// sport field — every sport in this wire format comes from skc_num, which
// the kernel already stores host order (§3, §9).
func port(raw uint16) uint16 {
	return raw<<8 | raw>>8
}
