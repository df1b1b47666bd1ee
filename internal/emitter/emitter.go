// Package emitter renders correlated TCP and process activity as the
// [PROCESS]/[TCP] log lines an operator tails, via logrus the same way
// the teacher's cmd/get reports per-connection stats.
package emitter

import (
	"net"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Emitter writes correlated events to a logrus logger.
type Emitter struct {
	log logrus.FieldLogger
}

// New wraps a logger for use by the correlator.
func New(log logrus.FieldLogger) *Emitter {
	return &Emitter{log: log}
}

// Process logs an exec event.
func (e *Emitter) Process(pid uint32, pod, comm string) {
	e.log.Infof("[PROCESS] PID: %d, Pod: %s, Comm: %s", pid, pod, comm)
}

// TCP logs a correlated TCP event. l7Info and latency are optional; an
// empty l7Info or a zero hasLatency omits that portion of the line the
// same way the teacher's format strings collapse to "".
func (e *Emitter) TCP(direction, pod string, saddr, daddr net.IP, dport uint16, l7Info string, latency time.Duration, hasLatency bool, diagID xid.ID) {
	l7Part := ""
	if l7Info != "" {
		l7Part = l7Info + ", "
	}
	latPart := ""
	if hasLatency {
		latPart = "Latency: " + latency.Round(time.Millisecond).String()
	}
	idPart := ""
	if diagID != (xid.ID{}) {
		idPart = " id=" + diagID.String()
	}
	e.log.Infof("[TCP] Type: %s, Pod: %s, %s -> %s:%d, %s%s%s", direction, pod, saddr, daddr, dport, l7Part, latPart, idPart)
}
