// Package l7 recognizes the two application protocols this agent
// understands (HTTP/1.x and MySQL's client/server protocol) from a raw
// payload prefix and tracks per-session request/response latency.
//
// Both parsers work off the first capture window only (wire.PayloadLen
// bytes): this is a head-of-packet classifier, not a stream reassembler,
// matching the Non-goal that rules out a general protocol stack.
package l7

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/masdeepflow/agent/internal/session"
	"github.com/masdeepflow/agent/internal/wire"
)

const mysqlPort = 3306

// mysqlCommandQuery is COM_QUERY in the MySQL client/server protocol.
const mysqlCommandQuery = 0x03

const (
	mysqlResponseOK  = 0x00
	mysqlResponseErr = 0xFF
)

// Result is what a single event's payload told us about its protocol.
type Result struct {
	Info       string
	Latency    time.Duration
	HasLatency bool
}

// Tracker records when a request started per session so the matching
// response can report how long it took. One Tracker is shared by every
// dispatcher worker, so all access is mutex-guarded.
type Tracker struct {
	mu    sync.Mutex
	start map[session.Key]time.Time
}

// NewTracker returns an empty latency tracker.
func NewTracker() *Tracker {
	return &Tracker{start: make(map[session.Key]time.Time)}
}

func (t *Tracker) begin(key session.Key, now time.Time) {
	t.mu.Lock()
	t.start[key] = now
	t.mu.Unlock()
}

func (t *Tracker) end(key session.Key, now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.start[key]
	if !ok {
		return 0, false
	}
	delete(t.start, key)
	return now.Sub(started), true
}

// Parse inspects a payload prefix and reports any HTTP or MySQL framing
// it recognizes, updating the latency tracker on request/response
// boundaries. sport/dport are the resolved (not necessarily kernel-raw)
// connection ports; direction is the kernel event's original direction.
func Parse(tracker *Tracker, key session.Key, sport, dport uint16, direction wire.Direction, payload []byte, now time.Time) Result {
	if len(payload) == 0 {
		return Result{}
	}

	if sport == mysqlPort || dport == mysqlPort {
		if r, ok := parseMySQL(tracker, key, dport, direction, payload, now); ok {
			return r
		}
	}

	return parseHTTP(tracker, key, payload, now)
}

func parseMySQL(tracker *Tracker, key session.Key, dport uint16, direction wire.Direction, payload []byte, now time.Time) (Result, bool) {
	if len(payload) <= 4 {
		return Result{}, false
	}

	seq := payload[3]

	// dport == mysqlPort: we are the client, so TX is the request and RX
	// is the response. Otherwise we are the server and it is reversed.
	var isRequest bool
	if dport == mysqlPort {
		isRequest = direction == wire.DirTX
	} else {
		isRequest = direction == wire.DirRX
	}

	if isRequest {
		if seq != 0 || len(payload) <= 5 || payload[4] != mysqlCommandQuery {
			return Result{}, false
		}
		tracker.begin(key, now)
		return Result{Info: fmt.Sprintf("MySQL Query: %s", string(payload[5:]))}, true
	}

	packetType := payload[4]
	if packetType != mysqlResponseOK && packetType != mysqlResponseErr {
		return Result{}, false
	}
	r := Result{}
	if d, ok := tracker.end(key, now); ok {
		r.Latency, r.HasLatency = d, true
	}
	if packetType == mysqlResponseOK {
		r.Info = "MySQL Response: OK"
	} else {
		r.Info = "MySQL Response: ERR"
	}
	return r, true
}

var httpRequestPrefixes = []string{"GET ", "POST ", "PUT ", "DELETE ", "HEAD "}

func parseHTTP(tracker *Tracker, key session.Key, payload []byte, now time.Time) Result {
	clean := strings.Trim(string(payload), "\x00")

	for _, prefix := range httpRequestPrefixes {
		if strings.HasPrefix(clean, prefix) {
			tracker.begin(key, now)
			return Result{Info: fmt.Sprintf("HTTP Request: %s", firstLine(clean))}
		}
	}

	if strings.HasPrefix(clean, "HTTP/") {
		r := Result{Info: fmt.Sprintf("HTTP Response: %s", firstLine(clean))}
		if d, ok := tracker.end(key, now); ok {
			r.Latency, r.HasLatency = d, true
		}
		return r
	}

	return Result{}
}

// Clean strips NUL bytes from both ends of a raw payload prefix for noise
// filtering and logging. Matches the trimming parseHTTP applies to a
// would-be HTTP payload.
func Clean(payload []byte) string {
	return strings.Trim(string(payload), "\x00")
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// noiseSubstrings filters out chatter the agent would otherwise report on
// forever: its own log shipping, the container runtime's control-plane
// traffic, and the Docker API calls behind both.
var noiseSubstrings = []string{
	`{"log":`,
	"masdeepflow",
	"SandboxID",
	"Bridge",
	"/containers/",
	"GET /v1.",
}

// IsNoise reports whether a cleaned (NUL-trimmed) HTTP payload matches
// known infrastructure chatter that should never reach the emitter.
func IsNoise(payloadClean string) bool {
	for _, s := range noiseSubstrings {
		if strings.Contains(payloadClean, s) {
			return true
		}
	}
	return false
}
