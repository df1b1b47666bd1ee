package l7

import (
	"testing"
	"time"

	"github.com/masdeepflow/agent/internal/session"
	"github.com/masdeepflow/agent/internal/wire"
)

func TestParseHTTPRequestThenResponseReportsLatency(t *testing.T) {
	tracker := NewTracker()
	key := session.Key{CgroupID: 1, FD: 5}
	start := time.Now()

	reqPayload := []byte("GET /healthz HTTP/1.1\r\nHost: x\r\n\r\n")
	reqResult := Parse(tracker, key, 54321, 80, wire.DirTX, reqPayload, start)
	if reqResult.Info != "HTTP Request: GET /healthz HTTP/1.1" {
		t.Fatalf("unexpected request info: %q", reqResult.Info)
	}
	if reqResult.HasLatency {
		t.Fatal("request should not carry a latency")
	}

	respPayload := []byte("HTTP/1.1 200 OK\r\n\r\n")
	respResult := Parse(tracker, key, 54321, 80, wire.DirRX, respPayload, start.Add(5*time.Millisecond))
	if respResult.Info != "HTTP Response: HTTP/1.1 200 OK" {
		t.Fatalf("unexpected response info: %q", respResult.Info)
	}
	if !respResult.HasLatency {
		t.Fatal("response should report latency")
	}
	if respResult.Latency != 5*time.Millisecond {
		t.Fatalf("latency = %v, want 5ms", respResult.Latency)
	}
}

func TestParseMySQLQueryThenOK(t *testing.T) {
	tracker := NewTracker()
	key := session.Key{CgroupID: 2, FD: 9}
	start := time.Now()

	query := append([]byte{0, 0, 0, 0, 0x03}, []byte("SELECT 1")...)
	qr := Parse(tracker, key, 50000, 3306, wire.DirTX, query, start)
	if qr.Info != "MySQL Query: SELECT 1" {
		t.Fatalf("unexpected query info: %q", qr.Info)
	}

	ok := []byte{0, 0, 0, 1, 0x00, 0, 0}
	rr := Parse(tracker, key, 50000, 3306, wire.DirRX, ok, start.Add(2*time.Millisecond))
	if rr.Info != "MySQL Response: OK" {
		t.Fatalf("unexpected response info: %q", rr.Info)
	}
	if !rr.HasLatency {
		t.Fatal("expected latency on MySQL OK response")
	}
}

func TestParseMySQLErrorResponse(t *testing.T) {
	tracker := NewTracker()
	key := session.Key{CgroupID: 3, FD: 1}
	errPkt := []byte{0, 0, 0, 1, 0xFF, 0x10, 0x02}
	r := Parse(tracker, key, 50001, 3306, wire.DirRX, errPkt, time.Now())
	if r.Info != "MySQL Response: ERR" {
		t.Fatalf("unexpected info: %q", r.Info)
	}
}

func TestParseIgnoresUnrecognizedPayload(t *testing.T) {
	tracker := NewTracker()
	key := session.Key{CgroupID: 4, FD: 1}
	r := Parse(tracker, key, 1234, 5678, wire.DirTX, []byte("not a protocol we know"), time.Now())
	if r.Info != "" {
		t.Fatalf("expected empty info, got %q", r.Info)
	}
}

func TestIsNoiseMatchesKnownInfraChatter(t *testing.T) {
	cases := []struct {
		payload string
		want    bool
	}{
		{`{"log":"hello","stream":"stdout"}`, true},
		{"GET /v1.41/containers/json HTTP/1.1", true},
		{"GET /healthz HTTP/1.1", false},
	}
	for _, c := range cases {
		if got := IsNoise(c.payload); got != c.want {
			t.Errorf("IsNoise(%q) = %v, want %v", c.payload, got, c.want)
		}
	}
}
