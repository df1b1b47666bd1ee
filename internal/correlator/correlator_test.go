package correlator

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/masdeepflow/agent/internal/wire"
)

// rawAddr mirrors the byte-order round trip wire.DecodeTcpEvent performs on
// true network-order kernel data, so tests can express addresses in their
// normal dotted form.
func rawAddr(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// rawDPort mirrors the byte swap the correlator applies to a network-order
// dport field (sockaddr's sin_port or skc_dport). Never use this for an
// sport fixture: sport always comes from skc_num, which is already host
// order and must be given to wire.TcpEvent.SPort directly.
func rawDPort(p uint16) uint16 {
	return (p&0xFF)<<8 | p>>8
}

type stubResolver struct{}

func (stubResolver) Resolve(cgroupID uint64) string { return "test-pod" }

func TestHandleTcpEventConnectThenIPInfoThenTXResolvesFiveTuple(t *testing.T) {
	var got []TCPActivity
	c := New(logrus.New(), stubResolver{}, func(a TCPActivity) { got = append(got, a) })

	const pid, cgroup, fd = uint32(100), uint64(7), uint32(3)

	c.HandleTcpEvent(wire.TcpEvent{
		PID: pid, FD: fd, CgroupID: cgroup,
		DAddr: rawAddr(93, 184, 216, 34), DPort: rawDPort(80),
		Direction: wire.DirConnect,
	})
	if len(got) != 1 || got[0].Direction != wire.DirConnect {
		t.Fatalf("expected one CONNECT activity, got %+v", got)
	}

	c.HandleTcpEvent(wire.TcpEvent{
		PID: pid, FD: fd, CgroupID: cgroup,
		SAddr: rawAddr(10, 0, 0, 5), SPort: 54321,
		Direction: wire.DirIPInfo,
	})
	if len(got) != 1 {
		t.Fatalf("IP_INFO must never itself produce a log line, got %d", len(got))
	}

	httpReq := []byte("GET / HTTP/1.1\r\n\r\n")
	c.HandleTcpEvent(wire.TcpEvent{
		PID: pid, FD: fd, CgroupID: cgroup,
		Direction: wire.DirTX,
		DataLen:   uint32(len(httpReq)),
		Payload:   payloadOf(httpReq),
	})

	if len(got) != 2 {
		t.Fatalf("expected TX with HTTP payload to emit, got %d activities", len(got))
	}
	tx := got[1]
	if tx.SAddr.String() != "10.0.0.5" || tx.DAddr.String() != "93.184.216.34" {
		t.Fatalf("five-tuple not resolved from prior CONNECT/IP_INFO: saddr=%s daddr=%s", tx.SAddr, tx.DAddr)
	}
	if tx.L7Info != "HTTP Request: GET / HTTP/1.1" {
		t.Fatalf("unexpected l7 info: %q", tx.L7Info)
	}
}

func TestHandleTcpEventMidStreamTrafficWithoutL7IsNotEmitted(t *testing.T) {
	var got []TCPActivity
	c := New(logrus.New(), stubResolver{}, func(a TCPActivity) { got = append(got, a) })

	c.HandleTcpEvent(wire.TcpEvent{
		PID: 1, FD: 1, CgroupID: 1,
		Direction: wire.DirTX,
		DataLen:   4,
		Payload:   payloadOf([]byte("\x01\x02\x03\x04")),
	})
	if len(got) != 0 {
		t.Fatalf("expected non-handshake, non-L7 traffic to be filtered, got %+v", got)
	}
}

func TestHandleTcpEventFiltersInfraNoise(t *testing.T) {
	var got []TCPActivity
	c := New(logrus.New(), stubResolver{}, func(a TCPActivity) { got = append(got, a) })

	noise := []byte("GET /v1.41/containers/json HTTP/1.1\r\n\r\n")
	c.HandleTcpEvent(wire.TcpEvent{
		PID: 1, FD: 1, CgroupID: 1,
		Direction: wire.DirTX,
		DataLen:   uint32(len(noise)),
		Payload:   payloadOf(noise),
	})
	if len(got) != 0 {
		t.Fatalf("expected docker API chatter to be filtered as noise, got %+v", got)
	}
}

func payloadOf(b []byte) [wire.PayloadLen]byte {
	var p [wire.PayloadLen]byte
	copy(p[:], b)
	return p
}
