// Package wire defines the fixed-layout records exchanged between the
// kernel probe set and the user-space correlator. Every field here has a
// byte offset that the BPF C source in bpf/ and the Go side both agree on;
// neither side may add, remove, or reorder a field without recompiling
// both. There is no version field — kernel and user space ship together.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Direction tags a TcpEvent's origin within the probe set (§3).
type Direction uint8

const (
	DirConnect Direction = 0
	DirAccept  Direction = 1
	DirTX      Direction = 2
	DirRX      Direction = 3
	DirIPInfo  Direction = 4
)

func (d Direction) String() string {
	switch d {
	case DirConnect:
		return "CONNECT"
	case DirAccept:
		return "ACCEPT"
	case DirTX:
		return "TX"
	case DirRX:
		return "RX"
	case DirIPInfo:
		return "IP_INFO"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(d))
	}
}

// AFInet is the only address family this version understands (§6, Non-goals: no IPv6).
const AFInet = 2

// PayloadLen is the captured prefix length of a syscall buffer (§3).
const PayloadLen = 128

// CommLen is the fixed width of a kernel comm string (§3).
const CommLen = 16

// ProcessEventSize is the exact wire size of ProcessEvent: 4 (pid) + 4
// (padding the C compiler inserts to align cgroup_id to 8 bytes) + 8
// (cgroup_id) + 16 (comm) = 32 bytes.
const ProcessEventSize = 4 + 4 + 8 + CommLen

// TcpEventSize is the number of bytes DecodeTcpEvent reads (§3):
// pid(4) + fd(4) + cgroup_id(8) + saddr(4) + daddr(4) + sport(2) + dport(2)
// + family(2) + direction(1) + pad(1) + data_len(4) + payload(128) = 164.
// The C struct's sizeof is 168: 4 bytes of tail padding round it up to its
// 8-byte alignment, and the decoder ignores them.
const TcpEventSize = 4 + 4 + 8 + 4 + 4 + 2 + 2 + 2 + 1 + 1 + 4 + PayloadLen

// ProcessEvent mirrors the BPF-side struct emitted on sched_process_exec.
type ProcessEvent struct {
	PID      uint32
	CgroupID uint64
	Comm     [CommLen]byte
}

// CommString returns the NUL-terminated comm as a Go string.
func (e *ProcessEvent) CommString() string {
	return cString(e.Comm[:])
}

// DecodeProcessEvent reinterprets a raw ring-buffer record as a ProcessEvent.
// The record is read field-by-field rather than cast via unsafe.Pointer so
// that it also works when the ring delivers an unaligned byte slice.
func DecodeProcessEvent(b []byte) (ProcessEvent, error) {
	if len(b) < ProcessEventSize {
		return ProcessEvent{}, fmt.Errorf("wire: short ProcessEvent record: %d bytes, want %d", len(b), ProcessEventSize)
	}
	var e ProcessEvent
	e.PID = binary.LittleEndian.Uint32(b[0:4])
	// b[4:8] is alignment padding, matching the C struct's layout.
	e.CgroupID = binary.LittleEndian.Uint64(b[8:16])
	copy(e.Comm[:], b[16:16+CommLen])
	return e, nil
}

// TcpEvent mirrors the BPF-side union record for all network and L7 events (§3).
//
// saddr/daddr/sport/dport carry whatever byte order their source syscall or
// kernel struct used; see §4.2/§6 for which probes populate which order.
// The correlator normalizes before emission.
type TcpEvent struct {
	PID       uint32
	FD        uint32
	CgroupID  uint64
	SAddr     uint32
	DAddr     uint32
	SPort     uint16
	DPort     uint16
	Family    uint16
	Direction Direction
	DataLen   uint32
	Payload   [PayloadLen]byte
}

// DecodeTcpEvent reinterprets a raw ring-buffer record as a TcpEvent.
func DecodeTcpEvent(b []byte) (TcpEvent, error) {
	if len(b) < TcpEventSize {
		return TcpEvent{}, fmt.Errorf("wire: short TcpEvent record: %d bytes, want %d", len(b), TcpEventSize)
	}
	var e TcpEvent
	e.PID = binary.LittleEndian.Uint32(b[0:4])
	e.FD = binary.LittleEndian.Uint32(b[4:8])
	e.CgroupID = binary.LittleEndian.Uint64(b[8:16])
	e.SAddr = binary.LittleEndian.Uint32(b[16:20])
	e.DAddr = binary.LittleEndian.Uint32(b[20:24])
	e.SPort = binary.LittleEndian.Uint16(b[24:26])
	e.DPort = binary.LittleEndian.Uint16(b[26:28])
	e.Family = binary.LittleEndian.Uint16(b[28:30])
	e.Direction = Direction(b[30])
	// b[31] is alignment padding, matching the C struct's layout.
	e.DataLen = binary.LittleEndian.Uint32(b[32:36])
	copy(e.Payload[:], b[36:36+PayloadLen])
	return e, nil
}

// PayloadPrefix returns the captured payload truncated to the lesser of
// DataLen and the 128-byte capture window (DataLen may legitimately exceed
// the capture window; see §3).
func (e *TcpEvent) PayloadPrefix() []byte {
	n := int(e.DataLen)
	if n > PayloadLen || n < 0 {
		n = PayloadLen
	}
	return e.Payload[:n]
}

// SockKey identifies a redirectable socket in the splice fast path (§4.7).
// The port fields are host byte order per the §4.7 normalization rule; the
// IP fields are stored as sock-ops/sk-msg hand them over (network order).
type SockKey struct {
	SIP   uint32
	DIP   uint32
	SPort uint32
	DPort uint32
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
