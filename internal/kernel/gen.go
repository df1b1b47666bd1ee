// Package kernel loads and attaches the masdeepflow BPF probe set (C2,
// C3, C4, C9) and exposes the per-family ring buffer maps to
// internal/transport.
//
// The bpf2go-generated bindings this package depends on (bpfObjects,
// loadBpfObjects, the per-program fields) are produced by `go generate`
// from bpf/masdeepflow.bpf.c. Packaging kernel bytecode into the
// user-space binary is build orchestration, explicitly out of scope for
// this repository (spec §1) — this package only consumes the generated
// surface, it does not reproduce bpf2go's output by hand.
package kernel

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -cc clang -cflags "-O2 -g -Wall" -target bpfel,bpfeb bpf ../../bpf/masdeepflow.bpf.c -- -I../../bpf
