// Package podresolver maps a cgroup id to a human-readable workload name.
// Kubernetes Pod resolution is an external collaborator's concern (spec
// Out of scope §2): this package only defines the interface the
// correlator depends on plus a stub good enough to run standalone.
package podresolver

// Resolver looks up the workload a cgroup id belongs to. A real
// implementation backed by the container runtime or the kubelet can be
// swapped in without touching internal/correlator.
type Resolver interface {
	Resolve(cgroupID uint64) string
}

// Stub is a placeholder Resolver that buckets cgroup ids into a handful
// of fixed labels. It exists so the agent produces readable output before
// a real cluster-aware resolver is wired in.
type Stub struct{}

// Resolve implements Resolver with a deterministic, cluster-agnostic
// fallback: cgroup id modulo 3 picked for the same reason the original
// prototype did, to get visibly distinct labels without a real lookup.
func (Stub) Resolve(cgroupID uint64) string {
	switch cgroupID % 3 {
	case 0:
		return "frontend-pod-1"
	case 1:
		return "backend-service-2"
	default:
		return "unknown-pod"
	}
}
