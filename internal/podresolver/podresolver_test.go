package podresolver

import "testing"

func TestStubResolveIsDeterministic(t *testing.T) {
	var r Resolver = Stub{}
	cases := map[uint64]string{
		0: "frontend-pod-1",
		1: "backend-service-2",
		2: "unknown-pod",
		3: "frontend-pod-1",
	}
	for cgroup, want := range cases {
		if got := r.Resolve(cgroup); got != want {
			t.Errorf("Resolve(%d) = %q, want %q", cgroup, got, want)
		}
	}
}
