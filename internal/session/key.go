// Package session defines the identity key the correlator and the L7
// parsers share to stitch fragmentary kernel events back into one flow.
package session

import "fmt"

// Key identifies one socket the way the kernel probes can: neither side
// of a write(2)/read(2) carries a five-tuple, only a cgroup id and an fd,
// so that pair is the only thing every event in a flow has in common.
type Key struct {
	CgroupID uint64
	FD       uint32
}

func (k Key) String() string {
	return fmt.Sprintf("cgroup=%d/fd=%d", k.CgroupID, k.FD)
}
