package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/sirupsen/logrus"
)

// FilterPIDCeiling mirrors the FILTER_PID map size in bpf/masdeepflow.bpf.c (§5).
const FilterPIDCeiling = 16

// Probes owns every attached BPF link and the loaded object collection for
// the lifetime of the agent. Load/Attach/Close follow the load-then-collect-links
// shape used throughout the retrieval pack for cilium/ebpf consumers.
type Probes struct {
	log    logrus.FieldLogger
	objs   bpfObjects
	links  []link.Link
	cgroup *os.File
}

// Load raises RLIMIT_MEMLOCK (§5) and loads the generated BPF objects, but
// attaches nothing yet. Splitting load from attach gives the caller a
// window to call RegisterSelfPID on the loaded FILTER_PID map before any
// probe can fire, matching the startup ordering in
// SPEC_FULL.md (populate FILTER_PID, *then* attach).
func Load(log logrus.FieldLogger) (*Probes, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("kernel: raising RLIMIT_MEMLOCK: %w", err)
	}

	p := &Probes{log: log}

	if err := loadBpfObjects(&p.objs, nil); err != nil {
		return nil, fmt.Errorf("kernel: loading BPF objects: %w", err)
	}

	return p, nil
}

// Attach attaches every probe in §4.2, plus the splice fast path (C9) if
// enableSplice is set. Attach failures are fatal per §7: the caller should
// treat a non-nil error as a reason to exit, not retry.
func (p *Probes) Attach(cgroupPath string, enableSplice bool) error {
	attachers := []struct {
		name string
		fn   func() (link.Link, error)
	}{
		{"sched_process_exec", func() (link.Link, error) {
			return link.Tracepoint("sched", "sched_process_exec", p.objs.MasdeepflowExec, nil)
		}},
		{"sys_enter_connect", func() (link.Link, error) {
			return link.Tracepoint("syscalls", "sys_enter_connect", p.objs.MasdeepflowTcpConnect, nil)
		}},
		{"tcp_connect", func() (link.Link, error) {
			return link.Kprobe("tcp_connect", p.objs.MasdeepflowTcpConnectDetailed, nil)
		}},
		{"inet_csk_accept", func() (link.Link, error) {
			return link.Kretprobe("inet_csk_accept", p.objs.MasdeepflowTcpAccept, nil)
		}},
		{"sys_enter_write", func() (link.Link, error) {
			return link.Tracepoint("syscalls", "sys_enter_write", p.objs.MasdeepflowWrite, nil)
		}},
		{"sys_enter_sendto", func() (link.Link, error) {
			return link.Tracepoint("syscalls", "sys_enter_sendto", p.objs.MasdeepflowSendto, nil)
		}},
		{"sys_enter_read", func() (link.Link, error) {
			return link.Tracepoint("syscalls", "sys_enter_read", p.objs.MasdeepflowReadEnter, nil)
		}},
		{"sys_exit_read", func() (link.Link, error) {
			return link.Tracepoint("syscalls", "sys_exit_read", p.objs.MasdeepflowReadExit, nil)
		}},
		{"sys_enter_recvfrom", func() (link.Link, error) {
			return link.Tracepoint("syscalls", "sys_enter_recvfrom", p.objs.MasdeepflowRecvfromEnter, nil)
		}},
		{"sys_exit_recvfrom", func() (link.Link, error) {
			return link.Tracepoint("syscalls", "sys_exit_recvfrom", p.objs.MasdeepflowRecvfromExit, nil)
		}},
	}

	for _, a := range attachers {
		l, err := a.fn()
		if err != nil {
			p.Close()
			return fmt.Errorf("kernel: attaching %s: %w", a.name, err)
		}
		p.links = append(p.links, l)
	}

	if enableSplice {
		if err := p.attachSplice(cgroupPath); err != nil {
			p.Close()
			return err
		}
	} else {
		p.log.Info("kernel: socket splice fast path disabled by configuration")
	}

	return nil
}

// attachSplice attaches the sock-ops and sk-msg halves of the splice fast
// path (C9, §4.7) to the given cgroup. A cgroup v2 mount point is required;
// the root cgroup (e.g. "/sys/fs/cgroup") observes every socket on the host.
func (p *Probes) attachSplice(cgroupPath string) error {
	cgroup, err := os.Open(cgroupPath)
	if err != nil {
		return fmt.Errorf("kernel: opening cgroup %q for splice attach: %w", cgroupPath, err)
	}
	p.cgroup = cgroup

	sockops, err := link.AttachCgroup(link.CgroupOptions{
		Path:    cgroupPath,
		Attach:  ebpf.AttachCGroupSockOps,
		Program: p.objs.MasdeepflowSockops,
	})
	if err != nil {
		return fmt.Errorf("kernel: attaching sock-ops: %w", err)
	}
	p.links = append(p.links, sockops)

	skmsg, err := link.AttachRawLink(link.RawLinkOptions{
		Target:  int(p.objs.InterceptMap.FD()),
		Program: p.objs.MasdeepflowSkMsg,
		Attach:  ebpf.AttachSkMsgVerdict,
	})
	if err != nil {
		return fmt.Errorf("kernel: attaching sk-msg: %w", err)
	}
	p.links = append(p.links, skmsg)

	return nil
}

// RegisterSelfPID populates the FILTER_PID allow-skip table (§4.3.2) with
// the agent's own pid. The FILTER_PID map exists as soon as Load returns,
// so the caller can (and should) call this before Attach: that way the
// second self-exclusion guard is live before any probe can observe the
// agent's own traffic, per the original implementation's startup ordering
// (SPEC_FULL.md, Supplemented Features #3).
func (p *Probes) RegisterSelfPID(pid uint32) error {
	if err := p.objs.FilterPid.Update(pid, uint8(1), ebpf.UpdateAny); err != nil {
		return fmt.Errorf("kernel: registering self pid %d in FILTER_PID: %w", pid, err)
	}
	return nil
}

// ProcessEventsMap exposes the process-event ring buffer map to internal/transport.
func (p *Probes) ProcessEventsMap() *ebpf.Map { return p.objs.ProcessEvents }

// TcpEventsMap exposes the tcp-event ring buffer map to internal/transport.
func (p *Probes) TcpEventsMap() *ebpf.Map { return p.objs.TcpEvents }

// RingDrops sums the per-CPU ring-overrun counters the BPF side bumps
// whenever bpf_ringbuf_reserve fails (§7): BPF_MAP_TYPE_RINGBUF exposes no
// drop count of its own, unlike perf buffers, so this is the only way to
// see loss on this transport.
func (p *Probes) RingDrops() (process, tcp uint64, err error) {
	process, err = sumPerCPUCounter(p.objs.ProcessRingDrops)
	if err != nil {
		return 0, 0, fmt.Errorf("kernel: reading process ring drop counter: %w", err)
	}
	tcp, err = sumPerCPUCounter(p.objs.TcpRingDrops)
	if err != nil {
		return 0, 0, fmt.Errorf("kernel: reading tcp ring drop counter: %w", err)
	}
	return process, tcp, nil
}

func sumPerCPUCounter(m *ebpf.Map) (uint64, error) {
	var perCPU []uint64
	if err := m.Lookup(uint32(0), &perCPU); err != nil {
		return 0, err
	}
	var total uint64
	for _, v := range perCPU {
		total += v
	}
	return total, nil
}

// RingDropReporter receives the cumulative ring-overrun totals RingDrops
// reads from the kernel, fed to internal/metrics.
type RingDropReporter interface {
	SetRingLost(family string, total float64)
}

// PollRingDrops reads the ring-overrun counters on every tick of interval
// until ctx is canceled, reporting the cumulative totals to reporter. A
// read failure is logged and retried on the next tick rather than treated
// as fatal, matching §7's "recover locally for all per-event errors".
func (p *Probes) PollRingDrops(ctx context.Context, log logrus.FieldLogger, interval time.Duration, reporter RingDropReporter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			process, tcp, err := p.RingDrops()
			if err != nil {
				log.WithError(err).Warn("kernel: reading ring drop counters")
				continue
			}
			reporter.SetRingLost("process", float64(process))
			reporter.SetRingLost("tcp", float64(tcp))
		}
	}
}

// Close detaches every link and releases the loaded object collection.
// Safe to call multiple times and on a partially-initialized Probes (Attach
// calls this on its own failure paths).
func (p *Probes) Close() error {
	var errs []error
	for _, l := range p.links {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.links = nil
	if p.cgroup != nil {
		if err := p.cgroup.Close(); err != nil {
			errs = append(errs, err)
		}
		p.cgroup = nil
	}
	if err := p.objs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
