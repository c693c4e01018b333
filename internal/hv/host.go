package hv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	golibvirt "github.com/digitalocean/go-libvirt"

	"helios-kvm-balancer/internal/daemon"
)

const kib = 1024

// MemStats is one balloon sample for a domain, in KiB (libvirt's native
// unit for balloon stats).
type MemStats struct {
	BalloonKiB int64
	UnusedKiB  int64
}

// Host is the host-management collaborator consumed by both loops.
// Implementations are synchronous; a blocking call stalls the cycle,
// which is acceptable at seconds-to-minutes cycle lengths.
type Host interface {
	ListActiveDomains(ctx context.Context) ([]golibvirt.Domain, error)
	PcpuCount(ctx context.Context) (int, error)
	PcpuIdleTime(ctx context.Context, cpu int) (uint64, error)
	VcpuTime(ctx context.Context, dom golibvirt.Domain) (uint64, error)
	PinVcpu(ctx context.Context, dom golibvirt.Domain, cpumap []byte) error
	MemoryStats(ctx context.Context, dom golibvirt.Domain) (MemStats, error)
	MaxMemory(ctx context.Context, dom golibvirt.Domain) (int64, error)
	SetMemory(ctx context.Context, dom golibvirt.Domain, kiB int64) error
	SetMemoryStatsPeriod(ctx context.Context, dom golibvirt.Domain, seconds int) error
	FreeMemory(ctx context.Context) (int64, error)
	TotalMemory(ctx context.Context) (int64, error)
}

// LibvirtHost implements Host over a ConnManager.
type LibvirtHost struct {
	conn   *ConnManager
	logger *slog.Logger
}

func NewLibvirtHost(conn *ConnManager, logger *slog.Logger) *LibvirtHost {
	return &LibvirtHost{conn: conn, logger: logger}
}

func (h *LibvirtHost) ListActiveDomains(ctx context.Context) ([]golibvirt.Domain, error) {
	client, err := h.conn.Client(ctx)
	if err != nil {
		return nil, daemon.Fail(daemon.CategoryConnection, err)
	}
	doms, _, err := client.ConnectListAllDomains(1, golibvirt.ConnectListDomainsActive)
	if err != nil {
		return nil, daemon.Failf(daemon.CategoryEnumeration, "ConnectListAllDomains: %w", err)
	}
	if len(doms) == 0 {
		return nil, daemon.Failf(daemon.CategoryNoDomains, "no active domains")
	}
	return doms, nil
}

func (h *LibvirtHost) PcpuCount(ctx context.Context) (int, error) {
	client, err := h.conn.Client(ctx)
	if err != nil {
		return 0, daemon.Fail(daemon.CategoryConnection, err)
	}
	_, _, cpus, _, _, _, _, _, err := client.NodeGetInfo()
	if err != nil {
		return 0, daemon.Failf(daemon.CategoryStatsRead, "NodeGetInfo: %w", err)
	}
	if cpus <= 0 {
		return 0, daemon.Failf(daemon.CategorySetup, "host reports %d pcpus", cpus)
	}
	return int(cpus), nil
}

func (h *LibvirtHost) PcpuIdleTime(ctx context.Context, cpu int) (uint64, error) {
	client, err := h.conn.Client(ctx)
	if err != nil {
		return 0, daemon.Fail(daemon.CategoryConnection, err)
	}
	stats, _, err := client.NodeGetCPUStats(int32(cpu), 0, 0)
	if err != nil {
		return 0, daemon.Failf(daemon.CategoryStatsRead, "NodeGetCPUStats pcpu %d: %w", cpu, err)
	}
	for _, st := range stats {
		if strings.EqualFold(st.Field, "idle") {
			return st.Value, nil
		}
	}
	return 0, daemon.Failf(daemon.CategoryIdleCounter, "pcpu %d stats carry no idle counter", cpu)
}

func (h *LibvirtHost) VcpuTime(ctx context.Context, dom golibvirt.Domain) (uint64, error) {
	client, err := h.conn.Client(ctx)
	if err != nil {
		return 0, daemon.Fail(daemon.CategoryConnection, err)
	}
	info, _, err := client.DomainGetVcpus(dom, 1, 0)
	if err != nil {
		return 0, daemon.Failf(daemon.CategoryDomainInfo, "DomainGetVcpus %s: %w", dom.Name, err)
	}
	if len(info) == 0 {
		return 0, daemon.Failf(daemon.CategoryDomainInfo, "domain %s reports no vcpus", dom.Name)
	}
	return info[0].CPUTime, nil
}

func (h *LibvirtHost) PinVcpu(ctx context.Context, dom golibvirt.Domain, cpumap []byte) error {
	client, err := h.conn.Client(ctx)
	if err != nil {
		return daemon.Fail(daemon.CategoryConnection, err)
	}
	if err := client.DomainPinVcpu(dom, 0, cpumap); err != nil {
		return daemon.Failf(daemon.CategoryApply, "DomainPinVcpu %s: %w", dom.Name, err)
	}
	return nil
}

func (h *LibvirtHost) MemoryStats(ctx context.Context, dom golibvirt.Domain) (MemStats, error) {
	client, err := h.conn.Client(ctx)
	if err != nil {
		return MemStats{}, daemon.Fail(daemon.CategoryConnection, err)
	}
	stats, err := client.DomainMemoryStats(dom, uint32(golibvirt.DomainMemoryStatNr), 0)
	if err != nil {
		return MemStats{}, daemon.Failf(daemon.CategoryStatsRead, "DomainMemoryStats %s: %w", dom.Name, err)
	}
	var out MemStats
	for _, st := range stats {
		switch st.Tag {
		case int32(golibvirt.DomainMemoryStatActualBalloon):
			out.BalloonKiB = int64(st.Val)
		case int32(golibvirt.DomainMemoryStatUnused):
			out.UnusedKiB = int64(st.Val)
		}
	}
	if out.BalloonKiB == 0 {
		return MemStats{}, daemon.Failf(daemon.CategoryStatsRead, "domain %s reports no balloon size", dom.Name)
	}
	return out, nil
}

func (h *LibvirtHost) MaxMemory(ctx context.Context, dom golibvirt.Domain) (int64, error) {
	client, err := h.conn.Client(ctx)
	if err != nil {
		return 0, daemon.Fail(daemon.CategoryConnection, err)
	}
	maxKiB, err := client.DomainGetMaxMemory(dom)
	if err != nil {
		return 0, daemon.Failf(daemon.CategoryDomainInfo, "DomainGetMaxMemory %s: %w", dom.Name, err)
	}
	if maxKiB == 0 {
		return 0, daemon.Failf(daemon.CategoryDomainInfo, "domain %s reports zero max memory", dom.Name)
	}
	return int64(maxKiB), nil
}

func (h *LibvirtHost) SetMemory(ctx context.Context, dom golibvirt.Domain, kiB int64) error {
	client, err := h.conn.Client(ctx)
	if err != nil {
		return daemon.Fail(daemon.CategoryConnection, err)
	}
	if kiB < 0 {
		return daemon.Failf(daemon.CategoryApply, "negative memory size %d for %s", kiB, dom.Name)
	}
	if err := client.DomainSetMemory(dom, uint64(kiB)); err != nil {
		return daemon.Failf(daemon.CategoryApply, "DomainSetMemory %s: %w", dom.Name, err)
	}
	return nil
}

func (h *LibvirtHost) SetMemoryStatsPeriod(ctx context.Context, dom golibvirt.Domain, seconds int) error {
	client, err := h.conn.Client(ctx)
	if err != nil {
		return daemon.Fail(daemon.CategoryConnection, err)
	}
	if err := client.DomainSetMemoryStatsPeriod(dom, int32(seconds), golibvirt.DomainMemoryModFlags(golibvirt.DomainMemLive)); err != nil {
		return daemon.Failf(daemon.CategorySetup, "DomainSetMemoryStatsPeriod %s: %w", dom.Name, err)
	}
	return nil
}

func (h *LibvirtHost) FreeMemory(ctx context.Context) (int64, error) {
	client, err := h.conn.Client(ctx)
	if err != nil {
		return 0, daemon.Fail(daemon.CategoryConnection, err)
	}
	freeBytes, err := client.NodeGetFreeMemory()
	if err != nil {
		return 0, daemon.Failf(daemon.CategoryHostMemory, "NodeGetFreeMemory: %w", err)
	}
	if freeBytes == 0 {
		return 0, daemon.Failf(daemon.CategoryHostMemory, "host reports zero free memory")
	}
	return int64(freeBytes / kib), nil
}

func (h *LibvirtHost) TotalMemory(ctx context.Context) (int64, error) {
	client, err := h.conn.Client(ctx)
	if err != nil {
		return 0, daemon.Fail(daemon.CategoryConnection, err)
	}
	_, memoryKiB, _, _, _, _, _, _, err := client.NodeGetInfo()
	if err != nil {
		return 0, daemon.Failf(daemon.CategoryHostMemory, "NodeGetInfo: %w", err)
	}
	if memoryKiB == 0 {
		return 0, daemon.Failf(daemon.CategoryHostMemory, "host reports zero total memory")
	}
	return int64(memoryKiB), nil
}

var _ Host = (*LibvirtHost)(nil)

// ExclusiveCpumap builds the affinity map that pins a VCPU to exactly
// one PCPU.
func ExclusiveCpumap(cpu, pcpus int) []byte {
	if cpu < 0 || pcpus <= 0 {
		return nil
	}
	m := make([]byte, (pcpus+7)/8)
	m[cpu/8] = 1 << uint(cpu%8)
	return m
}

func DomainLabel(dom golibvirt.Domain) string {
	if dom.Name != "" {
		return dom.Name
	}
	return fmt.Sprintf("domain-%d", dom.ID)
}
