package cpusched

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helios-kvm-balancer/internal/config"
	"helios-kvm-balancer/internal/daemon"
	"helios-kvm-balancer/internal/hv"
	"helios-kvm-balancer/internal/hv/hvtest"
	"helios-kvm-balancer/internal/model"
)

type captureSink struct {
	cpu     []model.CPUCycleReport
	sendErr error
}

func (s *captureSink) SendCPUReport(ctx context.Context, report model.CPUCycleReport) error {
	s.cpu = append(s.cpu, report)
	return s.sendErr
}

func (s *captureSink) SendMemoryReport(ctx context.Context, report model.MemoryCycleReport) error {
	return nil
}

func (s *captureSink) Close(ctx context.Context) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cpuTestConfig() config.Config {
	return config.Config{
		Hostname:         "node-1",
		CPUHighThreshold: 90,
		CPUTargetUtil:    80,
		CPULowThreshold:  70,
	}
}

func newInitializedScheduler(t *testing.T, host *hvtest.FakeHost, sink *captureSink) *Scheduler {
	t.Helper()
	s := NewScheduler(host, cpuTestConfig(), 10*time.Second, sink, testLogger())
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestSchedulerInitRoundRobin(t *testing.T) {
	host := hvtest.NewFakeHost()
	host.NumPcpus = 2
	host.Domains = []golibvirt.Domain{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	host.Idle[0] = 1000
	host.Idle[1] = 2000
	host.CPUTime["a"] = 10
	host.CPUTime["b"] = 20
	host.CPUTime["c"] = 30

	sink := &captureSink{}
	s := newInitializedScheduler(t, host, sink)

	require.Len(t, host.Pins, 3)
	assert.Equal(t, "a", host.Pins[0].Domain)
	assert.Equal(t, hv.ExclusiveCpumap(0, 2), host.Pins[0].Cpumap)
	assert.Equal(t, "b", host.Pins[1].Domain)
	assert.Equal(t, hv.ExclusiveCpumap(1, 2), host.Pins[1].Cpumap)
	assert.Equal(t, "c", host.Pins[2].Domain)
	assert.Equal(t, hv.ExclusiveCpumap(0, 2), host.Pins[2].Cpumap)

	assert.Equal(t, 2, s.pcpus[0].NumPinned)
	assert.Equal(t, 1, s.pcpus[1].NumPinned)

	// Baselines are primed so the first cycle measures a clean delta.
	assert.Equal(t, uint64(1000), s.pcpus[0].lastIdle)
	assert.Equal(t, uint64(2000), s.pcpus[1].lastIdle)
	assert.Equal(t, uint64(10), s.vcpus[0].lastTime)
}

func TestSchedulerCycleRebalancesAndReports(t *testing.T) {
	host := hvtest.NewFakeHost()
	host.NumPcpus = 2
	host.Domains = []golibvirt.Domain{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	host.Idle[0] = 0
	host.Idle[1] = 0
	host.CPUTime["a"] = 0
	host.CPUTime["b"] = 0
	host.CPUTime["c"] = 0

	sink := &captureSink{}
	s := newInitializedScheduler(t, host, sink)

	// Over a 10s cycle: pcpu0 idles 0.5s (util 95, two vcpus), pcpu1
	// idles 6s (util 40). VCPU a at 50 would land pcpu1 at 90, which
	// is rejected; c at 45 lands it at 85 and wins.
	host.Idle[0] = uint64(500 * time.Millisecond)
	host.Idle[1] = uint64(6 * time.Second)
	host.CPUTime["a"] = uint64(5 * time.Second)
	host.CPUTime["b"] = uint64(4 * time.Second)
	host.CPUTime["c"] = uint64(4500 * time.Millisecond)

	require.NoError(t, s.Cycle(context.Background()))

	require.Len(t, sink.cpu, 1)
	report := sink.cpu[0]
	assert.Equal(t, "node-1", report.Hostname)
	assert.True(t, report.PCPUs[0].High)
	assert.True(t, report.PCPUs[1].Low)

	require.Len(t, report.Migrations, 1)
	assert.Equal(t, "c", report.Migrations[0].Domain)
	assert.Equal(t, 0, report.Migrations[0].FromPCPU)
	assert.Equal(t, 1, report.Migrations[0].ToPCPU)

	// The migration pin hit the host and moved the ring membership.
	lastPin := host.Pins[len(host.Pins)-1]
	assert.Equal(t, "c", lastPin.Domain)
	assert.Equal(t, hv.ExclusiveCpumap(1, 2), lastPin.Cpumap)
	assert.Equal(t, 1, s.pcpus[0].NumPinned)
	assert.Equal(t, 2, s.pcpus[1].NumPinned)
	assert.Equal(t, 1, report.VCPUs[2].PinnedPCPU)
}

func TestSchedulerCycleSamplingErrorIsFatal(t *testing.T) {
	host := hvtest.NewFakeHost()
	host.NumPcpus = 1
	host.Domains = []golibvirt.Domain{{Name: "a"}}
	host.Idle[0] = 0
	host.CPUTime["a"] = 0

	sink := &captureSink{}
	s := newInitializedScheduler(t, host, sink)

	host.IdleErr = daemon.Failf(daemon.CategoryStatsRead, "counter read failed")
	err := s.Cycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, daemon.CategoryStatsRead, daemon.CategoryOf(err))
	// No report goes out for an abandoned sampling pass.
	assert.Empty(t, sink.cpu)
}
