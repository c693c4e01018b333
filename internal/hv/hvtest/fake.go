// Package hvtest provides an in-memory Host for loop tests.
package hvtest

import (
	"context"
	"fmt"

	golibvirt "github.com/digitalocean/go-libvirt"

	"helios-kvm-balancer/internal/hv"
)

// PinRecord is one recorded PinVcpu call.
type PinRecord struct {
	Domain string
	Cpumap []byte
}

// SetMemoryRecord is one recorded SetMemory call.
type SetMemoryRecord struct {
	Domain string
	KiB    int64
}

// FakeHost implements hv.Host from plain maps, recording mutating
// calls. Error fields, when set, are returned by the matching method.
type FakeHost struct {
	Domains  []golibvirt.Domain
	NumPcpus int

	Idle     map[int]uint64    // idle counter per pcpu
	CPUTime  map[string]uint64 // cumulative cpu time per domain name
	Mem      map[string]hv.MemStats
	Max      map[string]int64
	FreeKiB  int64
	FreeSeq  []int64 // successive FreeMemory readings, consumed first
	TotalKiB int64

	Pins         []PinRecord
	SetMemCalls  []SetMemoryRecord
	StatsPeriods map[string]int

	ListErr    error
	IdleErr    error
	CPUTimeErr error
	PinErr     error
	MemErr     error
	FreeErr    error
	SetMemErrs map[string]error // per-domain SetMemory failures
}

func NewFakeHost() *FakeHost {
	return &FakeHost{
		Idle:         map[int]uint64{},
		CPUTime:      map[string]uint64{},
		Mem:          map[string]hv.MemStats{},
		Max:          map[string]int64{},
		StatsPeriods: map[string]int{},
		SetMemErrs:   map[string]error{},
	}
}

func (f *FakeHost) ListActiveDomains(ctx context.Context) ([]golibvirt.Domain, error) {
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	if len(f.Domains) == 0 {
		return nil, fmt.Errorf("no active domains")
	}
	return f.Domains, nil
}

func (f *FakeHost) PcpuCount(ctx context.Context) (int, error) {
	return f.NumPcpus, nil
}

func (f *FakeHost) PcpuIdleTime(ctx context.Context, cpu int) (uint64, error) {
	if f.IdleErr != nil {
		return 0, f.IdleErr
	}
	idle, ok := f.Idle[cpu]
	if !ok {
		return 0, fmt.Errorf("no idle counter for pcpu %d", cpu)
	}
	return idle, nil
}

func (f *FakeHost) VcpuTime(ctx context.Context, dom golibvirt.Domain) (uint64, error) {
	if f.CPUTimeErr != nil {
		return 0, f.CPUTimeErr
	}
	t, ok := f.CPUTime[dom.Name]
	if !ok {
		return 0, fmt.Errorf("no cpu time for domain %s", dom.Name)
	}
	return t, nil
}

func (f *FakeHost) PinVcpu(ctx context.Context, dom golibvirt.Domain, cpumap []byte) error {
	if f.PinErr != nil {
		return f.PinErr
	}
	f.Pins = append(f.Pins, PinRecord{Domain: dom.Name, Cpumap: append([]byte(nil), cpumap...)})
	return nil
}

func (f *FakeHost) MemoryStats(ctx context.Context, dom golibvirt.Domain) (hv.MemStats, error) {
	if f.MemErr != nil {
		return hv.MemStats{}, f.MemErr
	}
	stats, ok := f.Mem[dom.Name]
	if !ok {
		return hv.MemStats{}, fmt.Errorf("no memory stats for domain %s", dom.Name)
	}
	return stats, nil
}

func (f *FakeHost) MaxMemory(ctx context.Context, dom golibvirt.Domain) (int64, error) {
	maxKiB, ok := f.Max[dom.Name]
	if !ok {
		return 0, fmt.Errorf("no max memory for domain %s", dom.Name)
	}
	return maxKiB, nil
}

func (f *FakeHost) SetMemory(ctx context.Context, dom golibvirt.Domain, kiB int64) error {
	if err := f.SetMemErrs[dom.Name]; err != nil {
		return err
	}
	f.SetMemCalls = append(f.SetMemCalls, SetMemoryRecord{Domain: dom.Name, KiB: kiB})
	if stats, ok := f.Mem[dom.Name]; ok {
		stats.BalloonKiB = kiB
		f.Mem[dom.Name] = stats
	}
	return nil
}

func (f *FakeHost) SetMemoryStatsPeriod(ctx context.Context, dom golibvirt.Domain, seconds int) error {
	f.StatsPeriods[dom.Name] = seconds
	return nil
}

func (f *FakeHost) FreeMemory(ctx context.Context) (int64, error) {
	if f.FreeErr != nil {
		return 0, f.FreeErr
	}
	if len(f.FreeSeq) > 0 {
		v := f.FreeSeq[0]
		f.FreeSeq = f.FreeSeq[1:]
		return v, nil
	}
	return f.FreeKiB, nil
}

func (f *FakeHost) TotalMemory(ctx context.Context) (int64, error) {
	return f.TotalKiB, nil
}

var _ hv.Host = (*FakeHost)(nil)
