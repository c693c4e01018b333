package cpusched

import (
	"context"

	"helios-kvm-balancer/internal/hv"
)

// Sampler converts raw idle/cpu-time counters into per-cycle
// utilization percentages against the previous cycle's counters.
type Sampler struct {
	host    hv.Host
	cycleNs float64
}

func NewSampler(host hv.Host, cycleNs uint64) *Sampler {
	return &Sampler{host: host, cycleNs: float64(cycleNs)}
}

// SamplePCPUs refreshes every PCPU's utilization from its idle
// counter: util = 100 - (idle delta * 100 / cycle ns). The stored
// baseline advances unconditionally, so one anomalous read does not
// poison later cycles. Any read failure abandons the whole pass.
func (s *Sampler) SamplePCPUs(ctx context.Context, pcpus []*PCPU) error {
	for _, p := range pcpus {
		idle, err := s.host.PcpuIdleTime(ctx, p.Index)
		if err != nil {
			return err
		}
		p.Util = clampPercent(100 - (float64(idle)-float64(p.lastIdle))*100/s.cycleNs)
		p.lastIdle = idle
	}
	return nil
}

// SampleVCPUs refreshes every VCPU's utilization from its cumulative
// cpu time: util = time delta * 100 / cycle ns.
func (s *Sampler) SampleVCPUs(ctx context.Context, vcpus []*VCPU) error {
	for _, v := range vcpus {
		cpuTime, err := s.host.VcpuTime(ctx, v.Dom)
		if err != nil {
			return err
		}
		v.Util = clampPercent((float64(cpuTime) - float64(v.lastTime)) * 100 / s.cycleNs)
		v.lastTime = cpuTime
	}
	return nil
}

func clampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
