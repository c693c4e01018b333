package cpusched

import (
	"context"
	"log/slog"
	"time"

	"helios-kvm-balancer/internal/bitset"
	"helios-kvm-balancer/internal/config"
	"helios-kvm-balancer/internal/hv"
	"helios-kvm-balancer/internal/model"
	"helios-kvm-balancer/internal/stream"
)

// Scheduler is the CPU loop controller. It owns the cross-cycle
// tracking state: the PCPU records with their membership rings and the
// VCPU records with their sampling baselines.
type Scheduler struct {
	host     hv.Host
	logger   *slog.Logger
	sink     stream.Sink
	hostname string
	cycle    time.Duration

	sampler    *Sampler
	classifier *Classifier
	rebalancer *Rebalancer

	pcpus []*PCPU
	vcpus []*VCPU
}

func NewScheduler(host hv.Host, cfg config.Config, cycle time.Duration, sink stream.Sink, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		host:     host,
		logger:   logger,
		sink:     sink,
		hostname: cfg.Hostname,
		cycle:    cycle,
		sampler:  NewSampler(host, uint64(cycle.Nanoseconds())),
		classifier: &Classifier{
			HighThreshold: cfg.CPUHighThreshold,
			LowThreshold:  cfg.CPULowThreshold,
		},
	}
	s.rebalancer = &Rebalancer{
		HighThreshold: cfg.CPUHighThreshold,
		Target:        cfg.CPUTargetUtil,
		Pin:           s.pin,
	}
	return s
}

func (s *Scheduler) Name() string {
	return "vcpu-scheduler"
}

// Init enumerates active domains and host topology, places every VCPU
// round-robin across the PCPUs, and primes the sampling baselines.
func (s *Scheduler) Init(ctx context.Context) error {
	doms, err := s.host.ListActiveDomains(ctx)
	if err != nil {
		return err
	}
	numPcpus, err := s.host.PcpuCount(ctx)
	if err != nil {
		return err
	}

	s.pcpus = make([]*PCPU, numPcpus)
	for i := range s.pcpus {
		idle, err := s.host.PcpuIdleTime(ctx, i)
		if err != nil {
			return err
		}
		s.pcpus[i] = &PCPU{
			Index:    i,
			Cpumap:   hv.ExclusiveCpumap(i, numPcpus),
			lastIdle: idle,
		}
	}

	s.vcpus = make([]*VCPU, len(doms))
	for i, dom := range doms {
		v := &VCPU{Dom: dom}
		if err := s.pin(ctx, v, s.pcpus[i%numPcpus]); err != nil {
			return err
		}
		cpuTime, err := s.host.VcpuTime(ctx, dom)
		if err != nil {
			return err
		}
		v.lastTime = cpuTime
		s.vcpus[i] = v
	}

	s.logger.Info("initial placement complete", "domains", len(doms), "pcpus", numPcpus)
	return nil
}

// Cycle runs one sample → classify → rebalance pass. Sampling errors
// are fatal; a failed pin surfaces as a cycle-local apply failure after
// the diagnostics report is flushed.
func (s *Scheduler) Cycle(ctx context.Context) error {
	if err := s.sampler.SamplePCPUs(ctx, s.pcpus); err != nil {
		return err
	}
	if err := s.sampler.SampleVCPUs(ctx, s.vcpus); err != nil {
		return err
	}

	high, low := s.classifier.Classify(s.pcpus)
	migrations, rebErr := s.rebalancer.Rebalance(ctx, s.pcpus, high, low)

	report := s.buildReport(high, low, migrations)
	if err := s.sink.SendCPUReport(ctx, report); err != nil {
		s.logger.Warn("cpu cycle report send failed", "error", err)
	}
	return rebErr
}

// pin applies the pinning change on the host, then moves the VCPU to
// the receiver's membership ring.
func (s *Scheduler) pin(ctx context.Context, v *VCPU, to *PCPU) error {
	if err := s.host.PinVcpu(ctx, v.Dom, to.Cpumap); err != nil {
		return err
	}
	if v.pinned != nil {
		v.pinned.detach(v)
	}
	to.attach(v)
	return nil
}

func (s *Scheduler) buildReport(high, low *bitset.Set, migrations []model.Migration) model.CPUCycleReport {
	report := model.CPUCycleReport{
		Hostname:      s.hostname,
		TimestampUnix: time.Now().UTC().Unix(),
		PCPUs:         make([]model.PCPUSnapshot, len(s.pcpus)),
		VCPUs:         make([]model.VCPUSnapshot, len(s.vcpus)),
		Migrations:    migrations,
	}
	for i, p := range s.pcpus {
		report.PCPUs[i] = model.PCPUSnapshot{
			Index:       p.Index,
			UtilPercent: p.Util,
			NumPinned:   p.NumPinned,
			High:        high.Contains(p.Index),
			Low:         low.Contains(p.Index),
		}
	}
	for i, v := range s.vcpus {
		pinnedTo := -1
		if v.pinned != nil {
			pinnedTo = v.pinned.Index
		}
		report.VCPUs[i] = model.VCPUSnapshot{
			Domain:      hv.DomainLabel(v.Dom),
			UtilPercent: v.Util,
			PinnedPCPU:  pinnedTo,
		}
	}
	return report
}
