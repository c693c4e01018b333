package memcoord

import (
	"context"
	"log/slog"
	"time"

	"helios-kvm-balancer/internal/config"
	"helios-kvm-balancer/internal/hv"
	"helios-kvm-balancer/internal/model"
	"helios-kvm-balancer/internal/stream"
)

// Coordinator is the memory loop controller. It owns the per-domain
// balloon records and the fixed host memory facts read at startup.
type Coordinator struct {
	host     hv.Host
	logger   *slog.Logger
	sink     stream.Sink
	hostname string

	sampler    *Sampler
	classifier *Classifier
	policy     *Policy

	vmLowPercent      float64
	vmHighPercent     float64
	vmTargetPercent   float64
	hostLowPercent    float64
	hostTargetPercent float64
	memStatsPeriod    time.Duration

	vms           []*VM
	hostTotalKiB  int64
	hostTargetKiB int64
	lastFreeKiB   int64
}

func NewCoordinator(host hv.Host, cfg config.Config, sink stream.Sink, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		host:     host,
		logger:   logger,
		sink:     sink,
		hostname: cfg.Hostname,
		sampler:  NewSampler(host),
		classifier: &Classifier{
			VMLowPercent:  cfg.VMLowPercent,
			VMHighPercent: cfg.VMHighPercent,
		},
		vmLowPercent:      cfg.VMLowPercent,
		vmHighPercent:     cfg.VMHighPercent,
		vmTargetPercent:   cfg.VMTargetPercent,
		hostLowPercent:    cfg.HostLowPercent,
		hostTargetPercent: cfg.HostTargetPercent,
		memStatsPeriod:    cfg.MemStatsPeriod,
	}
}

func (c *Coordinator) Name() string {
	return "memory-coordinator"
}

// Init enumerates active domains, pushes the balloon stats refresh
// period to each, reads every domain's memory ceiling, and derives the
// fixed host free-memory target.
func (c *Coordinator) Init(ctx context.Context) error {
	doms, err := c.host.ListActiveDomains(ctx)
	if err != nil {
		return err
	}

	if _, err := c.host.FreeMemory(ctx); err != nil {
		return err
	}
	totalKiB, err := c.host.TotalMemory(ctx)
	if err != nil {
		return err
	}
	c.hostTotalKiB = totalKiB
	c.hostTargetKiB = int64(c.hostTargetPercent * float64(totalKiB) / 100)

	period := int(c.memStatsPeriod / time.Second)
	c.vms = make([]*VM, len(doms))
	for i, dom := range doms {
		if err := c.host.SetMemoryStatsPeriod(ctx, dom, period); err != nil {
			return err
		}
		maxKiB, err := c.host.MaxMemory(ctx, dom)
		if err != nil {
			return err
		}
		c.vms[i] = &VM{Dom: dom, MaxKiB: maxKiB}
	}

	c.policy = NewPolicy(c.host, c.vmTargetPercent, c.hostLowPercent, c.hostTargetKiB, c.hostTotalKiB)

	c.logger.Info("memory coordinator initialized",
		"domains", len(doms),
		"host_total_kib", c.hostTotalKiB,
		"host_target_kib", c.hostTargetKiB,
	)
	return nil
}

// Cycle runs one sample → classify → adjust pass. Sampling errors are
// fatal; a failed balloon resize in the reclaim/grant tiers surfaces
// as a cycle-local apply failure after the report is flushed.
func (c *Coordinator) Cycle(ctx context.Context) error {
	hostFreeKiB, err := c.sampler.Sample(ctx, c.vms)
	if err != nil {
		return err
	}
	c.lastFreeKiB = hostFreeKiB

	high, low := c.classifier.Classify(c.vms)
	actions, emergency, applyErr := c.policy.Apply(ctx, c.vms, high, low)

	report := c.buildReport(actions, emergency)
	if err := c.sink.SendMemoryReport(ctx, report); err != nil {
		c.logger.Warn("memory cycle report send failed", "error", err)
	}
	return applyErr
}

func (c *Coordinator) buildReport(actions []model.MemoryAction, emergency bool) model.MemoryCycleReport {
	report := model.MemoryCycleReport{
		Hostname:      c.hostname,
		TimestampUnix: time.Now().UTC().Unix(),
		HostFreeKiB:   c.lastFreeKiB,
		HostTotalKiB:  c.hostTotalKiB,
		HostTargetKiB: c.hostTargetKiB,
		Emergency:     emergency,
		VMs:           make([]model.VMMemorySnapshot, len(c.vms)),
		Actions:       actions,
	}
	for i, vm := range c.vms {
		report.VMs[i] = model.VMMemorySnapshot{
			Domain:       hv.DomainLabel(vm.Dom),
			BalloonKiB:   vm.BalloonKiB,
			UnusedKiB:    vm.UnusedKiB,
			MaxKiB:       vm.MaxKiB,
			PercentAvail: vm.PercentAvail,
		}
	}
	return report
}
