package stream

import (
	"context"
	"log/slog"

	"helios-kvm-balancer/internal/model"
)

// LogSink writes cycle reports to the structured logger. This is the
// default diagnostics surface and replaces the old per-cycle stdout
// dump.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) SendCPUReport(ctx context.Context, report model.CPUCycleReport) error {
	for _, p := range report.PCPUs {
		s.logger.Info("pcpu", "index", p.Index, "util", p.UtilPercent, "pinned", p.NumPinned, "high", p.High, "low", p.Low)
	}
	for _, v := range report.VCPUs {
		s.logger.Info("vcpu", "domain", v.Domain, "util", v.UtilPercent, "pcpu", v.PinnedPCPU)
	}
	for _, m := range report.Migrations {
		s.logger.Info("migration", "domain", m.Domain, "from", m.FromPCPU, "to", m.ToPCPU)
	}
	return nil
}

func (s *LogSink) SendMemoryReport(ctx context.Context, report model.MemoryCycleReport) error {
	s.logger.Info("host memory",
		"free_kib", report.HostFreeKiB,
		"total_kib", report.HostTotalKiB,
		"target_kib", report.HostTargetKiB,
		"emergency", report.Emergency,
	)
	for _, vm := range report.VMs {
		s.logger.Info("vm memory",
			"domain", vm.Domain,
			"balloon_kib", vm.BalloonKiB,
			"unused_kib", vm.UnusedKiB,
			"percent_avail", vm.PercentAvail,
		)
	}
	for _, a := range report.Actions {
		s.logger.Info("memory action", "domain", a.Domain, "kind", a.Kind, "delta_kib", a.DeltaKiB, "new_balloon_kib", a.NewBalloonKiB)
	}
	return nil
}

func (s *LogSink) Close(ctx context.Context) error {
	return nil
}

var _ Sink = (*LogSink)(nil)
