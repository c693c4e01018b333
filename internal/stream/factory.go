package stream

import (
	"fmt"
	"log/slog"

	"helios-kvm-balancer/internal/config"
)

func NewSinkFromConfig(cfg config.Config, logger *slog.Logger) (Sink, error) {
	switch cfg.ReportMode {
	case config.ReportModeLog:
		return NewLogSink(logger), nil
	case config.ReportModeGRPC:
		tlsCfg, err := cfg.TLSConfig()
		if err != nil {
			return nil, fmt.Errorf("tls config: %w", err)
		}
		return NewGRPCClient(
			cfg.ReportGRPCAddr,
			tlsCfg,
			cfg.ReportToken,
			cfg.GRPCCPUReportMethod,
			cfg.GRPCMemReportMethod,
			logger,
		), nil
	default:
		return nil, fmt.Errorf("unsupported report mode %q", cfg.ReportMode)
	}
}
