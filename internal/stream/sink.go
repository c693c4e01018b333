// Package stream delivers per-cycle diagnostics reports, either to the
// structured logger or to a collector backend over gRPC.
package stream

import (
	"context"

	"helios-kvm-balancer/internal/model"
)

type Sink interface {
	SendCPUReport(ctx context.Context, report model.CPUCycleReport) error
	SendMemoryReport(ctx context.Context, report model.MemoryCycleReport) error
	Close(ctx context.Context) error
}

type CPUFrame struct {
	Hostname      string               `json:"hostname"`
	TimestampUnix int64                `json:"timestamp_unix"`
	Report        model.CPUCycleReport `json:"report"`
}

type MemoryFrame struct {
	Hostname      string                  `json:"hostname"`
	TimestampUnix int64                   `json:"timestamp_unix"`
	Report        model.MemoryCycleReport `json:"report"`
}

func NewCPUFrame(r model.CPUCycleReport) CPUFrame {
	return CPUFrame{Hostname: r.Hostname, TimestampUnix: r.TimestampUnix, Report: r}
}

func NewMemoryFrame(r model.MemoryCycleReport) MemoryFrame {
	return MemoryFrame{Hostname: r.Hostname, TimestampUnix: r.TimestampUnix, Report: r}
}
