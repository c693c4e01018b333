package daemon

import (
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	libvirtConnected atomic.Bool
	lastCycleAt      atomic.Int64
	cyclesTotal      atomic.Int64
	applyFailures    atomic.Int64
}

func NewHealthStatus() *HealthStatus {
	h := &HealthStatus{}
	h.libvirtConnected.Store(false)
	return h
}

func (h *HealthStatus) SetLibvirtConnected(ok bool) {
	h.libvirtConnected.Store(ok)
}

func (h *HealthStatus) MarkCycle(ts time.Time) {
	h.lastCycleAt.Store(ts.UnixNano())
	h.cyclesTotal.Add(1)
}

func (h *HealthStatus) MarkApplyFailure() {
	h.applyFailures.Add(1)
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"libvirt_connected": h.libvirtConnected.Load(),
		"cycles_total":      h.cyclesTotal.Load(),
		"apply_failures":    h.applyFailures.Load(),
	}
	if v := h.lastCycleAt.Load(); v > 0 {
		out["last_cycle_at"] = time.Unix(0, v).UTC()
	}
	return out
}
