package model

// PCPUSnapshot is one physical core's state at the end of a cycle.
type PCPUSnapshot struct {
	Index       int     `json:"index"`
	UtilPercent float64 `json:"util_percent"`
	NumPinned   int     `json:"num_pinned"`
	High        bool    `json:"high"`
	Low         bool    `json:"low"`
}

// VCPUSnapshot is one domain's virtual CPU state at the end of a cycle.
type VCPUSnapshot struct {
	Domain      string  `json:"domain"`
	UtilPercent float64 `json:"util_percent"`
	PinnedPCPU  int     `json:"pinned_pcpu"`
}

// Migration records one pinning change applied during a cycle.
type Migration struct {
	Domain   string `json:"domain"`
	FromPCPU int    `json:"from_pcpu"`
	ToPCPU   int    `json:"to_pcpu"`
}

// CPUCycleReport is the per-cycle diagnostics payload of the VCPU
// scheduler.
type CPUCycleReport struct {
	Hostname      string         `json:"hostname"`
	TimestampUnix int64          `json:"timestamp_unix"`
	PCPUs         []PCPUSnapshot `json:"pcpus"`
	VCPUs         []VCPUSnapshot `json:"vcpus"`
	Migrations    []Migration    `json:"migrations"`
}
