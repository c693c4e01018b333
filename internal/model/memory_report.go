package model

// Memory action kinds, matching the three tiers of the balloon policy.
const (
	MemActionReclaim   = "reclaim"
	MemActionGrant     = "grant"
	MemActionEmergency = "emergency"
)

// VMMemorySnapshot is one domain's balloon state at the end of a cycle.
// Sizes are KiB.
type VMMemorySnapshot struct {
	Domain       string  `json:"domain"`
	BalloonKiB   int64   `json:"balloon_kib"`
	UnusedKiB    int64   `json:"unused_kib"`
	MaxKiB       int64   `json:"max_kib"`
	PercentAvail float64 `json:"percent_avail"`
}

// MemoryAction records one balloon resize applied during a cycle.
type MemoryAction struct {
	Domain        string `json:"domain"`
	Kind          string `json:"kind"`
	DeltaKiB      int64  `json:"delta_kib"`
	NewBalloonKiB int64  `json:"new_balloon_kib"`
}

// MemoryCycleReport is the per-cycle diagnostics payload of the memory
// coordinator.
type MemoryCycleReport struct {
	Hostname      string             `json:"hostname"`
	TimestampUnix int64              `json:"timestamp_unix"`
	HostFreeKiB   int64              `json:"host_free_kib"`
	HostTotalKiB  int64              `json:"host_total_kib"`
	HostTargetKiB int64              `json:"host_target_kib"`
	Emergency     bool               `json:"emergency"`
	VMs           []VMMemorySnapshot `json:"vms"`
	Actions       []MemoryAction     `json:"actions"`
}
