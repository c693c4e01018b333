// Package memcoord implements the memory ballooning loop: sample
// per-domain balloon stats, classify domains by available-memory
// bands, and apply the tiered reclaim / grant / emergency-shrink
// policy against host-wide limits.
package memcoord

import (
	golibvirt "github.com/digitalocean/go-libvirt"
)

// VM tracks one domain's balloon state across cycles. Sizes are KiB.
// BalloonKiB is the source of truth for the current assignment and is
// only changed together with a host apply call.
type VM struct {
	Dom golibvirt.Domain

	BalloonKiB   int64
	UnusedKiB    int64
	MaxKiB       int64
	PercentAvail float64
}

func clampBalloon(kiB, maxKiB int64) int64 {
	if kiB < 0 {
		return 0
	}
	if kiB > maxKiB {
		return maxKiB
	}
	return kiB
}
