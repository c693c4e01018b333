package memcoord

import (
	"context"

	"helios-kvm-balancer/internal/bitset"
	"helios-kvm-balancer/internal/hv"
)

// Sampler refreshes per-domain balloon stats and the host free-memory
// reading once per cycle.
type Sampler struct {
	host hv.Host
}

func NewSampler(host hv.Host) *Sampler {
	return &Sampler{host: host}
}

// Sample updates every VM's balloon/unused readings and recomputes
// percent available, capped at 100 (guest stats can momentarily report
// more unused than ballooned because collection is not atomic). Any
// stats-read failure abandons the cycle.
func (s *Sampler) Sample(ctx context.Context, vms []*VM) (hostFreeKiB int64, err error) {
	hostFreeKiB, err = s.host.FreeMemory(ctx)
	if err != nil {
		return 0, err
	}
	for _, vm := range vms {
		stats, err := s.host.MemoryStats(ctx, vm.Dom)
		if err != nil {
			return 0, err
		}
		vm.BalloonKiB = stats.BalloonKiB
		vm.UnusedKiB = stats.UnusedKiB
		vm.PercentAvail = percentAvail(stats.UnusedKiB, stats.BalloonKiB)
	}
	return hostFreeKiB, nil
}

func percentAvail(unusedKiB, balloonKiB int64) float64 {
	if balloonKiB <= 0 {
		return 0
	}
	pct := 100 * float64(unusedKiB) / float64(balloonKiB)
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

// Classifier partitions domains into high/low memory-pressure sets.
type Classifier struct {
	VMLowPercent  float64
	VMHighPercent float64
}

// Classify marks a domain low when it is short on free memory and its
// balloon still has headroom to grow, and high when it holds excess.
func (c *Classifier) Classify(vms []*VM) (high, low *bitset.Set) {
	high = bitset.New()
	low = bitset.New()
	for i, vm := range vms {
		if vm.PercentAvail < c.VMLowPercent && vm.BalloonKiB < vm.MaxKiB {
			low.Add(i)
		} else if vm.PercentAvail > c.VMHighPercent {
			high.Add(i)
		}
	}
	return high, low
}
