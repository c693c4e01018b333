package cpusched

import (
	"context"
	"math"

	"helios-kvm-balancer/internal/bitset"
	"helios-kvm-balancer/internal/model"
)

// PinFunc applies a pinning change on the host and, on success, moves
// the VCPU between membership rings.
type PinFunc func(ctx context.Context, v *VCPU, to *PCPU) error

// Rebalancer performs the best-fit migration pass: for each
// under-utilized PCPU, pick across all over-utilized PCPUs the single
// VCPU whose migration lands the receiver closest to the target
// utilization without re-creating a hotspot.
type Rebalancer struct {
	HighThreshold float64
	Target        float64
	Pin           PinFunc
}

// Rebalance runs one pass. Each low PCPU is considered exactly once per
// cycle; a donor that gives up a VCPU is dropped from the live high set
// so no PCPU loses more than one VCPU per cycle. A failed pin aborts
// the pass immediately with no rollback of mask or ring state.
func (r *Rebalancer) Rebalance(ctx context.Context, pcpus []*PCPU, high, low *bitset.Set) ([]model.Migration, error) {
	var migrations []model.Migration

	lowWork := low.Clone()
	for !lowWork.Empty() && !high.Empty() {
		receiverIdx, _ := lowWork.PopLowest()
		receiver := pcpus[receiverIdx]

		bestDelta := math.Inf(1)
		var best *VCPU

		highWork := high.Clone()
		for {
			donorIdx, ok := highWork.PopLowest()
			if !ok {
				break
			}
			donor := pcpus[donorIdx]
			v := donor.head
			if v == nil {
				continue
			}
			for {
				candidateUtil := v.Util + receiver.Util
				delta := math.Abs(r.Target - candidateUtil)
				// Strict < keeps the first-found candidate on ties;
				// a migration that merely relocates the hotspot is
				// rejected outright.
				if delta < bestDelta && candidateUtil < r.HighThreshold {
					bestDelta = delta
					best = v
				}
				v = v.next
				if v == donor.head {
					break
				}
			}
		}

		if best == nil {
			// No donor can unload onto this receiver without
			// breaching the high threshold; skip it this cycle.
			continue
		}

		donor := best.pinned
		// The donor already gave up its one migration for this cycle,
		// even if the pin below fails.
		high.Remove(donor.Index)

		if err := r.Pin(ctx, best, receiver); err != nil {
			return migrations, err
		}
		migrations = append(migrations, model.Migration{
			Domain:   best.Dom.Name,
			FromPCPU: donor.Index,
			ToPCPU:   receiver.Index,
		})
	}

	return migrations, nil
}
