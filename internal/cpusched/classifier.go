package cpusched

import (
	"helios-kvm-balancer/internal/bitset"
)

// Classifier partitions PCPUs into high/low candidate sets by the
// configured utilization bands. Masks are rebuilt from scratch every
// cycle and never carried over.
type Classifier struct {
	HighThreshold float64
	LowThreshold  float64
}

// Classify returns the donor and receiver candidate sets. A PCPU above
// the high threshold only becomes a donor candidate when more than one
// VCPU is pinned to it; donating its last VCPU would leave it idle.
func (c *Classifier) Classify(pcpus []*PCPU) (high, low *bitset.Set) {
	high = bitset.New()
	low = bitset.New()
	for _, p := range pcpus {
		if p.Util > c.HighThreshold {
			if p.NumPinned > 1 {
				high.Add(p.Index)
			}
		} else if p.Util < c.LowThreshold {
			low.Add(p.Index)
		}
	}
	return high, low
}
