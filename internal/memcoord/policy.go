package memcoord

import (
	"context"

	"helios-kvm-balancer/internal/bitset"
	"helios-kvm-balancer/internal/hv"
	"helios-kvm-balancer/internal/model"
)

// Policy applies the tiered balloon adjustments: unconditional reclaim
// from domains with excess memory, host-aware grants to deficient
// domains, and a proportional emergency shrink across every domain
// when the host itself runs short.
type Policy struct {
	host hv.Host

	VMTargetPercent float64
	HostLowPercent  float64
	HostTargetKiB   int64
	HostTotalKiB    int64
}

func NewPolicy(host hv.Host, vmTargetPercent, hostLowPercent float64, hostTargetKiB, hostTotalKiB int64) *Policy {
	return &Policy{
		host:            host,
		VMTargetPercent: vmTargetPercent,
		HostLowPercent:  hostLowPercent,
		HostTargetKiB:   hostTargetKiB,
		HostTotalKiB:    hostTotalKiB,
	}
}

// Apply runs the reclaim phase followed by the grant phase. It returns
// the actions taken and whether the emergency shrink fired. A failed
// resize in the reclaim or grant tiers aborts the pass; emergency
// resizes are best-effort.
func (p *Policy) Apply(ctx context.Context, vms []*VM, high, low *bitset.Set) ([]model.MemoryAction, bool, error) {
	actions, err := p.reclaim(ctx, vms, high)
	if err != nil {
		return actions, false, err
	}

	grantActions, emergency, err := p.grant(ctx, vms, low)
	actions = append(actions, grantActions...)
	return actions, emergency, err
}

// reclaim shrinks every high-flagged domain down to its target
// available percentage, regardless of host state.
func (p *Policy) reclaim(ctx context.Context, vms []*VM, high *bitset.Set) ([]model.MemoryAction, error) {
	var actions []model.MemoryAction
	work := high.Clone()
	for {
		idx, ok := work.PopLowest()
		if !ok {
			return actions, nil
		}
		vm := vms[idx]
		adj := int64(float64(vm.BalloonKiB) * (vm.PercentAvail - p.VMTargetPercent) / 100)
		newSize := clampBalloon(vm.BalloonKiB-adj, vm.MaxKiB)
		if err := p.host.SetMemory(ctx, vm.Dom, newSize); err != nil {
			return actions, err
		}
		delta := newSize - vm.BalloonKiB
		vm.BalloonKiB = newSize
		actions = append(actions, model.MemoryAction{
			Domain:        hv.DomainLabel(vm.Dom),
			Kind:          model.MemActionReclaim,
			DeltaKiB:      delta,
			NewBalloonKiB: newSize,
		})
	}
}

// grant processes low-flagged domains lowest index first, re-reading
// host free memory before each one. A grant that would push the host
// below its low threshold is skipped; an absolute host shortfall
// triggers the emergency shrink and ends the phase.
func (p *Policy) grant(ctx context.Context, vms []*VM, low *bitset.Set) ([]model.MemoryAction, bool, error) {
	var actions []model.MemoryAction
	work := low.Clone()
	for {
		idx, ok := work.PopLowest()
		if !ok {
			return actions, false, nil
		}
		vm := vms[idx]

		hostFreeKiB, err := p.host.FreeMemory(ctx)
		if err != nil {
			return actions, false, err
		}

		adj := int64(float64(vm.BalloonKiB) * (p.VMTargetPercent - vm.PercentAvail) / 100)
		hostPctAfter := 100 * float64(hostFreeKiB-adj) / float64(p.HostTotalKiB)

		switch {
		case hostPctAfter > p.HostLowPercent:
			newSize := clampBalloon(vm.BalloonKiB+adj, vm.MaxKiB)
			if err := p.host.SetMemory(ctx, vm.Dom, newSize); err != nil {
				return actions, false, err
			}
			delta := newSize - vm.BalloonKiB
			vm.BalloonKiB = newSize
			actions = append(actions, model.MemoryAction{
				Domain:        hv.DomainLabel(vm.Dom),
				Kind:          model.MemActionGrant,
				DeltaKiB:      delta,
				NewBalloonKiB: newSize,
			})

		case hostFreeKiB < p.HostTargetKiB:
			actions = append(actions, p.emergencyShrink(ctx, vms, p.HostTargetKiB-hostFreeKiB)...)
			return actions, true, nil

		default:
			// Host is not globally short; this one grant would just
			// breach the low threshold. Skip only this domain.
		}
	}
}

// emergencyShrink reclaims the host shortfall from every domain in
// proportion to its share of host memory. Apply failures here are
// deliberately ignored so the host-protection sweep always completes.
func (p *Policy) emergencyShrink(ctx context.Context, vms []*VM, shortfallKiB int64) []model.MemoryAction {
	actions := make([]model.MemoryAction, 0, len(vms))
	for _, vm := range vms {
		shrink := int64(float64(shortfallKiB) * float64(vm.BalloonKiB) / float64(p.HostTotalKiB))
		newSize := clampBalloon(vm.BalloonKiB-shrink, vm.MaxKiB)
		_ = p.host.SetMemory(ctx, vm.Dom, newSize)
		delta := newSize - vm.BalloonKiB
		vm.BalloonKiB = newSize
		actions = append(actions, model.MemoryAction{
			Domain:        hv.DomainLabel(vm.Dom),
			Kind:          model.MemActionEmergency,
			DeltaKiB:      delta,
			NewBalloonKiB: newSize,
		})
	}
	return actions
}
