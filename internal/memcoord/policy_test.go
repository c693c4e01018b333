package memcoord

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helios-kvm-balancer/internal/bitset"
	"helios-kvm-balancer/internal/daemon"
	"helios-kvm-balancer/internal/hv"
	"helios-kvm-balancer/internal/hv/hvtest"
	"helios-kvm-balancer/internal/model"
)

func registerVMs(host *hvtest.FakeHost, vms ...*VM) {
	for _, vm := range vms {
		host.Mem[vm.Dom.Name] = hv.MemStats{BalloonKiB: vm.BalloonKiB, UnusedKiB: vm.UnusedKiB}
		host.Max[vm.Dom.Name] = vm.MaxKiB
	}
}

func TestReclaimShrinksToTarget(t *testing.T) {
	host := hvtest.NewFakeHost()
	host.TotalKiB = 20000
	vm := newVM("a", 10000, 16000, 40)
	registerVMs(host, vm)

	p := NewPolicy(host, 30, 10, 3000, 20000)
	actions, emergency, err := p.Apply(context.Background(), []*VM{vm}, bitset.New(0), bitset.New())
	require.NoError(t, err)
	assert.False(t, emergency)

	// 10% of the balloon above target comes back: 10000 * (40-30)/100.
	require.Len(t, actions, 1)
	assert.Equal(t, model.MemActionReclaim, actions[0].Kind)
	assert.Equal(t, int64(-1000), actions[0].DeltaKiB)
	assert.Equal(t, int64(9000), actions[0].NewBalloonKiB)
	assert.Equal(t, int64(9000), vm.BalloonKiB)
	require.Len(t, host.SetMemCalls, 1)
	assert.Equal(t, int64(9000), host.SetMemCalls[0].KiB)
}

func TestReclaimFailureAbortsPass(t *testing.T) {
	host := hvtest.NewFakeHost()
	vmA := newVM("a", 10000, 16000, 40)
	vmB := newVM("b", 10000, 16000, 40)
	registerVMs(host, vmA, vmB)
	host.SetMemErrs["a"] = daemon.Failf(daemon.CategoryApply, "balloon resize rejected")

	p := NewPolicy(host, 30, 10, 3000, 20000)
	actions, _, err := p.Apply(context.Background(), []*VM{vmA, vmB}, bitset.New(0, 1), bitset.New())
	require.Error(t, err)
	assert.True(t, daemon.IsCycleLocal(err))
	assert.Empty(t, actions)
	// The second domain is never touched once the pass aborts.
	assert.Empty(t, host.SetMemCalls)
	assert.Equal(t, int64(10000), vmB.BalloonKiB)
}

func TestGrantGrowsWhenHostHasRoom(t *testing.T) {
	host := hvtest.NewFakeHost()
	host.FreeKiB = 5000
	vm := newVM("a", 10000, 16000, 20)
	registerVMs(host, vm)

	p := NewPolicy(host, 30, 10, 3000, 20000)
	actions, emergency, err := p.Apply(context.Background(), []*VM{vm}, bitset.New(), bitset.New(0))
	require.NoError(t, err)
	assert.False(t, emergency)

	require.Len(t, actions, 1)
	assert.Equal(t, model.MemActionGrant, actions[0].Kind)
	assert.Equal(t, int64(1000), actions[0].DeltaKiB)
	assert.Equal(t, int64(11000), vm.BalloonKiB)
}

func TestGrantIsCappedAtMaxMemory(t *testing.T) {
	host := hvtest.NewFakeHost()
	host.FreeKiB = 5000
	vm := newVM("a", 10000, 10500, 20)
	registerVMs(host, vm)

	p := NewPolicy(host, 30, 10, 3000, 20000)
	actions, _, err := p.Apply(context.Background(), []*VM{vm}, bitset.New(), bitset.New(0))
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, int64(500), actions[0].DeltaKiB)
	assert.Equal(t, int64(10500), vm.BalloonKiB)
}

func TestGrantSkipsOneDomainWhenHostWouldDipLow(t *testing.T) {
	host := hvtest.NewFakeHost()
	// First reading leaves no post-grant headroom above the 10% floor;
	// the host recovers before the second domain is considered.
	host.FreeSeq = []int64{3000, 5000}
	vmA := newVM("a", 10000, 16000, 20)
	vmB := newVM("b", 10000, 16000, 20)
	registerVMs(host, vmA, vmB)

	p := NewPolicy(host, 30, 10, 3000, 20000)
	actions, emergency, err := p.Apply(context.Background(), []*VM{vmA, vmB}, bitset.New(), bitset.New(0, 1))
	require.NoError(t, err)
	assert.False(t, emergency)

	require.Len(t, actions, 1)
	assert.Equal(t, "b", actions[0].Domain)
	assert.Equal(t, int64(10000), vmA.BalloonKiB)
	assert.Equal(t, int64(11000), vmB.BalloonKiB)
}

func TestEmergencyShrinkOnHostShortfall(t *testing.T) {
	host := hvtest.NewFakeHost()
	host.FreeKiB = 500
	vmA := newVM("a", 5000, 8000, 20)
	vmB := newVM("b", 5000, 8000, 30)
	registerVMs(host, vmA, vmB)

	p := NewPolicy(host, 30, 10, 1500, 10000)
	actions, emergency, err := p.Apply(context.Background(), []*VM{vmA, vmB}, bitset.New(), bitset.New(0))
	require.NoError(t, err)
	assert.True(t, emergency)

	// Shortfall of 1000 KiB split by each domain's share of host
	// memory: 1000 * 5000/10000 = 500 from each.
	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.Equal(t, model.MemActionEmergency, a.Kind)
		assert.Equal(t, int64(-500), a.DeltaKiB)
		assert.Equal(t, int64(4500), a.NewBalloonKiB)
	}
	assert.Equal(t, int64(4500), vmA.BalloonKiB)
	assert.Equal(t, int64(4500), vmB.BalloonKiB)
	require.Len(t, host.SetMemCalls, 2)
}

func TestEmergencyShrinkIgnoresApplyErrors(t *testing.T) {
	host := hvtest.NewFakeHost()
	host.FreeKiB = 500
	vmA := newVM("a", 5000, 8000, 20)
	vmB := newVM("b", 5000, 8000, 30)
	registerVMs(host, vmA, vmB)
	host.SetMemErrs["a"] = daemon.Failf(daemon.CategoryApply, "balloon resize rejected")

	p := NewPolicy(host, 30, 10, 1500, 10000)
	actions, emergency, err := p.Apply(context.Background(), []*VM{vmA, vmB}, bitset.New(), bitset.New(0))
	require.NoError(t, err)
	assert.True(t, emergency)
	// The sweep records both domains even though one resize failed.
	assert.Len(t, actions, 2)
	require.Len(t, host.SetMemCalls, 1)
	assert.Equal(t, "b", host.SetMemCalls[0].Domain)
}

func TestClampBalloonBounds(t *testing.T) {
	assert.Equal(t, int64(0), clampBalloon(-5, 100))
	assert.Equal(t, int64(100), clampBalloon(150, 100))
	assert.Equal(t, int64(50), clampBalloon(50, 100))
}
