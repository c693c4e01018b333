// Package cpusched implements the VCPU scheduling loop: sample PCPU
// and VCPU utilization, classify PCPUs into high/low candidate sets,
// and migrate the best-fit VCPU from over- to under-utilized cores.
package cpusched

import (
	golibvirt "github.com/digitalocean/go-libvirt"
)

// PCPU is one physical host core. Utilization and membership mutate
// every cycle; the record itself lives for the process lifetime.
type PCPU struct {
	Index     int
	Cpumap    []byte // exclusive affinity map for pinning to this core
	Util      float64
	NumPinned int

	lastIdle uint64
	head     *VCPU
}

// VCPU is one domain's virtual CPU (one per domain). pinned is the
// back-reference to the PCPU whose membership ring holds this node.
type VCPU struct {
	Dom  golibvirt.Domain
	Util float64

	lastTime uint64
	pinned   *PCPU
	next     *VCPU
	prev     *VCPU
}

// PinnedTo returns the PCPU this VCPU is currently pinned to, or nil
// before initial placement.
func (v *VCPU) PinnedTo() *PCPU {
	return v.pinned
}
