package cpusched

// Each PCPU owns a circular doubly-linked ring of the VCPUs pinned to
// it. A VCPU is a member of exactly one ring at all times; a sole
// member points to itself in both directions.

// attach appends v to p's ring and updates the pinning back-reference.
// v must not currently be on any ring.
func (p *PCPU) attach(v *VCPU) {
	v.pinned = p
	p.NumPinned++

	if p.head == nil {
		p.head = v
		v.next = v
		v.prev = v
		return
	}
	v.prev = p.head.prev
	v.prev.next = v
	v.next = p.head
	p.head.prev = v
}

// detach removes v from p's ring. No-op unless v is pinned to p.
func (p *PCPU) detach(v *VCPU) {
	if v.pinned == nil || v.pinned != p {
		return
	}
	p.NumPinned--

	if v.prev == v {
		p.head = nil
	} else {
		v.prev.next = v.next
		v.next.prev = v.prev
		if p.head == v {
			p.head = v.next
		}
	}
	v.next = nil
	v.prev = nil
	v.pinned = nil
}

// Members walks the ring once around, returning the pinned VCPUs in
// ring order starting at head.
func (p *PCPU) Members() []*VCPU {
	if p.head == nil {
		return nil
	}
	out := make([]*VCPU, 0, p.NumPinned)
	v := p.head
	for {
		out = append(out, v)
		v = v.next
		if v == p.head {
			break
		}
	}
	return out
}
