// Package bandwidth rations network throughput per interface among running
// dumps. Caps and allocations are in KB/s.
package bandwidth

import (
	"sort"

	"github.com/cuemby/tapeline/pkg/config"
)

// Interface is one network interface budget
type Interface struct {
	Name      string
	Cap       int64
	Allocated int64
}

// Free returns the unallocated throughput
func (i *Interface) Free() int64 {
	return i.Cap - i.Allocated
}

// Pool tracks allocations against every configured interface. Like the
// holding pool it is owned by the scheduler goroutine.
type Pool struct {
	ifaces map[string]*Interface
}

// NewPool creates a pool from the configured interfaces
func NewPool(ifaces []config.Interface) *Pool {
	p := &Pool{ifaces: make(map[string]*Interface, len(ifaces))}
	for _, i := range ifaces {
		p.ifaces[i.Name] = &Interface{Name: i.Name, Cap: i.KPS}
	}
	return p
}

// Free returns the unallocated kps of iface, zero if unknown
func (p *Pool) Free(iface string) int64 {
	if i, ok := p.ifaces[iface]; ok {
		return i.Free()
	}
	return 0
}

// Allocate reserves kps on iface and returns what was granted. A request
// larger than the cap is granted the whole cap when the interface is idle,
// otherwise the request fails until enough is deallocated.
func (p *Pool) Allocate(iface string, kps int64) (int64, bool) {
	i, ok := p.ifaces[iface]
	if !ok {
		return 0, false
	}
	if kps <= 0 {
		return 0, true
	}
	if i.Allocated+kps <= i.Cap {
		i.Allocated += kps
		return kps, true
	}
	if i.Allocated == 0 && i.Cap > 0 {
		i.Allocated = i.Cap
		return i.Cap, true
	}
	return 0, false
}

// Deallocate returns kps to iface
func (p *Pool) Deallocate(iface string, kps int64) {
	i, ok := p.ifaces[iface]
	if !ok || kps <= 0 {
		return
	}
	i.Allocated -= kps
	if i.Allocated < 0 {
		i.Allocated = 0
	}
}

// Interfaces returns all interfaces sorted by name
func (p *Pool) Interfaces() []*Interface {
	out := make([]*Interface, 0, len(p.ifaces))
	for _, i := range p.ifaces {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
