package scheduler

import "github.com/cuemby/tapeline/pkg/config"

// DegradeCheck is what a DegradedPolicy gets to decide on
type DegradeCheck struct {
	// HoldingBound counts waiting jobs that need holding space: not routed
	// direct and small enough for at least one disk.
	HoldingBound int
	// Fits is true when some holding-bound job fits the current free space.
	Fits bool
	// CanFree is true when a running holding dump, a tapeq image or a taper
	// write may still release space.
	CanFree bool
}

// DegradedPolicy decides when the run stops using holding disks
type DegradedPolicy interface {
	Name() string
	ShouldDegrade(c DegradeCheck) bool
}

// ExhaustedPolicy degrades once nothing waiting fits and nothing in flight
// can free space.
type ExhaustedPolicy struct{}

func (ExhaustedPolicy) Name() string { return config.DegradedExhausted }

func (ExhaustedPolicy) ShouldDegrade(c DegradeCheck) bool {
	return c.HoldingBound > 0 && !c.Fits && !c.CanFree
}

// ImmediatePolicy degrades as soon as nothing waiting fits
type ImmediatePolicy struct{}

func (ImmediatePolicy) Name() string { return config.DegradedImmediate }

func (ImmediatePolicy) ShouldDegrade(c DegradeCheck) bool {
	return c.HoldingBound > 0 && !c.Fits
}

// NeverPolicy keeps the run on holding disks; jobs wait for space instead
type NeverPolicy struct{}

func (NeverPolicy) Name() string { return config.DegradedNever }

func (NeverPolicy) ShouldDegrade(DegradeCheck) bool { return false }

// PolicyFor maps the degraded_policy setting to a policy
func PolicyFor(name string) DegradedPolicy {
	switch name {
	case config.DegradedImmediate:
		return ImmediatePolicy{}
	case config.DegradedNever:
		return NeverPolicy{}
	default:
		return ExhaustedPolicy{}
	}
}
