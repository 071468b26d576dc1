package scheduler

import (
	"testing"

	"github.com/cuemby/tapeline/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestDegradedPolicies(t *testing.T) {
	tests := []struct {
		name      string
		check     DegradeCheck
		exhausted bool
		immediate bool
	}{
		{"nothing waits for holding", DegradeCheck{}, false, false},
		{"a job fits", DegradeCheck{HoldingBound: 2, Fits: true}, false, false},
		{"space may come back", DegradeCheck{HoldingBound: 1, CanFree: true}, false, true},
		{"exhausted", DegradeCheck{HoldingBound: 1}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.exhausted, ExhaustedPolicy{}.ShouldDegrade(tt.check))
			assert.Equal(t, tt.immediate, ImmediatePolicy{}.ShouldDegrade(tt.check))
			assert.False(t, NeverPolicy{}.ShouldDegrade(tt.check))
		})
	}
}

func TestPolicyFor(t *testing.T) {
	for _, name := range []string{config.DegradedExhausted, config.DegradedImmediate, config.DegradedNever} {
		assert.Equal(t, name, PolicyFor(name).Name())
	}
	assert.Equal(t, config.DegradedExhausted, PolicyFor("").Name())
}
