package resources

import (
	"testing"

	"github.com/distcomp/peerslave/internal/logx"
	"github.com/distcomp/peerslave/internal/registry"
	"github.com/stretchr/testify/require"
)

func newTestSampler(t *testing.T, cpuPct, memPct float64) (*Sampler, *registry.Registry) {
	reg := registry.New(registry.HostDescriptor{ID: 1, Name: "h"}, nil)
	s := New(reg, logx.New())
	s.sampleCPU = func() (float64, error) { return cpuPct, nil }
	s.sampleMem = func() (float64, error) { return memPct, nil }
	return s, reg
}

func TestSampleOnceSkipsDisabledPolicies(t *testing.T) {
	s, reg := newTestSampler(t, 50, 60)
	s.SampleOnce()

	require.Equal(t, 0.0, reg.Policy(registry.PolicySmartCPU).Param)
	require.Equal(t, 0.0, reg.Policy(registry.PolicySmartMem).Param)
}

func TestSampleOnceFoldsEnabledPolicies(t *testing.T) {
	s, reg := newTestSampler(t, 50, 60)
	reg.SetPolicy(registry.PolicySmartCPU, true, 0)
	reg.SetPolicy(registry.PolicySmartMem, true, 0)

	s.SampleOnce()
	require.Equal(t, 50.0, reg.Policy(registry.PolicySmartCPU).Param)
	require.Equal(t, 60.0, reg.Policy(registry.PolicySmartMem).Param)

	s2, reg2 := newTestSampler(t, 10, 10)
	reg2.SetPolicy(registry.PolicySmartCPU, true, 50)
	s2.SampleOnce()
	// EMA: 0.3*10 + 0.7*50 = 38
	require.InDelta(t, 38.0, reg2.Policy(registry.PolicySmartCPU).Param, 0.001)
}

type fakePersister struct {
	saved map[registry.PolicyName]registry.PolicySwitch
}

func (f *fakePersister) Save(name registry.PolicyName, sw registry.PolicySwitch) error {
	if f.saved == nil {
		f.saved = make(map[registry.PolicyName]registry.PolicySwitch)
	}
	f.saved[name] = sw
	return nil
}

func TestSampleOnceWritesThroughToPolicyStore(t *testing.T) {
	s, reg := newTestSampler(t, 50, 60)
	reg.SetPolicy(registry.PolicySmartCPU, true, 0)
	persister := &fakePersister{}
	s.SetPolicyStore(persister)

	s.SampleOnce()
	require.Equal(t, 50.0, persister.saved[registry.PolicySmartCPU].Param)
	require.NotContains(t, persister.saved, registry.PolicySmartMem)
}
