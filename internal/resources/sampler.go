// Package resources periodically samples host CPU/memory utilization
// and feeds an exponential moving average into the registry's
// smartmem/smartcpu policy parameters, the way the teacher's
// distributed/slave.ResourceMonitor samples gopsutil on an interval —
// adapted here to drive the two adaptive policy switches instead of a
// health-check endpoint.
package resources

import (
	"context"
	"time"

	"github.com/distcomp/peerslave/internal/logx"
	"github.com/distcomp/peerslave/internal/registry"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultInterval is how often the sampler takes a reading.
const DefaultInterval = 5 * time.Second

// DefaultAlpha is the EMA smoothing factor: higher weights the newest
// sample more heavily.
const DefaultAlpha = 0.3

// PolicyPersister is the narrow slice of internal/policystate.Store the
// sampler writes through to on every fold, kept as a local interface so
// this package doesn't need to import policystate just to persist two
// numbers.
type PolicyPersister interface {
	Save(name registry.PolicyName, sw registry.PolicySwitch) error
}

// Sampler drives the smartmem/smartcpu PolicySwitch.Param fields.
type Sampler struct {
	reg      *registry.Registry
	log      *logx.Logger
	interval time.Duration
	alpha    float64
	store    PolicyPersister

	sampleCPU func() (float64, error)
	sampleMem func() (float64, error)
}

// New creates a Sampler using the real gopsutil CPU/memory readers.
func New(reg *registry.Registry, log *logx.Logger) *Sampler {
	return &Sampler{
		reg:       reg,
		log:       log,
		interval:  DefaultInterval,
		alpha:     DefaultAlpha,
		sampleCPU: sampleCPUPercent,
		sampleMem: sampleMemPercent,
	}
}

// SetInterval overrides the sampling interval.
func (s *Sampler) SetInterval(d time.Duration) { s.interval = d }

// SetPolicyStore wires a persistence backend; every fold is written
// through to it immediately after, per SPEC_FULL.md §4.11 ("read once
// at startup, written on every sample").
func (s *Sampler) SetPolicyStore(store PolicyPersister) { s.store = store }

func sampleCPUPercent() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

func sampleMemPercent() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

// Run samples on a ticker until ctx is canceled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleOnce()
		}
	}
}

// SampleOnce takes one reading and folds it into whichever of
// smartmem/smartcpu is enabled. Run calls it on every tick; it is
// exported so a reading can be taken without waiting on the ticker.
func (s *Sampler) SampleOnce() {
	if s.reg.Policy(registry.PolicySmartCPU).Enabled {
		if pct, err := s.sampleCPU(); err != nil {
			s.log.Warning("resources: cpu sample failed: %v", err)
		} else {
			s.fold(registry.PolicySmartCPU, pct)
		}
	}
	if s.reg.Policy(registry.PolicySmartMem).Enabled {
		if pct, err := s.sampleMem(); err != nil {
			s.log.Warning("resources: mem sample failed: %v", err)
		} else {
			s.fold(registry.PolicySmartMem, pct)
		}
	}
}

func (s *Sampler) fold(name registry.PolicyName, sample float64) {
	s.reg.UpdatePolicyParam(name, func(prev float64) float64 {
		if prev == 0 {
			return sample
		}
		return s.alpha*sample + (1-s.alpha)*prev
	})
	if s.store == nil {
		return
	}
	if err := s.store.Save(name, s.reg.Policy(name)); err != nil {
		s.log.Warning("resources: policy-state save failed: %v", err)
	}
}
