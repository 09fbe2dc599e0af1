package presence

import (
	"context"
	"time"

	"github.com/distcomp/peerslave/internal/logx"
	"github.com/distcomp/peerslave/internal/registry"
)

// DefaultSweepInterval is T_sweep from spec.md.
const DefaultSweepInterval = time.Second

// DefaultExpiry is T_expire from spec.md.
const DefaultExpiry = 60 * time.Second

// PeerGauge is the narrow slice of internal/metrics.Metrics that
// presence tasks publish to, kept as a local interface so this package
// doesn't need to import metrics just to update one gauge.
type PeerGauge interface {
	SetPeersKnown(n int)
}

// Expirer periodically drops stale peer entries.
type Expirer struct {
	reg      *registry.Registry
	interval time.Duration
	expiry   time.Duration
	log      *logx.Logger
	gauge    PeerGauge
}

// SetPeerGauge wires a metrics gauge that is refreshed after every sweep.
func (e *Expirer) SetPeerGauge(g PeerGauge) { e.gauge = g }

// NewExpirer creates an Expirer sweeping every interval, evicting peers
// unseen for longer than expiry.
func NewExpirer(reg *registry.Registry, interval, expiry time.Duration, log *logx.Logger) *Expirer {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Expirer{reg: reg, interval: interval, expiry: expiry, log: log}
}

// Run sweeps until ctx is canceled.
func (e *Expirer) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.reg.SweepPeers(time.Now(), e.expiry); n > 0 {
				e.log.Notice("presence: evicted %d stale peer(s)", n)
			}
			if e.gauge != nil {
				e.gauge.SetPeersKnown(e.reg.PeerCount())
			}
		}
	}
}
