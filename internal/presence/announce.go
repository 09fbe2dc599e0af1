// Package presence implements the broadcast/multicast announce-discover-
// expire protocol that keeps every peer's table of its neighbors fresh.
package presence

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/distcomp/peerslave/internal/logx"
	"github.com/distcomp/peerslave/internal/registry"
	"github.com/distcomp/peerslave/internal/wire"
)

// DefaultAnnounceInterval is T_announce from spec.md.
const DefaultAnnounceInterval = time.Second

// Announcer periodically broadcasts the host descriptor and can also
// fire a single announce on demand (registry.AnnounceFunc).
type Announcer struct {
	reg          *registry.Registry
	conn         net.PacketConn
	destinations []net.Addr
	interval     time.Duration
	log          *logx.Logger
}

// NewAnnouncer creates an Announcer sending datagrams on conn to every
// address in destinations.
func NewAnnouncer(reg *registry.Registry, conn net.PacketConn, destinations []net.Addr, interval time.Duration, log *logx.Logger) *Announcer {
	if interval <= 0 {
		interval = DefaultAnnounceInterval
	}
	return &Announcer{reg: reg, conn: conn, destinations: destinations, interval: interval, log: log}
}

// AnnounceOnce serializes the current host descriptor and sends one
// datagram to every configured destination. Matches registry.AnnounceFunc.
func (a *Announcer) AnnounceOnce() {
	host := registry.ToWireHost(a.reg.Host())

	buf, err := encodeHost(host)
	if err != nil {
		a.log.Err("presence: encode host: %v", err)
		return
	}

	for _, dest := range a.destinations {
		if _, err := a.conn.WriteTo(buf, dest); err != nil {
			a.log.Warning("presence: announce to %s: %v", dest, err)
		}
	}
}

// Run ticks every interval, calling AnnounceOnce, until ctx is canceled.
func (a *Announcer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	a.AnnounceOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.AnnounceOnce()
		}
	}
}

func encodeHost(h wire.HostDescriptor) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := wire.WriteStruct(buf, &h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeHost(src []byte) (wire.HostDescriptor, error) {
	var h wire.HostDescriptor
	if err := wire.ReadStruct(bytes.NewReader(src), &h); err != nil {
		return wire.HostDescriptor{}, err
	}
	return h, nil
}
