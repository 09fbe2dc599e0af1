package presence

import (
	"context"
	"net"
	"time"

	"github.com/distcomp/peerslave/internal/logx"
	"github.com/distcomp/peerslave/internal/registry"
)

// Discoverer blocks reading announce datagrams from other peers and
// upserts them into the registry's peer table.
type Discoverer struct {
	reg   *registry.Registry
	conn  net.PacketConn
	log   *logx.Logger
	gauge PeerGauge
}

// NewDiscoverer creates a Discoverer listening on conn.
func NewDiscoverer(reg *registry.Registry, conn net.PacketConn, log *logx.Logger) *Discoverer {
	return &Discoverer{reg: reg, conn: conn, log: log}
}

// SetPeerGauge wires a metrics gauge that is refreshed after every upsert.
func (d *Discoverer) SetPeerGauge(g PeerGauge) { d.gauge = g }

// Run reads datagrams until ctx is canceled. Each read has a one-second
// deadline, so cancellation is noticed within about a second without
// conn being closed.
func (d *Discoverer) Run(ctx context.Context) {
	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			d.log.Warning("presence: discover read: %v", err)
			continue
		}
		d.handle(buf[:n], addr)
	}
}

func (d *Discoverer) handle(payload []byte, addr net.Addr) {
	wireHost, err := decodeHost(payload)
	if err != nil {
		// malformed/short packets are dropped silently, per spec
		return
	}

	self := d.reg.Host()
	host := registry.FromWireHost(wireHost)
	if host.ID == self.ID && host.Name == self.Name {
		return
	}

	ipaddr := addr.String()
	if h, _, err := net.SplitHostPort(ipaddr); err == nil {
		ipaddr = h
	}
	d.reg.UpsertPeer(host, ipaddr, time.Now())
	if d.gauge != nil {
		d.gauge.SetPeersKnown(d.reg.PeerCount())
	}
}
