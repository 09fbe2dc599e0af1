package resultsend

import (
	"net"
	"testing"

	"github.com/distcomp/peerslave/internal/registry"
	"github.com/distcomp/peerslave/internal/wire"
	"github.com/stretchr/testify/require"
)

// fakeSubmitter plays the server side of the result protocol the way a
// master node would, recording what it received.
type fakeSubmitter struct {
	ln       net.Listener
	received chan Result
	refuse   bool
}

func newFakeSubmitter(t *testing.T, refuse bool) *fakeSubmitter {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeSubmitter{ln: ln, received: make(chan Result, 1), refuse: refuse}
	go f.serve(t)
	return f
}

func (f *fakeSubmitter) serve(t *testing.T) {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	if err := wire.WriteHandshake(conn, !f.refuse); err != nil || f.refuse {
		return
	}

	var host wire.HostDescriptor
	if err := wire.ReadStruct(conn, &host); err != nil {
		return
	}
	wire.WriteHandshake(conn, true)

	var def wire.JobDef
	if err := wire.ReadStruct(conn, &def); err != nil {
		return
	}
	wire.WriteHandshake(conn, true)

	argout, err := wire.ReadFull(conn, def.ArgSize)
	if err != nil {
		return
	}
	wire.WriteHandshake(conn, true)

	options, err := wire.ReadFull(conn, def.OptSize)
	if err != nil {
		return
	}
	wire.WriteHandshake(conn, true)

	f.received <- Result{JobID: def.ID, Argout: argout, Options: options}
}

func TestSendRoundTrip(t *testing.T) {
	f := newFakeSubmitter(t, false)
	defer f.ln.Close()

	self := registry.HostDescriptor{ID: 1, Name: "slave", User: "svc", Group: "lab"}
	result := Result{JobID: 7, Argout: []byte{1, 2, 3}, Options: []byte("lasterr")}

	err := Send("tcp", f.ln.Addr().String(), self, result)
	require.NoError(t, err)

	got := <-f.received
	require.Equal(t, uint32(7), got.JobID)
	require.Equal(t, result.Argout, got.Argout)
	require.Equal(t, result.Options, got.Options)
}

func TestSendAbortsOnRefusedHandshake(t *testing.T) {
	f := newFakeSubmitter(t, true)
	defer f.ln.Close()

	self := registry.HostDescriptor{ID: 1, Name: "slave"}
	result := Result{JobID: 1, Argout: []byte{1}, Options: []byte{2}}

	err := Send("tcp", f.ln.Addr().String(), self, result)
	require.Error(t, err)
}

func TestDestinationPrefersUDSOnSameHost(t *testing.T) {
	self := registry.HostDescriptor{Name: "host-a"}
	peer := registry.PeerEntry{
		Host:   registry.HostDescriptor{Name: "host-a", Socket: "/tmp/peer.sock", Port: 4000},
		IPAddr: "10.0.0.9",
	}

	network, addr, ok := Destination(self, peer)
	require.True(t, ok)
	require.Equal(t, "unix", network)
	require.Equal(t, "/tmp/peer.sock", addr)
}

func TestDestinationFallsBackToTCP(t *testing.T) {
	self := registry.HostDescriptor{Name: "host-a"}
	peer := registry.PeerEntry{
		Host:   registry.HostDescriptor{Name: "host-b", Port: 4000},
		IPAddr: "10.0.0.9",
	}

	network, addr, ok := Destination(self, peer)
	require.True(t, ok)
	require.Equal(t, "tcp", network)
	require.Equal(t, "10.0.0.9:4000", addr)
}

func TestDestinationNoneAvailable(t *testing.T) {
	self := registry.HostDescriptor{Name: "host-a"}
	peer := registry.PeerEntry{Host: registry.HostDescriptor{Name: "host-b"}}

	_, _, ok := Destination(self, peer)
	require.False(t, ok)
}
