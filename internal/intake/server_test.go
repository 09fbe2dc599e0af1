package intake

import (
	"net"
	"testing"
	"time"

	"github.com/distcomp/peerslave/internal/logx"
	"github.com/distcomp/peerslave/internal/registry"
	"github.com/distcomp/peerslave/internal/wire"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *registry.Registry, net.Addr) {
	self := registry.HostDescriptor{
		ID: 1, Name: "slave-host", Status: registry.StatusIdle,
		MemAvail: registry.Unbounded, CPUAvail: registry.Unbounded, TimAvail: registry.Unbounded,
	}
	reg := registry.New(self, nil)
	log := logx.New()
	log.Verbose = 7

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &Server{reg: reg, log: log, limits: DefaultLimits, network: "tcp", address: ln.Addr().String()}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.handle(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })

	return s, reg, ln.Addr()
}

func submit(t *testing.T, addr net.Addr, submitter registry.HostDescriptor, def wire.JobDef, arg, opt []byte) []bool {
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	var acks []bool

	ok, err := wire.ReadHandshake(conn)
	require.NoError(t, err)
	acks = append(acks, ok)

	wireSubmitter := registry.ToWireHost(submitter)
	require.NoError(t, wire.WriteStruct(conn, &wireSubmitter))
	ok, err = wire.ReadHandshake(conn)
	if err != nil {
		return acks
	}
	acks = append(acks, ok)
	if !ok {
		return acks
	}

	require.NoError(t, wire.WriteStruct(conn, &def))
	ok, err = wire.ReadHandshake(conn)
	if err != nil {
		return acks
	}
	acks = append(acks, ok)
	if !ok {
		return acks
	}

	conn.Write(arg)
	ok, err = wire.ReadHandshake(conn)
	if err != nil {
		return acks
	}
	acks = append(acks, ok)

	conn.Write(opt)
	ok, err = wire.ReadHandshake(conn)
	if err != nil {
		return acks
	}
	acks = append(acks, ok)

	return acks
}

func TestHappyPathEnqueuesJob(t *testing.T) {
	_, reg, addr := newTestServer(t)

	submitter := registry.HostDescriptor{ID: 42, Name: "p1", User: "alice", Group: "lab"}
	def := wire.JobDef{Version: wire.ProtocolVersion, ID: 7, ArgSize: 8, OptSize: 4}
	arg := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	opt := []byte{9, 9, 9, 9}

	acks := submit(t, addr, submitter, def, arg, opt)
	for i, ok := range acks {
		require.True(t, ok, "ack %d should be positive", i)
	}
	require.Len(t, acks, 5)

	time.Sleep(50 * time.Millisecond) // allow goroutine to enqueue
	require.Equal(t, 1, reg.JobCount())

	job, ok := reg.PeekJob()
	require.True(t, ok)
	require.Equal(t, uint32(7), job.Def.ID)
	require.Equal(t, arg, job.Arg)
	require.Equal(t, opt, job.Opt)
}

func TestAccessDenialStopsAfterHostDescriptor(t *testing.T) {
	s, reg, addr := newTestServer(t)
	reg.SetAccessLists([]string{"bob"}, nil, nil)
	_ = s

	submitter := registry.HostDescriptor{ID: 42, Name: "p1", User: "alice", Group: "lab"}
	def := wire.JobDef{Version: wire.ProtocolVersion, ID: 7, ArgSize: 8, OptSize: 4}

	acks := submit(t, addr, submitter, def, make([]byte, 8), make([]byte, 4))
	require.Len(t, acks, 2, "should stop after the host-descriptor handshake")
	require.True(t, acks[0])
	require.False(t, acks[1])

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, reg.JobCount())
}

func TestVersionMismatchRejected(t *testing.T) {
	_, reg, addr := newTestServer(t)

	submitter := registry.HostDescriptor{ID: 42, Name: "p1", User: "alice", Group: "lab"}
	def := wire.JobDef{Version: wire.ProtocolVersion + 1, ID: 7, ArgSize: 1, OptSize: 1}

	acks := submit(t, addr, submitter, def, make([]byte, 1), make([]byte, 1))
	require.GreaterOrEqual(t, len(acks), 3)
	require.False(t, acks[2])

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, reg.JobCount())
}

func TestBusyHostRejectsSubmission(t *testing.T) {
	_, reg, addr := newTestServer(t)
	reg.UpdateHost(func(h *registry.HostDescriptor) { h.Status = registry.StatusBusy })

	submitter := registry.HostDescriptor{ID: 42, Name: "p1", User: "alice", Group: "lab"}
	def := wire.JobDef{Version: wire.ProtocolVersion, ID: 7, ArgSize: 1, OptSize: 1}

	acks := submit(t, addr, submitter, def, make([]byte, 1), make([]byte, 1))
	require.Len(t, acks, 2)
	require.False(t, acks[1])

	require.Equal(t, 0, reg.JobCount())
}

func TestOversizedJobRejected(t *testing.T) {
	_, reg, addr := newTestServer(t)

	submitter := registry.HostDescriptor{ID: 42, Name: "p1", User: "alice", Group: "lab"}
	def := wire.JobDef{Version: wire.ProtocolVersion, ID: 7, ArgSize: DefaultLimits.MaxArgSize + 1, OptSize: 1}

	acks := submit(t, addr, submitter, def, nil, nil)
	require.Len(t, acks, 3)
	require.False(t, acks[2])

	require.Equal(t, 0, reg.JobCount())
}
