package slave

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/distcomp/peerslave/internal/audit"
	"github.com/distcomp/peerslave/internal/engine"
	"github.com/distcomp/peerslave/internal/logx"
	"github.com/distcomp/peerslave/internal/options"
	"github.com/distcomp/peerslave/internal/registry"
	"github.com/distcomp/peerslave/internal/wire"
	"github.com/stretchr/testify/require"
)

// fakeMaster accepts one result-send connection and plays the server
// half of the protocol, capturing whatever JobDef/argout/options it
// received.
type fakeMaster struct {
	ln       net.Listener
	received chan resultPayload
}

type resultPayload struct {
	def     wire.JobDef
	argout  []byte
	options []byte
}

func newFakeMaster(t *testing.T) *fakeMaster {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeMaster{ln: ln, received: make(chan resultPayload, 4)}
	go f.serve()
	return f
}

func (f *fakeMaster) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeMaster) handle(conn net.Conn) {
	defer conn.Close()
	if err := wire.WriteHandshake(conn, true); err != nil {
		return
	}
	var host wire.HostDescriptor
	if wire.ReadStruct(conn, &host) != nil {
		return
	}
	wire.WriteHandshake(conn, true)

	var def wire.JobDef
	if wire.ReadStruct(conn, &def) != nil {
		return
	}
	wire.WriteHandshake(conn, true)

	argout, err := wire.ReadFull(conn, def.ArgSize)
	if err != nil {
		return
	}
	wire.WriteHandshake(conn, true)

	opt, err := wire.ReadFull(conn, def.OptSize)
	if err != nil {
		return
	}
	wire.WriteHandshake(conn, true)

	f.received <- resultPayload{def: def, argout: argout, options: opt}
}

func newTestLoop(t *testing.T, eng engine.Engine, master *fakeMaster) (*Loop, *registry.Registry) {
	self := registry.HostDescriptor{
		ID: 1, Name: "slave-host",
		Status: registry.StatusIdle, TimAvail: 100,
	}
	reg := registry.New(self, nil)

	_, portStr, err := net.SplitHostPort(master.ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	log := logx.New()
	log.Verbose = 7
	l := New(reg, eng, log, "mock", "mock")
	l.pollInterval = time.Millisecond

	reg.UpsertPeer(registry.HostDescriptor{ID: 42, Name: "submitter", Port: uint16(port)}, "127.0.0.1", time.Now())
	return l, reg
}

func enqueueJob(reg *registry.Registry, id uint32, arg, opt []byte) {
	reg.EnqueueJob(registry.JobEntry{
		Submitter: registry.HostDescriptor{ID: 42, Name: "submitter"},
		Def:       registry.JobDef{Version: wire.ProtocolVersion, ID: id, TimReq: 5, ArgSize: uint32(len(arg)), OptSize: uint32(len(opt))},
		Arg:       arg,
		Opt:       opt,
	})
}

func TestHappyPathRoundTrip(t *testing.T) {
	master := newFakeMaster(t)
	defer master.ln.Close()

	mock := engine.NewMockEngine()
	l, reg := newTestLoop(t, mock, master)
	enqueueJob(reg, 7, []byte{1, 2, 3}, []byte("k=v"))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go l.Run(ctx)

	select {
	case got := <-master.received:
		require.Equal(t, uint32(7), got.def.ID)
		require.Equal(t, []byte{1, 2, 3}, got.argout)
		// The loop returns to IDLE once Send has returned, which can be
		// just after the master has already seen the result.
		require.Eventually(t, func() bool { return reg.Host().Status == registry.StatusIdle }, time.Second, 5*time.Millisecond)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestTimallowAndMasterIDInjected(t *testing.T) {
	master := newFakeMaster(t)
	defer master.ln.Close()

	mock := engine.NewMockEngine()
	var seenOptions []byte
	mock.EvalFunc = func(ws map[string][]byte) error {
		seenOptions = append([]byte{}, ws[engine.VarOptions]...)
		ws[engine.VarArgout] = ws[engine.VarArgin]
		return nil
	}
	l, reg := newTestLoop(t, mock, master)
	enqueueJob(reg, 9, []byte{1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go l.Run(ctx)

	select {
	case <-master.received:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	timallow, ok := options.Get(seenOptions, "timallow")
	require.True(t, ok)
	require.Equal(t, "15", timallow) // min(3*5, 100)

	masterID, ok := options.Get(seenOptions, "masterid")
	require.True(t, ok)
	require.Equal(t, "42", masterID)
}

func TestEngineStartFailureEntersZombieAndReturnsLasterr(t *testing.T) {
	master := newFakeMaster(t)
	defer master.ln.Close()

	mock := engine.NewMockEngine()
	mock.OpenErr = engine.ErrNotOpen
	l, reg := newTestLoop(t, mock, master)
	enqueueJob(reg, 3, []byte{9}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go l.Run(ctx)

	select {
	case got := <-master.received:
		msg, ok := options.Get(got.options, "lasterr")
		require.True(t, ok)
		require.Contains(t, msg, "could not start the mock engine")
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for result")
	}
	require.Equal(t, registry.StatusZombie, reg.Host().Status)
}

func TestEvalFailureAbortsLoop(t *testing.T) {
	master := newFakeMaster(t)
	defer master.ln.Close()

	mock := engine.NewMockEngine()
	mock.EvalErr = engine.ErrNotOpen
	l, reg := newTestLoop(t, mock, master)
	enqueueJob(reg, 4, []byte{1}, nil)

	err := l.Run(context.Background())
	require.ErrorIs(t, err, ErrEngineAborted)

	select {
	case got := <-master.received:
		msg, ok := options.Get(got.options, "lasterr")
		require.True(t, ok)
		require.Contains(t, msg, "evaluation failed")
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for synthesized result")
	}
}

func TestAuditStoreRecordsTerminalOutcome(t *testing.T) {
	master := newFakeMaster(t)
	defer master.ln.Close()

	mock := engine.NewMockEngine()
	l, reg := newTestLoop(t, mock, master)
	store := audit.NewMemStore(10)
	l.SetAuditStore(store)
	enqueueJob(reg, 11, []byte{1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	go l.Run(ctx)

	select {
	case <-master.received:
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for result")
	}

	require.Eventually(t, func() bool {
		recent, err := store.Recent(1)
		return err == nil && len(recent) == 1
	}, time.Second, 5*time.Millisecond)

	recent, err := store.Recent(1)
	require.NoError(t, err)
	require.Equal(t, uint32(11), recent[0].JobID)
	require.True(t, recent[0].Succeeded)
	require.Equal(t, 0, recent[0].FailedStep)
}

func TestMissingSubmitterAbandonsResultSilently(t *testing.T) {
	self := registry.HostDescriptor{ID: 1, Name: "slave-host", Status: registry.StatusIdle, TimAvail: 100}
	reg := registry.New(self, nil)
	log := logx.New()
	mock := engine.NewMockEngine()
	l := New(reg, mock, log, "mock", "mock")
	l.pollInterval = time.Millisecond

	enqueueJob(reg, 5, []byte{1}, nil) // no peer registered for id=42

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := l.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, registry.StatusIdle, reg.Host().Status)
	require.Equal(t, 0, reg.JobCount())
}
