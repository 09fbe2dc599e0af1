// Package intake implements the handshake-driven job submission protocol
// described in spec.md §4.3, served identically over TCP and Unix-domain
// sockets. The intake server never invokes the compute engine: its sole
// job is to turn a validated wire exchange into a registry.JobEntry.
package intake

import (
	"context"
	"fmt"
	"net"

	"github.com/distcomp/peerslave/internal/logx"
	"github.com/distcomp/peerslave/internal/registry"
	"github.com/distcomp/peerslave/internal/wire"
)

// Limits bounds what an intake server will accept before even reading
// the payload, per spec.md §4.3 step 3.
type Limits struct {
	MaxArgSize uint32
	MaxOptSize uint32
}

// DefaultLimits mirror a generous but finite ceiling; the zero Limits
// means "no limit beyond memavail".
var DefaultLimits = Limits{MaxArgSize: 512 << 20, MaxOptSize: 64 << 20}

// Server accepts connections on one network/address pair and runs the
// intake state machine on each.
type Server struct {
	reg     *registry.Registry
	log     *logx.Logger
	limits  Limits
	network string
	address string
}

// NewServer creates an intake server. network is "tcp" or "unix".
func NewServer(reg *registry.Registry, log *logx.Logger, network, address string, limits Limits) *Server {
	return &Server{reg: reg, log: log, limits: limits, network: network, address: address}
}

// Serve listens and handles connections until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen(s.network, s.address)
	if err != nil {
		return fmt.Errorf("intake: listen %s %s: %w", s.network, s.address, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener runs the accept loop on an already-bound listener,
// for callers (cmd/peerslave) that need to read back an auto-assigned
// TCP port before announcing it.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Notice("intake: serving %s on %s", s.network, ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("intake: accept: %w", err)
			}
		}
		go s.handle(conn)
	}
}

// handle runs the five-step intake sequence on one connection. Any short
// read, failed handshake, or policy denial aborts and discards whatever
// partial state was read — nothing short of a fully read, fully
// acknowledged sequence reaches EnqueueJob.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	// Step 1: offer to receive.
	if err := wire.WriteHandshake(conn, true); err != nil {
		s.log.Err("intake: write initial handshake: %v", err)
		return
	}

	// Step 2: read submitter HostDescriptor, apply access policy.
	var wireHost wire.HostDescriptor
	if err := wire.ReadStruct(conn, &wireHost); err != nil {
		s.log.Err("intake: read host descriptor: %v", err)
		return
	}
	if wireHost.Version != wire.ProtocolVersion {
		s.log.Notice("intake: version mismatch from submitter, rejecting")
		wire.WriteHandshake(conn, false)
		return
	}
	submitter := registry.FromWireHost(wireHost)

	accepted := s.reg.Allowed(submitter.User, submitter.Name, submitter.Group) &&
		s.reg.Host().Status == registry.StatusIdle
	if !accepted {
		s.log.Notice("intake: denied submission from %s@%s", submitter.User, submitter.Name)
		wire.WriteHandshake(conn, false)
		return
	}
	if err := wire.WriteHandshake(conn, true); err != nil {
		s.log.Err("intake: write host handshake: %v", err)
		return
	}

	// Step 3: read JobDef, validate size against limits and memavail.
	var wireDef wire.JobDef
	if err := wire.ReadStruct(conn, &wireDef); err != nil {
		s.log.Err("intake: read job def: %v", err)
		return
	}
	if wireDef.Version != wire.ProtocolVersion {
		s.log.Notice("intake: job def version mismatch, rejecting")
		wire.WriteHandshake(conn, false)
		return
	}
	if !s.validSize(wireDef) {
		s.log.Notice("intake: job def exceeds limits, rejecting")
		wire.WriteHandshake(conn, false)
		return
	}
	if err := wire.WriteHandshake(conn, true); err != nil {
		s.log.Err("intake: write jobdef handshake: %v", err)
		return
	}

	// Step 4: read arg.
	arg, err := wire.ReadFull(conn, wireDef.ArgSize)
	if err != nil {
		s.log.Err("intake: read arg: %v", err)
		return
	}
	if err := wire.WriteHandshake(conn, true); err != nil {
		s.log.Err("intake: write arg handshake: %v", err)
		return
	}

	// Step 5: read opt.
	opt, err := wire.ReadFull(conn, wireDef.OptSize)
	if err != nil {
		s.log.Err("intake: read opt: %v", err)
		return
	}
	if err := wire.WriteHandshake(conn, true); err != nil {
		s.log.Err("intake: write opt handshake: %v", err)
		return
	}

	// Step 6: commit.
	entry := registry.JobEntry{
		Submitter: submitter,
		Def:       registry.FromWireJobDef(wireDef),
		Arg:       arg,
		Opt:       opt,
	}
	s.reg.EnqueueJob(entry)
	s.log.Info("intake: enqueued job %d from %s@%s", entry.Def.ID, submitter.User, submitter.Name)
}

func (s *Server) validSize(def wire.JobDef) bool {
	if s.limits.MaxArgSize > 0 && def.ArgSize > s.limits.MaxArgSize {
		return false
	}
	if s.limits.MaxOptSize > 0 && def.OptSize > s.limits.MaxOptSize {
		return false
	}
	memavail := s.reg.Host().MemAvail
	if memavail != registry.Unbounded {
		total := uint64(def.ArgSize) + uint64(def.OptSize)
		if total > memavail {
			return false
		}
	}
	return true
}
