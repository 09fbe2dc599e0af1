// Command peerslave is the peer-to-peer compute slave daemon: the
// intake servers, presence protocol, the core slave loop, and the
// off-by-default diagnostic surfaces (audit log, metrics, status HTTP
// API, policy-state persistence) all start from here, the way
// huaban-periodic's cmd/periodic/main.go wires its Sched up from one
// codegangsta/cli app.Action.
package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"strconv"

	"github.com/codegangsta/cli"
	"github.com/distcomp/peerslave/internal/audit"
	"github.com/distcomp/peerslave/internal/config"
	"github.com/distcomp/peerslave/internal/engine"
	"github.com/distcomp/peerslave/internal/httpapi"
	"github.com/distcomp/peerslave/internal/intake"
	"github.com/distcomp/peerslave/internal/logx"
	"github.com/distcomp/peerslave/internal/metrics"
	"github.com/distcomp/peerslave/internal/policystate"
	"github.com/distcomp/peerslave/internal/presence"
	"github.com/distcomp/peerslave/internal/registry"
	"github.com/distcomp/peerslave/internal/resources"
	"github.com/distcomp/peerslave/internal/slave"
	"github.com/distcomp/peerslave/internal/supervisor"
)

func main() {
	app := cli.NewApp()
	app.Name = "peerslave"
	app.Usage = "peer-to-peer compute slave"
	app.Flags = config.Flags()
	app.Action = func(c *cli.Context) {
		if err := run(c); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	app.Run(os.Args)
}

func run(c *cli.Context) error {
	if path := config.ConfigPath(c); path != "" {
		children, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		return runSupervisor(children)
	}

	cfg, err := config.FromContext(c)
	if err != nil {
		return err
	}

	// A child re-invoked by the supervisor is already passed --number 1
	// (see supervisor.childArgs); the env var check forces Number to 1 as
	// well, so a supervised child never re-enters supervision.
	if _, supervised := os.LookupEnv(supervisor.ChildEnv); supervised {
		cfg.Number = 1
	}

	if cfg.Number > 1 {
		return runSupervisor(expand(cfg))
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	return runSlave(cfg)
}

// expand builds N independent configs from one CLI invocation's
// --number>1 flag, bumping hostname and port per child so they don't
// collide; this is the command-line-only path through spec.md §4.6 ("or
// builds N=1 from command-line options", generalized to N>1).
func expand(seed config.Config) []config.Config {
	out := make([]config.Config, seed.Number)
	for i := range out {
		child := seed
		child.Number = 1
		child.Hostname = fmt.Sprintf("%s-%d", seed.Hostname, i+1)
		if seed.Port != 0 {
			child.Port = seed.Port + uint16(i)
		}
		if seed.Socket != "" {
			child.Socket = fmt.Sprintf("%s.%d", seed.Socket, i+1)
		}
		out[i] = child
	}
	return out
}

func runSupervisor(children []config.Config) error {
	log := logx.New()
	sup, err := supervisor.New(log, children)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyShutdown(cancel)
	return sup.Run(ctx)
}

func runSlave(cfg config.Config) error {
	log := logx.New()
	log.Verbose = cfg.Verbose

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyShutdown(cancel)

	// Under supervision the child announces the id the supervisor bumped
	// for this (re)spawn; a direct launch derives it from the hostname.
	id := hostID(cfg.Hostname)
	if v, ok := os.LookupEnv(supervisor.ChildEnv); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			id = uint32(n)
		}
	}

	self := registry.HostDescriptor{
		ID:       id,
		Name:     cfg.Hostname,
		Group:    cfg.Group,
		Socket:   cfg.Socket,
		MemAvail: cfg.MemAvail,
		CPUAvail: cfg.CPUAvail,
		TimAvail: cfg.TimAvail,
		Status:   registry.StatusIdle,
	}

	reg := registry.New(self, nil)
	reg.SetAccessLists(cfg.AllowUser, cfg.AllowHost, cfg.AllowGroup)
	reg.SetPolicy(registry.PolicySmartMem, cfg.SmartMem, 0)
	reg.SetPolicy(registry.PolicySmartCPU, cfg.SmartCPU, 0)
	reg.SetPolicy(registry.PolicySmartShare, cfg.SmartShare, 0)

	var m *metrics.Metrics
	if cfg.HTTPAddr != "" {
		m = metrics.New()
	}

	var auditStore audit.Store
	switch cfg.AuditDriver {
	case "redis":
		auditStore = audit.NewRedisStore(cfg.AuditRedis)
	case "leveldb":
		store, err := audit.NewLevelDBStore(cfg.AuditDBPath)
		if err != nil {
			return fmt.Errorf("peerslave: audit leveldb: %w", err)
		}
		auditStore = store
	default:
		auditStore = audit.NewMemStore(1000)
	}
	defer auditStore.Close()

	var policyStore *policystate.Store
	if cfg.PolicystatePath != "" {
		ps, err := policystate.Open(cfg.PolicystatePath)
		if err != nil {
			return fmt.Errorf("peerslave: policystate: %w", err)
		}
		defer ps.Close()
		if err := ps.Restore(reg); err != nil {
			log.Warning("peerslave: policystate restore: %v", err)
		}
		policyStore = ps
	}

	tcpLn, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("peerslave: listen tcp: %w", err)
	}
	reg.UpdateHost(func(h *registry.HostDescriptor) {
		h.Port = uint16(tcpLn.Addr().(*net.TCPAddr).Port)
	})

	senderConn, destinations, err := presence.OpenSender(cfg.AnnounceAddr)
	if err != nil {
		return fmt.Errorf("peerslave: %w", err)
	}
	announcer := presence.NewAnnouncer(reg, senderConn, destinations, cfg.AnnounceInterval, log)
	reg.SetAnnounce(announcer.AnnounceOnce)

	receiverConn, err := presence.OpenReceiver(cfg.DiscoverAddr)
	if err != nil {
		return fmt.Errorf("peerslave: %w", err)
	}
	discoverer := presence.NewDiscoverer(reg, receiverConn, log)
	expirer := presence.NewExpirer(reg, cfg.SweepInterval, cfg.Expiry, log)
	if m != nil {
		discoverer.SetPeerGauge(m)
		expirer.SetPeerGauge(m)
	}

	tcpIntake := intake.NewServer(reg, log, "tcp", "", intake.DefaultLimits)
	go func() {
		if err := tcpIntake.ServeListener(ctx, tcpLn); err != nil {
			log.Err("peerslave: tcp intake: %v", err)
		}
	}()

	if cfg.Socket != "" {
		os.Remove(cfg.Socket)
		udsIntake := intake.NewServer(reg, log, "unix", cfg.Socket, intake.DefaultLimits)
		go func() {
			if err := udsIntake.Serve(ctx); err != nil {
				log.Err("peerslave: uds intake: %v", err)
			}
		}()
	}

	go announcer.Run(ctx)
	go discoverer.Run(ctx)
	go expirer.Run(ctx)

	if cfg.SmartMem || cfg.SmartCPU {
		sampler := resources.New(reg, log)
		if policyStore != nil {
			sampler.SetPolicyStore(policyStore)
		}
		go sampler.Run(ctx)
	}

	if cfg.HTTPAddr != "" {
		srv := httpapi.New(reg, log, m.Registry)
		go func() {
			if err := srv.ListenAndServe(cfg.HTTPAddr); err != nil {
				log.Err("peerslave: http api: %v", err)
			}
		}()
	}

	loop := slave.New(reg, engine.NewProcessEngine(), log, cfg.Matlab, "matlab")
	loop.SetTimeouts(cfg.Timeout, cfg.ZombieTimeout)
	loop.SetAuditStore(auditStore)
	if m != nil {
		loop.SetMetrics(m)
	}

	err = loop.Run(ctx)
	if err == slave.ErrEngineAborted {
		os.Exit(1)
	}
	return err
}

// hostID derives a stable numeric id from hostname for the HostDescriptor
// id field, falling back to a random id if hostname is somehow empty.
// spec.md treats id as opaque beyond "unique enough to key the peer
// table"; the source assigns it from a config file integer, which this
// rewrite has no equivalent slot for, so it is derived deterministically
// instead of left to chance.
func hostID(hostname string) uint32 {
	if hostname == "" {
		return rand.Uint32()
	}
	h := fnv.New32a()
	h.Write([]byte(hostname))
	return h.Sum32()
}

func notifyShutdown(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
	}()
}
