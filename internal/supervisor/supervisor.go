// Package supervisor implements spec.md §4.6 as a process manager: it
// spawns one child OS process per configured peer, reaps exited
// children without blocking, and respawns them forever. This replaces
// the source's fork()-based loop — Go programs cannot fork safely once
// goroutines exist — with the portable os/exec re-invocation the
// teacher's own cmd/periodic/subcmd/run.go uses to shell out to an
// external command, adapted here to re-invoke the supervisor's own
// binary instead of an arbitrary one.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/distcomp/peerslave/internal/config"
	"github.com/distcomp/peerslave/internal/logx"
	"github.com/distcomp/peerslave/internal/registry"
)

// DefaultPollInterval is the 250ms loop of spec.md §4.6.
const DefaultPollInterval = 250 * time.Millisecond

// ChildEnv is set in every spawned child's environment; cmd/peerslave
// checks for it to skip straight into the single-slave path (§4.4)
// instead of re-entering supervision.
const ChildEnv = "PEERSLAVE_CHILD_ID"

// child tracks one circular-list slot: its configuration, the OS
// process currently (or most recently) running it, and the bumped id
// spec.md requires on every (re)spawn.
type child struct {
	cfg  config.Config
	id   uint32
	pid  int
	cmd  *exec.Cmd
	done chan error
}

// Supervisor owns the circular list of children and the 250ms
// spawn/reap loop.
type Supervisor struct {
	selfPath     string
	log          *logx.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	children []*child
	nextID   uint32
}

// New creates a Supervisor that will re-invoke its own binary
// (os.Executable) once per entry in children.
func New(log *logx.Logger, children []config.Config) (*Supervisor, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("supervisor: resolve own binary: %w", err)
	}
	return newWithSelf(self, log, children), nil
}

func newWithSelf(selfPath string, log *logx.Logger, children []config.Config) *Supervisor {
	specs := make([]*child, len(children))
	for i, c := range children {
		specs[i] = &child{cfg: c}
	}
	return &Supervisor{
		selfPath:     selfPath,
		log:          log,
		pollInterval: DefaultPollInterval,
		children:     specs,
	}
}

// SetPollInterval overrides the 250ms default, for tests.
func (s *Supervisor) SetPollInterval(d time.Duration) { s.pollInterval = d }

// Run drives the circular-list spawn/reap loop until ctx is canceled,
// at which point every still-running child is sent SIGTERM.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.terminateAll()
			return nil
		default:
		}

		s.mu.Lock()
		children := s.children
		s.mu.Unlock()

		for _, c := range children {
			if c.pid == 0 {
				if err := s.spawn(c); err != nil {
					return fmt.Errorf("supervisor: spawn %s: %w", c.cfg.Hostname, err)
				}
				s.log.Notice("supervisor: spawned %s as pid %d (id=%d)", c.cfg.Hostname, c.pid, c.id)
				continue
			}
			s.reap(c)
		}

		s.sleep(ctx)
	}
}

func (s *Supervisor) sleep(ctx context.Context) {
	t := time.NewTimer(s.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// spawn bumps the child's id and starts a fresh process for it, per
// spec.md §4.6's "bump self.id; spawn child".
func (s *Supervisor) spawn(c *child) error {
	s.mu.Lock()
	s.nextID++
	c.id = s.nextID
	s.mu.Unlock()

	cmd := exec.Command(s.selfPath, childArgs(c.cfg)...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", ChildEnv, c.id))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}

	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.done = make(chan error, 1)
	go func(done chan error, cmd *exec.Cmd) { done <- cmd.Wait() }(c.done, cmd)
	return nil
}

// reap performs the non-blocking "has this child exited" check: it
// drains c.done if the background Wait has already completed, which is
// this rewrite's equivalent of a non-blocking waitpid(WNOHANG) — the
// Wait itself runs on its own goroutine so this call never blocks the
// 250ms loop.
func (s *Supervisor) reap(c *child) {
	select {
	case err := <-c.done:
		if err != nil {
			s.log.Warning("supervisor: child %s (pid %d) exited: %v", c.cfg.Hostname, c.pid, err)
		} else {
			s.log.Notice("supervisor: child %s (pid %d) exited cleanly", c.cfg.Hostname, c.pid)
		}
		c.pid = 0
		c.cmd = nil
	default:
		// still running; leave it alone, matching the "if stopped, leave
		// alone" branch of spec.md §4.6 (Go's os/exec has no notion of a
		// traced/stopped child distinct from "still running").
	}
}

func (s *Supervisor) terminateAll() {
	s.mu.Lock()
	children := s.children
	s.mu.Unlock()
	for _, c := range children {
		if c.cmd == nil || c.cmd.Process == nil {
			continue
		}
		if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.log.Warning("supervisor: signal %s (pid %d): %v", c.cfg.Hostname, c.pid, err)
		}
	}
}

// childArgs renders cfg back into the flag surface of config.Flags, for
// re-invoking the supervisor's own binary as a single (Number==1) slave.
func childArgs(cfg config.Config) []string {
	args := []string{
		"--memavail", formatResource(cfg.MemAvail),
		"--cpuavail", formatResource(cfg.CPUAvail),
		"--timavail", formatResource(cfg.TimAvail),
		"--timeout", strconv.Itoa(int(cfg.Timeout / time.Second)),
		"--verbose", strconv.Itoa(cfg.Verbose),
		"--number", "1",
		"--hostname", cfg.Hostname,
		"--group", cfg.Group,
		"--matlab", cfg.Matlab,
		"--allowhost", strings.Join(cfg.AllowHost, ","),
		"--allowuser", strings.Join(cfg.AllowUser, ","),
		"--allowgroup", strings.Join(cfg.AllowGroup, ","),
		"--port", strconv.Itoa(int(cfg.Port)),
		"--socket", cfg.Socket,
		"--announce-addr", cfg.AnnounceAddr,
		"--discover-addr", cfg.DiscoverAddr,
		"--announce-interval", strconv.Itoa(int(cfg.AnnounceInterval / time.Second)),
		"--sweep-interval", strconv.Itoa(int(cfg.SweepInterval / time.Second)),
		"--expiry", strconv.Itoa(int(cfg.Expiry / time.Second)),
		"--zombie-timeout", strconv.Itoa(int(cfg.ZombieTimeout / time.Second)),
		"--audit-driver", cfg.AuditDriver,
		"--audit-redis", cfg.AuditRedis,
		"--audit-dbpath", cfg.AuditDBPath,
		"--http-addr", cfg.HTTPAddr,
		"--policystate-path", cfg.PolicystatePath,
	}
	if cfg.SmartMem {
		args = append(args, "--smartmem")
	}
	if cfg.SmartCPU {
		args = append(args, "--smartcpu")
	}
	if cfg.SmartShare {
		args = append(args, "--smartshare")
	}
	return args
}

func formatResource(v uint64) string {
	if v == registry.Unbounded {
		return "inf"
	}
	return strconv.FormatUint(v, 10)
}
