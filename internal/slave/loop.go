// Package slave implements the single-threaded core state machine that
// drains the job queue and drives the compute engine, per spec.md §4.4.
// Everything else in this module exists to feed this loop a job and to
// carry its result back out.
package slave

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/distcomp/peerslave/internal/audit"
	"github.com/distcomp/peerslave/internal/engine"
	"github.com/distcomp/peerslave/internal/logx"
	"github.com/distcomp/peerslave/internal/options"
	"github.com/distcomp/peerslave/internal/registry"
	"github.com/distcomp/peerslave/internal/resultsend"
	"github.com/google/uuid"
)

// StatusGauge is the narrow slice of internal/metrics.Metrics the loop
// publishes to on every status transition and terminal job.
type StatusGauge interface {
	SetHostStatus(registry.Status)
	RecordJob(succeeded bool, failedStep int, duration time.Duration)
}

// Defaults for the loop's three timeouts, per spec.md §4.4 and §6.
const (
	DefaultEngineIdleTimeout = 180 * time.Second
	DefaultZombieTimeout     = 900 * time.Second
	DefaultPollInterval      = 10 * time.Millisecond
)

// ErrEngineAborted is returned by Run when the engine reported a fatal
// abort; the caller is expected to exit the process with status 1 so the
// supervisor respawns it.
var ErrEngineAborted = errors.New("slave: engine aborted, process must exit")

// Loop owns the engine handle and drives it against the registry's job
// queue. It is not safe for concurrent use: spec.md is explicit that the
// engine handle has exactly one mutator.
type Loop struct {
	reg *registry.Registry
	eng engine.Engine
	log *logx.Logger

	engineCmd  string
	engineName string
	auditStore audit.Store
	metrics    StatusGauge

	tEngine      time.Duration
	tZombie      time.Duration
	pollInterval time.Duration

	now func() time.Time

	engineRunning     bool
	engineFailedAt    time.Time
	engineAborted     bool
	lastJobFinishedAt time.Time
}

// New creates a Loop. engineCmd is the configured engine start command
// (the --matlab flag's value); engineName labels it in synthesized
// error messages.
func New(reg *registry.Registry, eng engine.Engine, log *logx.Logger, engineCmd, engineName string) *Loop {
	return &Loop{
		reg:          reg,
		eng:          eng,
		log:          log,
		engineCmd:    engineCmd,
		engineName:   engineName,
		tEngine:      DefaultEngineIdleTimeout,
		tZombie:      DefaultZombieTimeout,
		pollInterval: DefaultPollInterval,
		now:          time.Now,
	}
}

// SetTimeouts overrides the engine-idle and zombie timeouts.
func (l *Loop) SetTimeouts(tEngine, tZombie time.Duration) {
	l.tEngine = tEngine
	l.tZombie = tZombie
}

// SetAuditStore wires an audit log; every terminal job is recorded to it
// after the result-send attempt completes. Optional — a nil store (the
// default) means outcomes aren't recorded anywhere.
func (l *Loop) SetAuditStore(store audit.Store) {
	l.auditStore = store
}

// SetMetrics wires a metrics sink updated on every status transition and
// terminal job.
func (l *Loop) SetMetrics(m StatusGauge) {
	l.metrics = m
}

func (l *Loop) publishStatus(status registry.Status) {
	if l.metrics != nil {
		l.metrics.SetHostStatus(status)
	}
}

// Run drives the loop until ctx is canceled or the engine aborts.
// Canceling ctx returns nil; an engine abort returns ErrEngineAborted.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if l.engineAborted {
			return ErrEngineAborted
		}

		now := l.now()

		// Step 1: close an idle engine without changing peer-visible status.
		if l.engineRunning && !l.lastJobFinishedAt.IsZero() && now.Sub(l.lastJobFinishedAt) > l.tEngine {
			if err := l.eng.Close(); err != nil {
				l.log.Warning("slave: error closing idle engine: %v", err)
			}
			l.engineRunning = false
		}

		// Step 2: leave ZOMBIE once the timeout has elapsed.
		host := l.reg.Host()
		if host.Status == registry.StatusZombie && now.Sub(l.engineFailedAt) > l.tZombie {
			l.reg.UpdateHost(func(h *registry.HostDescriptor) {
				h.Status = registry.StatusIdle
				h.Current = registry.CurrentJob{}
			})
			l.publishStatus(registry.StatusIdle)
			l.engineFailedAt = time.Time{}
			host = l.reg.Host()
		}

		// Step 3: nothing to do.
		if _, ok := l.reg.PeekJob(); !ok {
			l.sleep(ctx)
			continue
		}
		if host.Status == registry.StatusZombie {
			l.sleep(ctx)
			continue
		}

		// Step 4: make sure the engine is up before taking a job off the
		// queue it would otherwise fail.
		if !l.engineRunning {
			if err := l.eng.Open(l.engineCmd); err != nil {
				l.handleEngineStartFailure(now, err)
				continue
			}
			l.engineRunning = true
		}

		// Step 5: pop the job, publish BUSY + current + timallow.
		job, ok := l.reg.PopJob()
		if !ok {
			continue
		}
		timallow := computeTimallow(job.Def.TimReq, host.TimAvail)
		l.reg.UpdateHost(func(h *registry.HostDescriptor) {
			h.Status = registry.StatusBusy
			h.Current = registry.CurrentJob{
				HostID: job.Submitter.ID,
				JobID:  job.Def.ID,
				User:   job.Submitter.User,
				Group:  job.Submitter.Group,
				TimReq: job.Def.TimReq,
				MemReq: job.Def.MemReq,
				CPUReq: job.Def.CPUReq,
			}
		})
		l.publishStatus(registry.StatusBusy)

		l.runJob(job, timallow, now)

		if l.engineAborted {
			return ErrEngineAborted
		}

		l.reg.ClearJobList()
		l.reg.UpdateHost(func(h *registry.HostDescriptor) {
			h.Status = registry.StatusIdle
			h.Current = registry.CurrentJob{}
		})
		l.publishStatus(registry.StatusIdle)
		l.lastJobFinishedAt = l.now()
	}
}

func (l *Loop) sleep(ctx context.Context) {
	t := time.NewTimer(l.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// handleEngineStartFailure enters ZOMBIE and, if a job was waiting,
// drains it with a synthesized lasterr result — the queue has nobody
// else to service it and the submitter's own timeout is the only other
// way it would ever find out.
func (l *Loop) handleEngineStartFailure(now time.Time, startErr error) {
	l.log.Err("slave: engine failed to start: %v", startErr)
	l.engineFailedAt = now
	l.reg.UpdateHost(func(h *registry.HostDescriptor) {
		h.Status = registry.StatusZombie
	})
	l.publishStatus(registry.StatusZombie)

	job, ok := l.reg.PopJob()
	if !ok {
		return
	}
	msg := fmt.Sprintf("could not start the %s engine", l.engineName)
	l.deliverFailure(job, msg, -1, now)
	l.reg.ClearJobList()
}

// runJob executes one job's put/eval/get sequence against the engine,
// applying the 1..5 failure taxonomy of spec.md §4.4 step 8, and
// delivers whatever result (success or synthesized lasterr) it produces.
func (l *Loop) runJob(job registry.JobEntry, timallow uint64, startedAt time.Time) {
	opt := options.Append(job.Opt, "timallow", strconv.FormatUint(timallow, 10))
	opt = options.Append(opt, "masterid", strconv.FormatUint(uint64(job.Submitter.ID), 10))

	var (
		argout     []byte
		optout     []byte
		failMsg    string
		abort      bool
		failedStep int
	)

	switch {
	case l.eng.Put(engine.VarArgin, job.Arg) != nil:
		failMsg, failedStep = "failed to stage job input", 1
	case l.eng.Put(engine.VarOptions, opt) != nil:
		failMsg, failedStep = "failed to stage job options", 2
	case l.eng.Eval(engine.EvalExpr) != nil:
		failMsg, failedStep, abort = "engine evaluation failed", 3, true
	default:
		var err error
		argout, err = l.eng.Get(engine.VarArgout)
		if err != nil {
			failMsg, failedStep, abort = "failed to retrieve job output", 4, true
			break
		}
		optout, err = l.eng.Get(engine.VarOptions)
		if err != nil {
			failMsg, failedStep, abort = "failed to retrieve job options", 5, true
		}
	}

	if failMsg != "" {
		l.engineAborted = abort
		l.deliverFailure(job, failMsg, failedStep, startedAt)
		return
	}

	l.deliverResult(job, argout, optout, 0, startedAt)
}

func (l *Loop) deliverFailure(job registry.JobEntry, msg string, failedStep int, startedAt time.Time) {
	argout := []byte{0}
	optout := options.Append(nil, "lasterr", msg)
	l.deliverResult(job, argout, optout, failedStep, startedAt)
}

func (l *Loop) deliverResult(job registry.JobEntry, argout, optout []byte, failedStep int, startedAt time.Time) {
	defer l.recordOutcome(job, failedStep, startedAt)

	peer, ok := l.reg.FindPeer(job.Submitter.ID, job.Submitter.Name)
	if !ok {
		l.log.Err("slave: submitter %s@%s vanished before result could be sent", job.Submitter.User, job.Submitter.Name)
		return
	}

	self := l.reg.Host()
	network, address, ok := resultsend.Destination(self, peer)
	if !ok {
		l.log.Err("slave: no reachable address for submitter %s", job.Submitter.Name)
		return
	}

	result := resultsend.Result{JobID: job.Def.ID, Argout: argout, Options: optout}
	if err := resultsend.Send(network, address, self, result); err != nil {
		l.log.Err("slave: result send to %s failed: %v", job.Submitter.Name, err)
	}
}

// recordOutcome writes one JobOutcome to the audit log, if one is
// wired. Per spec.md §4.10 this happens after the result-send attempt
// and never affects scheduling; a write failure is only logged.
func (l *Loop) recordOutcome(job registry.JobEntry, failedStep int, startedAt time.Time) {
	finishedAt := l.now()
	duration := finishedAt.Sub(startedAt)
	succeeded := failedStep == 0

	if l.metrics != nil {
		l.metrics.RecordJob(succeeded, failedStep, duration)
	}

	if l.auditStore == nil {
		return
	}
	outcome := audit.JobOutcome{
		TraceID:       uuid.New().String(),
		JobID:         job.Def.ID,
		SubmitterID:   job.Submitter.ID,
		SubmitterName: job.Submitter.Name,
		Succeeded:     succeeded,
		FailedStep:    failedStep,
		Duration:      duration,
		FinishedAt:    finishedAt,
	}
	if err := l.auditStore.Record(outcome); err != nil {
		l.log.Warning("slave: audit record failed: %v", err)
	}
}

// computeTimallow is spec.md §4.4 step 5's watchdog budget: three times
// what the job asked for, capped at whatever time the host has left to
// give. registry.Unbounded means no cap.
func computeTimallow(timReq, timAvail uint64) uint64 {
	want := 3 * timReq
	if timAvail == registry.Unbounded {
		return want
	}
	if want > timAvail {
		return timAvail
	}
	return want
}
