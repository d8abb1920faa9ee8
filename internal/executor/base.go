// Package executor drives VM lifecycles through ordered SSH interactions
// and records what happened: Base takes a single VM through a
// Connecting/Running/Finishing lifecycle, and StackExecutor (in stack.go)
// chains independent boots against the same backing image.
package executor

import (
	"context"
	"errors"
	"strconv"
	"time"

	"patchgrader/internal/glog"
	"patchgrader/internal/model"
	"patchgrader/internal/osutil"
	"patchgrader/internal/sshworker"
	"patchgrader/internal/vmspawn"
)

// Config is the subset of model.RunConfig a BaseExecutor needs to drive a
// single VM lifecycle.
type Config struct {
	User              string
	Password          string
	ConnectionTimeout time.Duration
	PoweroffTimeout   time.Duration
	PoweroffCommand   string
	OutputLimit       *int64
}

// Base drives a single VM handle through one phase's worth of SSH actions
// plus a shutdown, accumulating an ExecutorReport.
type Base struct {
	handle  *vmspawn.Handle
	cfg     Config
	worker  *sshworker.Worker // nil iff unreachable
	actions []model.ActionReport
}

// NewBase spawns the SSH worker wrapped in a connection deadline. Failure
// to connect leaves the Base unreachable: every subsequent Run becomes a
// no-op.
func NewBase(ctx context.Context, handle *vmspawn.Handle, cfg Config) *Base {
	connCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()

	addr := localhostAddr(handle.SSHPort())
	worker, err := sshworker.Dial(connCtx, addr, cfg.User, cfg.Password)
	if err != nil {
		glog.Logf(0, "executor: ssh connect to %v failed, VM unreachable: %v", addr, err)
		return &Base{handle: handle, cfg: cfg, worker: nil}
	}

	return &Base{handle: handle, cfg: cfg, worker: worker}
}

func localhostAddr(port int) string {
	return "localhost:" + strconv.Itoa(port)
}

// Unreachable reports whether the initial SSH connection failed.
func (b *Base) Unreachable() bool { return b.worker == nil }

// Run forwards action to the SSH worker under the given timeout, records
// an ActionReport, and returns whether it succeeded. On an unreachable
// executor, Run is a no-op that records nothing and returns false.
func (b *Base) Run(ctx context.Context, action model.Action, timeout time.Duration) bool {
	if b.worker == nil {
		return false
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := b.worker.Do(runCtx, action, b.cfg.OutputLimit)
	elapsed := time.Since(start)

	if err != nil {
		outcome = errToOutcome(err)
	}

	report := model.ActionReport{
		Action:  action,
		Timeout: timeout,
		Elapsed: elapsed,
		Outcome: outcome,
	}
	b.actions = append(b.actions, report)
	return report.Success()
}

func errToOutcome(err error) model.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.Outcome{Kind: model.OutcomeTimeout}
	}
	return model.Outcome{Kind: model.OutcomeError, ErrKind: "error", ErrMsg: err.Error()}
}

// Finish issues poweroff (if reachable) and polls for child exit within
// the poweroff deadline, or kills and reaps the child otherwise. It must
// be called exactly once.
func (b *Base) Finish(ctx context.Context) model.ExecutorReport {
	image := b.handle.ImagePath()

	if b.worker == nil {
		b.handle.Close()
		return model.ExecutorReport{
			Image:        image,
			SSHConnected: false,
			Actions:      b.actions,
			ExitClean:    false,
		}
	}

	exitClean := b.poweroffAndWait(ctx)
	b.worker.Close()

	return model.ExecutorReport{
		Image:        image,
		SSHConnected: true,
		Actions:      b.actions,
		ExitClean:    exitClean,
	}
}

// poweroffAndWait issues the configured poweroff command and cooperatively
// polls the child's exit status (100ms tick) within the poweroff deadline;
// the poweroff attempt itself is not recorded as an ActionReport — it is
// implicit in ExitClean.
func (b *Base) poweroffAndWait(ctx context.Context) bool {
	deadlineCtx, cancel := context.WithTimeout(ctx, b.cfg.PoweroffTimeout)
	defer cancel()

	// Best-effort: fire the poweroff command but don't let its own
	// outcome gate cleanliness — what matters is whether the child
	// actually exited before the deadline.
	_, _ = b.worker.Do(deadlineCtx, model.Exec(b.cfg.PoweroffCommand), b.cfg.OutputLimit)

	ticker := time.NewTicker(osutil.WaitTick)
	defer ticker.Stop()
	for {
		if exited, _ := b.handle.TryWait(); exited {
			return true
		}
		select {
		case <-deadlineCtx.Done():
			b.handle.Close()
			return false
		case <-ticker.C:
		}
	}
}
