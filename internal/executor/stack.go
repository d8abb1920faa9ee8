package executor

import (
	"context"
	"time"

	"patchgrader/internal/model"
	"patchgrader/internal/vmspawn"
)

// StackExecutor runs a sequence of independent VM boots against the same
// backing image, collecting one ExecutorReport per boot. Each boot sees
// whatever the previous boot persisted to the overlay before its
// poweroff, which is how a scenario's phases build on one another.
type StackExecutor struct {
	cfg     Config
	spawner *vmspawn.Spawner
	image   string
	reports []model.ExecutorReport
}

// NewStackExecutor constructs a StackExecutor bound to one overlay image.
func NewStackExecutor(cfg Config, spawner *vmspawn.Spawner, image string) *StackExecutor {
	return &StackExecutor{cfg: cfg, spawner: spawner, image: image}
}

// OpenStack spawns a fresh VM against the executor's image and wraps it in
// a BaseExecutor, returning a Stack through which the caller drives that
// one boot's actions.
func (e *StackExecutor) OpenStack(ctx context.Context) (*Stack, error) {
	handle, err := e.spawner.Spawn(ctx, e.image)
	if err != nil {
		return nil, err
	}
	inner := NewBase(ctx, handle, e.cfg)
	return &Stack{inner: inner, owner: e}, nil
}

// Finish returns every ExecutorReport recorded across all boots opened on
// this executor so far. It may be called after the last Stack has been
// finished.
func (e *StackExecutor) Finish() []model.ExecutorReport {
	return e.reports
}

// Stack drives one VM boot's worth of actions and records its eventual
// ExecutorReport back onto the owning StackExecutor.
type Stack struct {
	inner *Base
	owner *StackExecutor
}

// Run forwards to the underlying BaseExecutor.
func (s *Stack) Run(ctx context.Context, action model.Action, timeout time.Duration) bool {
	return s.inner.Run(ctx, action, timeout)
}

// Finish powers off the VM, records the resulting ExecutorReport on the
// owning executor, and returns whether the boot succeeded. It must be
// called exactly once per Stack.
func (s *Stack) Finish(ctx context.Context) bool {
	report := s.inner.Finish(ctx)
	s.owner.reports = append(s.owner.reports, report)
	return report.Success()
}

// RunUntilFailure runs each step in order, stopping at the first failure,
// then finishes the stack regardless. It reports the stack's overall
// success.
func (s *Stack) RunUntilFailure(ctx context.Context, steps []model.Step) bool {
	for _, step := range steps {
		if !s.Run(ctx, step.Action, step.Timeout) {
			break
		}
	}
	return s.Finish(ctx)
}
