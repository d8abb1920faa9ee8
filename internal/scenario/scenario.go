// Package scenario implements the retry-policy scenario runner: for a
// given Scenario, derive a fresh overlay per attempt, drive its phases
// through a StackExecutor, and stop at the first attempt whose last phase
// succeeds.
package scenario

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"patchgrader/internal/executor"
	"patchgrader/internal/model"
	"patchgrader/internal/qemuimg"
	"patchgrader/internal/vmspawn"
)

// Runner derives overlays and drives a Scenario's phases.
type Runner struct {
	Spawner *vmspawn.Spawner
	Builder qemuimg.Builder
	Exec    executor.Config
}

// Run executes scenario against baseImage, writing attempt overlays into
// artifactsDir as attempt_N.qcow2. Every step's action must already be
// resolved to a concrete Action (a patch_transfer suite-config entry is
// resolved against the patch path by suiteconfig.Resolve before it ever
// reaches here). It stops at the first attempt whose ScenarioReport.Attempts
// entry succeeds: retries stop on first success.
func (r Runner) Run(ctx context.Context, scenario model.Scenario, baseImage qemuimg.Image, artifactsDir string) (model.ScenarioReport, error) {
	var report model.ScenarioReport

	for i := 0; i <= scenario.Retries; i++ {
		dst := qemuimg.Qcow2(filepath.Join(artifactsDir, "attempt_"+strconv.Itoa(i+1)+".qcow2"))
		if err := r.Builder.Create(ctx, baseImage, dst); err != nil {
			return report, fmt.Errorf("scenario: derive attempt %d overlay: %w", i+1, err)
		}

		stackExec := executor.NewStackExecutor(r.Exec, r.Spawner, dst.Path)
		for _, phase := range scenario.Phases {
			stack, err := stackExec.OpenStack(ctx)
			if err != nil {
				return report, fmt.Errorf("scenario: open stack: %w", err)
			}
			if !stack.RunUntilFailure(ctx, phase) {
				break
			}
		}

		attempt := model.Attempt{Image: dst.Path, Reports: stackExec.Finish()}
		report.Attempts = append(report.Attempts, attempt)

		if attempt.Success() {
			break
		}
	}

	return report, nil
}
