// Package patchproc drives one patch through its build scenario and, if
// the build succeeds, its named test scenarios concurrently, producing a
// RunReport.
package patchproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"patchgrader/internal/executor"
	"patchgrader/internal/glog"
	"patchgrader/internal/model"
	"patchgrader/internal/qemuimg"
	"patchgrader/internal/scenario"
	"patchgrader/internal/vmspawn"
)

// Processor holds everything needed to run one patch's full scenario tree
// against a configured base image.
type Processor struct {
	Spawner   *vmspawn.Spawner
	Builder   qemuimg.Builder
	BaseImage string // raw golden image path
}

// execConfig projects the SSH-facing fields out of a model.RunConfig.
func execConfig(run model.RunConfig) executor.Config {
	return executor.Config{
		User:              run.User,
		Password:          run.Password,
		ConnectionTimeout: run.ConnectionTimeout,
		PoweroffTimeout:   run.PoweroffTimeout,
		PoweroffCommand:   run.PoweroffCommand,
		OutputLimit:       run.OutputLimit,
	}
}

func prepareDir(path string) error {
	if err := os.Mkdir(path, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func (p *Processor) runScenario(ctx context.Context, run model.RunConfig, sc model.Scenario, base qemuimg.Image, artifactsDir string) (model.ScenarioReport, error) {
	runner := scenario.Runner{Spawner: p.Spawner, Builder: p.Builder, Exec: execConfig(run)}
	return runner.Run(ctx, sc, base, artifactsDir)
}

func (p *Processor) build(ctx context.Context, run model.RunConfig, artifactsRoot string) (model.ScenarioReport, error) {
	buildDir := filepath.Join(artifactsRoot, "build")
	if err := prepareDir(buildDir); err != nil {
		return model.ScenarioReport{}, fmt.Errorf("patchproc: create build dir: %w", err)
	}
	return p.runScenario(ctx, run, run.Build, qemuimg.Raw(p.BaseImage), buildDir)
}

type testResult struct {
	name   string
	report model.ScenarioReport
	err    error
}

// spawnTestWorkers runs every named test scenario concurrently against
// baseImage (the overlay of the build's last successful attempt), canceling the
// shared context and waiting for every worker to observe it as soon as any
// one worker hits a framework error.
func (p *Processor) spawnTestWorkers(ctx context.Context, run model.RunConfig, artifactsRoot string, baseImage qemuimg.Image) (map[string]model.ScenarioReport, error) {
	testsDir := filepath.Join(artifactsRoot, "tests")
	if err := prepareDir(testsDir); err != nil {
		return nil, fmt.Errorf("patchproc: create tests dir: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan testResult, len(run.Tests))
	var wg sync.WaitGroup
	for name, sc := range run.Tests {
		name, sc := name, sc
		wg.Add(1)
		go func() {
			defer wg.Done()
			artifacts := filepath.Join(testsDir, name)
			if err := prepareDir(artifacts); err != nil {
				results <- testResult{name: name, err: fmt.Errorf("patchproc: create test dir %v: %w", name, err)}
				return
			}
			report, err := p.runScenario(runCtx, run, sc, baseImage, artifacts)
			results <- testResult{name: name, report: report, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[string]model.ScenarioReport, len(run.Tests))
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("patchproc: test %q: %w", res.name, res.err)
				cancel()
			}
			continue
		}
		out[res.name] = res.report
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Process runs patch's build scenario, then (if it succeeded) every test
// scenario concurrently, returning the combined RunReport. artifactsRoot is
// this patch's own artifacts directory; it is canonicalised once up front.
func (p *Processor) Process(ctx context.Context, patch model.Patch, run model.RunConfig, artifactsRoot string) (model.RunReport, error) {
	root, err := filepath.Abs(artifactsRoot)
	if err != nil {
		return model.RunReport{}, fmt.Errorf("patchproc: resolve artifacts root: %w", err)
	}
	glog.Logf(0, "patchproc: processing patch %v under %v", patch.ID, root)

	var report model.RunReport

	report.Build, err = p.build(ctx, run, root)
	if err != nil {
		return report, err
	}
	if !report.Build.Success() {
		return report, nil
	}

	image, ok := report.Build.LastSuccessfulImage()
	baseImage := qemuimg.Raw(p.BaseImage)
	if ok {
		baseImage = qemuimg.Qcow2(image)
	}

	report.Tests, err = p.spawnTestWorkers(ctx, run, root, baseImage)
	if err != nil {
		return report, err
	}
	return report, nil
}
