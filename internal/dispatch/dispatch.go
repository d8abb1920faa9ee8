// Package dispatch is the harness's top-level driver: an input goroutine
// validates one patch path per line of standard input and schedules a
// processing goroutine per accepted patch; a single consumer loop folds
// every patch's outcome into Stats and the results/report sink as it
// completes, in arrival order rather than input order.
package dispatch

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"patchgrader/internal/glog"
	"patchgrader/internal/model"
	"patchgrader/internal/patchproc"
	"patchgrader/internal/patchvalidate"
	"patchgrader/internal/reportio"
	"patchgrader/internal/stats"
	"patchgrader/internal/suiteconfig"
)

// Result is one patch's finished outcome: either a RunReport, or Err set
// to a framework error. A framework error marks the patch internal-error
// in Stats but other patches continue.
type Result struct {
	Patch  model.Patch
	Report model.RunReport
	Err    error
}

// Dispatcher wires the validated-input stream to the patch processor and
// the results sink.
type Dispatcher struct {
	Processor     *patchproc.Processor
	Suite         *suiteconfig.Suite
	ArtifactsRoot string
}

// Run reads patch paths from stdin, schedules one processing goroutine per
// accepted patch, and folds every result into st and printer as it
// arrives. It returns false if any patch hit a framework error or failed
// to have its report written, which the caller uses for the process exit
// code.
func (d *Dispatcher) Run(ctx context.Context, stdin io.Reader, printer *reportio.Printer, st *stats.Stats) bool {
	var wg sync.WaitGroup
	results := make(chan Result)

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.readInput(ctx, stdin, &wg, results)
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	ok := true
	for res := range results {
		if res.Err != nil {
			glog.Errorf("patch %v: framework error: %v", res.Patch.ID, res.Err)
			st.Update(res.Patch.Path, nil, res.Err)
			ok = false
			continue
		}

		st.Update(res.Patch.Path, &res.Report, nil)
		if err := printer.Print(res.Patch.Path, &res.Report); err != nil {
			glog.Errorf("patch %v: failed to write report: %v", res.Patch.ID, err)
			st.RecordReportSaveFailure()
			ok = false
		}
	}
	return ok
}

func (d *Dispatcher) readInput(ctx context.Context, stdin io.Reader, wg *sync.WaitGroup, results chan<- Result) {
	var validator patchvalidate.Validator
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		patch, err := validator.Validate(line)
		if err != nil {
			glog.Logf(0, "invalid path %v ignored: %v", line, err)
			continue
		}

		wg.Add(1)
		go d.process(ctx, patch, wg, results)
	}
	if err := scanner.Err(); err != nil {
		glog.Errorf("dispatch: reading standard input: %v", err)
	}
}

func (d *Dispatcher) process(ctx context.Context, patch model.Patch, wg *sync.WaitGroup, results chan<- Result) {
	defer wg.Done()

	artifactsDir := filepath.Join(d.ArtifactsRoot, patch.ID)
	if err := os.MkdirAll(artifactsDir, 0o755); err != nil {
		results <- Result{Patch: patch, Err: err}
		return
	}

	run := d.Suite.Resolve(patch.Path)
	report, err := d.Processor.Process(ctx, patch, run, artifactsDir)
	results <- Result{Patch: patch, Report: report, Err: err}
}
