// Command patchgrader is the grading harness's entry point: it parses the
// suite configuration and hypervisor flags, then reads patch paths from
// standard input, one per line, until EOF.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"patchgrader/internal/dispatch"
	"patchgrader/internal/glog"
	"patchgrader/internal/patchproc"
	"patchgrader/internal/qemuimg"
	"patchgrader/internal/reportio"
	"patchgrader/internal/stats"
	"patchgrader/internal/suiteconfig"
	"patchgrader/internal/vmspawn"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		suitePath      = flag.String("suite", "", "path to the suite configuration file (required)")
		concurrency    = flag.Int("concurrency", 1, "maximum number of concurrently running VMs")
		qemuSystem     = flag.String("qemu-system", "qemu-system-x86_64", "hypervisor binary")
		qemuImg        = flag.String("qemu-img", "qemu-img", "image tool binary")
		qemuMemory     = flag.Int("qemu-memory", 1024, "VM memory in MiB")
		qemuEnableKVM  = flag.Bool("qemu-enable-kvm", true, "pass -enable-kvm to the hypervisor")
		qemuIrqchipOff = flag.Bool("qemu-irqchip-off", true, "pass -machine kernel_irqchip=off to the hypervisor")
		baseImagePath  = flag.String("base-image", "", "path to the raw golden base image (required)")
		artifactsDir   = flag.String("artifacts", "", "directory for per-patch build/test artifacts (default: a removed-at-exit tempdir)")
		reportsDir     = flag.String("reports", "", "directory for structured per-patch reports (default: no reports written)")
		reportsFormat  = flag.String("reports-format", "yaml", "structured report encoding: yaml or json")
		verbosity      = flag.Int("v", 0, "log verbosity")
	)
	flag.Parse()

	glog.SetVerbosity(*verbosity)

	if *suitePath == "" || *baseImagePath == "" {
		fmt.Fprintln(os.Stderr, "patchgrader: --suite and --base-image are required")
		flag.Usage()
		return 1
	}
	if *concurrency < 1 {
		fmt.Fprintln(os.Stderr, "patchgrader: --concurrency must be >= 1")
		return 1
	}

	baseImage, err := filepath.Abs(*baseImagePath)
	if err != nil {
		glog.Errorf("resolve --base-image: %v", err)
		return 1
	}
	if _, err := os.Stat(baseImage); err != nil {
		glog.Errorf("--base-image %v: %v", baseImage, err)
		return 1
	}

	suite, err := suiteconfig.LoadFile(*suitePath)
	if err != nil {
		glog.Errorf("load suite config: %v", err)
		return 1
	}

	artifacts := *artifactsDir
	if artifacts == "" {
		tmp, err := os.MkdirTemp("", "patchgrader-artifacts-")
		if err != nil {
			glog.Errorf("create artifacts tempdir: %v", err)
			return 1
		}
		defer os.RemoveAll(tmp)
		artifacts = tmp
	}

	var format reportio.Format
	switch *reportsFormat {
	case "json":
		format = reportio.FormatJSON
	case "yaml", "":
		format = reportio.FormatYAML
	default:
		fmt.Fprintf(os.Stderr, "patchgrader: --reports-format must be yaml or json, got %q\n", *reportsFormat)
		return 1
	}
	if *reportsDir != "" {
		if err := os.MkdirAll(*reportsDir, 0o755); err != nil {
			glog.Errorf("create reports dir: %v", err)
			return 1
		}
	}

	spawner := vmspawn.New(*concurrency, vmspawn.Config{
		Qemu:       *qemuSystem,
		MemoryMiB:  *qemuMemory,
		EnableKVM:  *qemuEnableKVM,
		IrqchipOff: *qemuIrqchipOff,
	}, artifacts)

	processor := &patchproc.Processor{
		Spawner:   spawner,
		Builder:   qemuimg.NewBuilder(*qemuImg),
		BaseImage: baseImage,
	}

	dispatcher := &dispatch.Dispatcher{
		Processor:     processor,
		Suite:         suite,
		ArtifactsRoot: artifacts,
	}

	printer := &reportio.Printer{
		ReportsDir: *reportsDir,
		Format:     format,
		Results:    os.Stdout,
	}

	st := stats.New(prometheus.DefaultRegisterer)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ok := dispatcher.Run(ctx, os.Stdin, printer, st)

	glog.Logf(0, "patchgrader: %d solutions, %d builds failed, %d internal errors",
		st.Solutions(), st.BuildsFailed(), len(st.InternalErrors()))

	if !ok {
		return 1
	}
	return 0
}
