// Package vmspawn is a bounded-concurrency VM factory: a bare counting
// semaphore gates the number of live hypervisor children across the whole
// process, and Handle owns the child, the monitor socket, and the permit
// for its lifetime.
package vmspawn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/semaphore"

	"patchgrader/internal/glog"
	"patchgrader/internal/osutil"
	"patchgrader/internal/vmmonitor"

	"github.com/google/uuid"
)

// Spawner bounds the number of concurrently live VMs to its configured
// ceiling.
type Spawner struct {
	sem        *semaphore.Weighted
	cfg        Config
	monitorDir string
}

// New constructs a Spawner with the given concurrency ceiling. monitorRoot
// is the directory under which each VM's monitor-socket temp directory is
// created; if empty, os.TempDir() is used.
func New(concurrency int, cfg Config, monitorRoot string) *Spawner {
	if monitorRoot == "" {
		monitorRoot = os.TempDir()
	}
	return &Spawner{
		sem:        semaphore.NewWeighted(int64(concurrency)),
		cfg:        cfg,
		monitorDir: monitorRoot,
	}
}

// Spawn blocks cooperatively until a concurrency permit is available, then
// launches the hypervisor against imagePath and returns a Handle owning
// the child, the permit, and the monitor socket's directory.
func (s *Spawner) Spawn(ctx context.Context, imagePath string) (*Handle, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("vmspawn: acquire permit: %w", err)
	}

	h, err := s.launch(ctx, imagePath)
	if err != nil {
		s.sem.Release(1)
		return nil, err
	}
	return h, nil
}

func (s *Spawner) launch(ctx context.Context, imagePath string) (*Handle, error) {
	vmDir, err := os.MkdirTemp(s.monitorDir, "patchgrader-vm-"+uuid.New().String()+"-")
	if err != nil {
		return nil, fmt.Errorf("vmspawn: create monitor dir: %w", err)
	}
	sockPath := filepath.Join(vmDir, "monitor.sock")

	args := s.buildArgs(imagePath, sockPath)
	glog.Logf(0, "vmspawn: launching %v %v", s.cfg.Qemu, args)

	cmd := osutil.Command(s.cfg.Qemu, args...)
	cmd.Stdin = nil
	out, err := cmd.StdoutPipe()
	if err != nil {
		os.RemoveAll(vmDir)
		return nil, fmt.Errorf("vmspawn: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		os.RemoveAll(vmDir)
		return nil, fmt.Errorf("vmspawn: start %v: %w", s.cfg.Qemu, err)
	}

	h := &Handle{
		imagePath: imagePath,
		cmd:       cmd,
		vmDir:     vmDir,
		sem:       s.sem,
		reaped:    make(chan struct{}),
	}
	go h.reap(out)

	port, err := vmmonitor.DiscoverSSHPort(ctx, sockPath)
	if err != nil {
		h.terminate()
		return nil, fmt.Errorf("vmspawn: discover ssh port: %w", err)
	}
	h.sshPort = port

	return h, nil
}

func (s *Spawner) buildArgs(imagePath, sockPath string) []string {
	args := []string{
		"-display", "none",
		"-drive", "file=" + imagePath,
		"-rtc", "base=localtime",
		"-netdev", "user,id=net0,hostfwd=tcp::0-:22",
		"-device", "virtio-net-pci,netdev=net0",
		"-monitor", "unix:" + sockPath + ",server,nowait",
		"-m", strconv.Itoa(s.cfg.MemoryMiB),
	}
	if s.cfg.EnableKVM {
		args = append(args, "-enable-kvm")
	}
	if s.cfg.IrqchipOff {
		args = append(args, "-machine", "kernel_irqchip=off")
	}
	return args
}

// Handle represents one running hypervisor child process: an image path,
// the child, the monitor-discovered SSH port, and the concurrency permit
// the spawner's semaphore grants for its whole lifetime.
//
// Invariant: while a Handle exists, exactly one permit is held from the
// spawner's semaphore; it is released only after the child has been
// reaped, whether shutdown was clean or forced (Close).
type Handle struct {
	imagePath string
	cmd       *exec.Cmd
	vmDir     string
	sshPort   int

	sem     *semaphore.Weighted
	once    sync.Once
	reaped  chan struct{}
	waitErr error
}

// ImagePath returns the overlay image this VM was booted from.
func (h *Handle) ImagePath() string { return h.imagePath }

// SSHPort returns the host port forwarded to the guest's port 22.
func (h *Handle) SSHPort() int { return h.sshPort }

func (h *Handle) reap(stdout interface{ Read([]byte) (int, error) }) {
	// Drain and discard console output; the grading harness does not
	// inspect kernel console text or analyse patch semantics.
	buf := make([]byte, 4096)
	for {
		if _, err := stdout.Read(buf); err != nil {
			break
		}
	}
	h.waitErr = h.cmd.Wait()
	close(h.reaped)
	h.releasePermit()
}

func (h *Handle) releasePermit() {
	h.once.Do(func() {
		if h.sem != nil {
			h.sem.Release(1)
		}
		os.RemoveAll(h.vmDir)
	})
}

// TryWait reports whether the child has exited yet, without blocking.
func (h *Handle) TryWait() (exited bool, err error) {
	select {
	case <-h.reaped:
		return true, h.waitErr
	default:
		return false, nil
	}
}

// Wait blocks until the child exits (normally or by Kill), releasing the
// permit exactly once the child is reaped.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.reaped:
		return h.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill signals the hypervisor's process group to terminate. It does not
// block for the reap; call Wait (or rely on TryWait polling) to observe
// completion.
func (h *Handle) Kill() error {
	return osutil.KillGroup(h.cmd)
}

// terminate kills the child and blocks until it is reaped, releasing the
// permit. Used when a Handle must be abandoned before any SSH interaction
// happened (e.g. monitor-port discovery failed).
func (h *Handle) terminate() {
	h.Kill()
	<-h.reaped
}

// Close guarantees that a Handle abandoned mid-processing always
// terminates its child and only then releases its permit. It is safe to
// call more than once and concurrently with a prior clean shutdown (Wait
// having already completed).
func (h *Handle) Close() {
	select {
	case <-h.reaped:
		// Already exited (e.g. a clean poweroff); nothing to kill, but
		// make sure the permit bookkeeping has run.
		h.releasePermit()
		return
	default:
	}
	h.Kill()
	<-h.reaped
}
