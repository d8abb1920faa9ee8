package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"patchgrader/internal/model"
	"patchgrader/internal/qemuimg"
	"patchgrader/internal/vmspawn"
)

// TestStackExecutor_PersistentChanges boots a real VM twice in a row against
// the same overlay and confirms a file written in the first boot is still
// present in the second, establishing the "reboots within a scenario share
// an overlay" contract. It only runs against a real hypervisor and base
// image, supplied out of band, and is skipped otherwise.
func TestStackExecutor_PersistentChanges(t *testing.T) {
	qemu := os.Getenv("PATCHGRADER_TEST_QEMU")
	qemuImg := os.Getenv("PATCHGRADER_TEST_QEMU_IMG")
	baseImage := os.Getenv("PATCHGRADER_TEST_BASE_IMAGE")
	if qemu == "" || qemuImg == "" || baseImage == "" {
		t.Skip("set PATCHGRADER_TEST_QEMU, PATCHGRADER_TEST_QEMU_IMG and PATCHGRADER_TEST_BASE_IMAGE to run this integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	spawner := vmspawn.New(1, vmspawn.Config{Qemu: qemu, MemoryMiB: 512, EnableKVM: true, IrqchipOff: true}, t.TempDir())
	builder := qemuimg.NewBuilder(qemuImg)

	overlay := qemuimg.Qcow2(filepath.Join(t.TempDir(), "persistent.qcow2"))
	require.NoError(t, builder.Create(ctx, qemuimg.Raw(baseImage), overlay))

	cfg := Config{
		User:              "root",
		Password:          "password",
		ConnectionTimeout: 30 * time.Second,
		PoweroffTimeout:   30 * time.Second,
		PoweroffCommand:   "/sbin/poweroff",
	}
	stackExec := NewStackExecutor(cfg, spawner, overlay.Path)

	first, err := stackExec.OpenStack(ctx)
	require.NoError(t, err)
	require.True(t, first.RunUntilFailure(ctx, []model.Step{
		{Action: model.Exec("echo marker > /root/marker.txt"), Timeout: 10 * time.Second},
	}))

	second, err := stackExec.OpenStack(ctx)
	require.NoError(t, err)
	require.True(t, second.RunUntilFailure(ctx, []model.Step{
		{Action: model.Exec("grep marker /root/marker.txt"), Timeout: 10 * time.Second},
	}))
}
