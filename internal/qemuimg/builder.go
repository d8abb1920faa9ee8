// Package qemuimg wraps the qemu-img tool to derive copy-on-write overlay
// images from a golden base: a thin, reusable wrapper constructed once and
// reused for every attempt.
package qemuimg

import (
	"context"
	"fmt"

	"patchgrader/internal/glog"
	"patchgrader/internal/osutil"
)

// Format is one of the two image formats the harness deals in: "raw" for
// the read-only golden master, "qcow2" for copy-on-write overlays.
type Format string

const (
	FormatRaw   Format = "raw"
	FormatQcow2 Format = "qcow2"
)

// Image pairs a path with its format.
type Image struct {
	Path   string
	Format Format
}

// Raw builds a raw Image reference.
func Raw(path string) Image { return Image{Path: path, Format: FormatRaw} }

// Qcow2 builds a qcow2 Image reference.
func Qcow2(path string) Image { return Image{Path: path, Format: FormatQcow2} }

// Builder invokes the configured image tool to create child overlays. It
// never overwrites the source.
type Builder struct {
	cmd string
}

// NewBuilder constructs a Builder bound to the given qemu-img binary path.
func NewBuilder(cmd string) Builder {
	return Builder{cmd: cmd}
}

// Create runs `<cmd> create -f <dst.Format> -b <src.Path> -F <src.Format>
// <dst.Path>`, always producing a new child overlay backed by src.
func (b Builder) Create(ctx context.Context, src, dst Image) error {
	args := []string{
		"create",
		"-f", string(dst.Format),
		"-b", src.Path,
		"-F", string(src.Format),
		dst.Path,
	}
	glog.Logf(1, "qemuimg: running %v %v", b.cmd, args)

	cmd := osutil.CommandContext(ctx, b.cmd, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("qemuimg: create %v -> %v: %w: %s", src.Path, dst.Path, err, out)
	}
	return nil
}
