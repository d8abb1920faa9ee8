// Package reportio is the results sink: one verdict line per patch on the
// results stream, plus a structured report file per patch under the
// reports directory.
package reportio

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"patchgrader/internal/model"
)

// Format selects the structured report's encoding; it also decides the
// report file's extension (".yaml" or ".json").
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
)

// Printer writes the verdict line for each processed patch to Results and,
// if ReportsDir is non-empty (reports are optional), a structured
// RunReport to a file named after the patch's id under ReportsDir.
type Printer struct {
	ReportsDir string
	Format     Format
	Results    io.Writer
}

// Print writes the verdict line and structured report file for a patch
// that ran to completion. A framework error never reaches Print: it is
// only logged and counted in Stats, never written to standard output or
// the reports directory, so that handling lives at the dispatcher layer,
// not here.
func (p *Printer) Print(patchPath string, report *model.RunReport) error {
	id := stem(patchPath)

	line := verdictLine(patchPath, id, report)
	if _, err := io.WriteString(p.Results, line); err != nil {
		return fmt.Errorf("reportio: write verdict line: %w", err)
	}

	if p.ReportsDir == "" {
		return nil
	}
	return p.writeReport(id, report)
}

// verdictLine renders the "<id>;<path>;<verdict>" line: "OK", "build
// failed", or a comma-joined list of failed test names.
func verdictLine(patchPath, id string, report *model.RunReport) string {
	var verdict string
	switch {
	case !report.Build.Success():
		verdict = "build failed"
	default:
		var failed []string
		for name, tr := range report.Tests {
			if !tr.Success() {
				failed = append(failed, name)
			}
		}
		if len(failed) == 0 {
			verdict = "OK"
		} else {
			sort.Strings(failed)
			verdict = strings.Join(failed, ",")
		}
	}
	return fmt.Sprintf("%s;%s;%s\n", id, patchPath, verdict)
}

func (p *Printer) writeReport(id string, report *model.RunReport) error {
	ext := ".yaml"
	if p.Format == FormatJSON {
		ext = ".json"
	}
	path := filepath.Join(p.ReportsDir, id+ext)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reportio: create %v: %w", path, err)
	}
	defer f.Close()

	switch p.Format {
	case FormatJSON:
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		err = enc.Encode(report)
	default:
		enc := yaml.NewEncoder(f)
		err = enc.Encode(report)
		if cerr := enc.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("reportio: encode %v: %w", path, err)
	}
	return nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
