package reportio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"patchgrader/internal/model"
)

func successReport() *model.RunReport {
	ok := model.ScenarioReport{Attempts: []model.Attempt{{
		Image:   "overlay.qcow2",
		Reports: []model.ExecutorReport{{SSHConnected: true, ExitClean: true}},
	}}}
	return &model.RunReport{
		Build: ok,
		Tests: map[string]model.ScenarioReport{"boot": ok},
	}
}

func TestVerdictLine(t *testing.T) {
	buildFailed := &model.RunReport{Build: model.ScenarioReport{}}
	assert.Equal(t, "aa111111;/p/aa111111.patch;build failed\n",
		verdictLine("/p/aa111111.patch", "aa111111", buildFailed))

	assert.Equal(t, "aa111111;/p/aa111111.patch;OK\n",
		verdictLine("/p/aa111111.patch", "aa111111", successReport()))

	failingTests := successReport()
	failingTests.Tests["stress"] = model.ScenarioReport{}
	line := verdictLine("/p/aa111111.patch", "aa111111", failingTests)
	assert.Contains(t, line, "stress")
	assert.NotContains(t, line, "OK")
}

func TestVerdictLine_SortsFailedTests(t *testing.T) {
	report := successReport()
	report.Tests["stress"] = model.ScenarioReport{}
	report.Tests["boot"] = model.ScenarioReport{}
	report.Tests["arping"] = model.ScenarioReport{}

	// Map iteration order is non-deterministic; run repeatedly so an
	// unsorted join would eventually produce a mismatched order.
	for i := 0; i < 20; i++ {
		line := verdictLine("/p/aa111111.patch", "aa111111", report)
		assert.Equal(t, "aa111111;/p/aa111111.patch;arping,boot,stress\n", line)
	}
}

func TestPrinter_Print_NoReportsDir(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{Results: &buf}

	require.NoError(t, p.Print("/p/aa111111.patch", successReport()))
	assert.Equal(t, "aa111111;/p/aa111111.patch;OK\n", buf.String())
}

func TestPrinter_Print_WritesYAMLReport(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	p := &Printer{Results: &buf, ReportsDir: dir, Format: FormatYAML}

	require.NoError(t, p.Print("/p/aa111111.patch", successReport()))

	data, err := os.ReadFile(filepath.Join(dir, "aa111111.yaml"))
	require.NoError(t, err)

	var decoded model.RunReport
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.True(t, decoded.Build.Success())
}

func TestPrinter_Print_WritesJSONReport(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	p := &Printer{Results: &buf, ReportsDir: dir, Format: FormatJSON}

	require.NoError(t, p.Print("/p/aa111111.patch", successReport()))

	_, err := os.Stat(filepath.Join(dir, "aa111111.json"))
	require.NoError(t, err)
}
