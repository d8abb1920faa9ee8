package suiteconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchgrader/internal/model"
)

const sampleYAML = `
user: tester
ssh_timeout_ms: 1000
retries: 2
build:
  steps:
    - - type: patch_transfer
        to: /tmp/patch.diff
      - type: command
        command: make
tests:
  boot:
    retries: 0
    steps:
      - - type: file_transfer
          from: payload.bin
          to: /tmp/payload.bin
`

func TestLoadFile_YAML(t *testing.T) {
	dir := t.TempDir()
	suitePath := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(suitePath, []byte(sampleYAML), 0o644))

	suite, err := LoadFile(suitePath)
	require.NoError(t, err)

	assert.Equal(t, "tester", suite.Run.User)
	assert.Equal(t, "password", suite.Run.Password) // default preserved
	assert.Equal(t, 2, suite.Run.Build.Retries)
	require.Len(t, suite.Run.Build.Phases, 1)
	require.Len(t, suite.Run.Build.Phases[0], 2)

	boot, ok := suite.Run.Tests["boot"]
	require.True(t, ok)
	assert.Equal(t, 0, boot.Retries)

	fileStep := boot.Phases[0][0]
	assert.Equal(t, model.ActionSend, fileStep.Action.Kind)
	assert.Equal(t, filepath.Join(dir, "payload.bin"), fileStep.Action.From)
}

func TestSuite_Resolve_SubstitutesPatchPath(t *testing.T) {
	dir := t.TempDir()
	suitePath := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(suitePath, []byte(sampleYAML), 0o644))

	suite, err := LoadFile(suitePath)
	require.NoError(t, err)

	run := suite.Resolve("/patches/aa111111.patch")
	patchStep := run.Build.Phases[0][0]
	assert.Equal(t, "/patches/aa111111.patch", patchStep.Action.From)

	// The unresolved suite itself must be left untouched for the next patch.
	assert.NotEqual(t, "/patches/aa111111.patch", suite.Run.Build.Phases[0][0].Action.From)
}

func TestLoadFile_JSON(t *testing.T) {
	dir := t.TempDir()
	suitePath := filepath.Join(dir, "suite.json")
	data := `{"user": "root", "build": {"steps": []}, "tests": {}}`
	require.NoError(t, os.WriteFile(suitePath, []byte(data), 0o644))

	suite, err := LoadFile(suitePath)
	require.NoError(t, err)
	assert.Equal(t, "root", suite.Run.User)
	assert.Empty(t, suite.Run.Build.Phases)
}

func TestSuite_MarshalWire_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	suitePath := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(suitePath, []byte(sampleYAML), 0o644))

	suite, err := LoadFile(suitePath)
	require.NoError(t, err)

	data, err := suite.MarshalWire()
	require.NoError(t, err)

	reparsed, err := loadData(data, suite.ext, suite.dir)
	require.NoError(t, err)

	assert.Equal(t, suite.Run, reparsed.Run)
	assert.Equal(t, suite.build, reparsed.build)
	assert.Equal(t, suite.tests, reparsed.tests)
}

func TestSuite_MarshalWire_RoundTrip_JSON(t *testing.T) {
	dir := t.TempDir()
	suitePath := filepath.Join(dir, "suite.json")
	data := `{"user": "root", "build": {"steps": []}, "tests": {}}`
	require.NoError(t, os.WriteFile(suitePath, []byte(data), 0o644))

	suite, err := LoadFile(suitePath)
	require.NoError(t, err)

	marshaled, err := suite.MarshalWire()
	require.NoError(t, err)

	reparsed, err := loadData(marshaled, suite.ext, suite.dir)
	require.NoError(t, err)

	assert.Equal(t, suite.Run, reparsed.Run)
}

func TestResolveAction_UnknownType(t *testing.T) {
	s := &Suite{dir: "."}
	_, err := s.resolveAction(wireStep{Type: "bogus"})
	assert.Error(t, err)
}
