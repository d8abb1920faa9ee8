// Package suiteconfig parses the harness's suite configuration file:
// user/password/timeouts, a build Scenario, and a named map of test
// Scenarios, each expressed as nested lists of tagged-union Steps.
// Defaults are filled into the wire struct before parsing, then a resolve
// pass canonicalises relative paths and rejects unknown step types.
package suiteconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"patchgrader/internal/model"
)

// wireStep mirrors the tagged-union Step: exactly one of the
// type-specific field groups is meaningful, selected by Type.
type wireStep struct {
	Type      string `yaml:"type" json:"type"`
	From      string `yaml:"from,omitempty" json:"from,omitempty"`
	To        string `yaml:"to,omitempty" json:"to,omitempty"`
	Mode      *int   `yaml:"mode,omitempty" json:"mode,omitempty"`
	Command   string `yaml:"command,omitempty" json:"command,omitempty"`
	TimeoutMs *int64 `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

type wireScenario struct {
	Retries *int         `yaml:"retries,omitempty" json:"retries,omitempty"`
	Steps   [][]wireStep `yaml:"steps" json:"steps"`
}

type wireConfig struct {
	User              string                  `yaml:"user,omitempty" json:"user,omitempty"`
	Password          string                  `yaml:"password,omitempty" json:"password,omitempty"`
	SSHTimeoutMs      int64                   `yaml:"ssh_timeout_ms,omitempty" json:"ssh_timeout_ms,omitempty"`
	PoweroffTimeoutMs int64                   `yaml:"poweroff_timeout_ms,omitempty" json:"poweroff_timeout_ms,omitempty"`
	PoweroffCommand   string                  `yaml:"poweroff_command,omitempty" json:"poweroff_command,omitempty"`
	Retries           int                     `yaml:"retries" json:"retries"`
	StepTimeoutMs     int64                   `yaml:"step_timeout_ms,omitempty" json:"step_timeout_ms,omitempty"`
	FileMode          int                     `yaml:"file_mode,omitempty" json:"file_mode,omitempty"`
	OutputLimit       *int64                  `yaml:"output_limit,omitempty" json:"output_limit,omitempty"`
	Build             *wireScenario           `yaml:"build,omitempty" json:"build,omitempty"`
	Tests             map[string]wireScenario `yaml:"tests" json:"tests"`
}

func defaultValues() wireConfig {
	return wireConfig{
		User:              "root",
		Password:          "password",
		SSHTimeoutMs:      20000,
		PoweroffTimeoutMs: 20000,
		PoweroffCommand:   "/sbin/poweroff",
		Retries:           3,
		StepTimeoutMs:     5000,
		FileMode:          0o777,
	}
}

// Suite is the fully resolved suite configuration: model-ready run config
// plus the suite file's own directory, needed to canonicalise file_transfer
// sources. It also retains the parsed wire-format struct and the
// extension it was loaded from, so it can be reserialised.
type Suite struct {
	Run   model.RunConfig
	build wireScenario
	tests map[string]wireScenario
	dir   string

	cfg wireConfig
	ext string
}

// LoadFile reads and parses filename, choosing YAML or JSON by its
// extension (".json" selects JSON; anything else is parsed as YAML, since
// YAML is a superset of JSON).
func LoadFile(filename string) (*Suite, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("suiteconfig: read %v: %w", filename, err)
	}
	return loadData(data, filepath.Ext(filename), filepath.Dir(filename))
}

func loadData(data []byte, ext, dir string) (*Suite, error) {
	cfg := defaultValues()

	var err error
	if strings.EqualFold(ext, ".json") {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("suiteconfig: parse: %w", err)
	}

	if cfg.Tests == nil {
		cfg.Tests = make(map[string]wireScenario)
	}
	build := wireScenario{}
	if cfg.Build != nil {
		build = *cfg.Build
	}
	cfg.Build = &build

	run := model.RunConfig{
		User:              cfg.User,
		Password:          cfg.Password,
		ConnectionTimeout: time.Duration(cfg.SSHTimeoutMs) * time.Millisecond,
		PoweroffTimeout:   time.Duration(cfg.PoweroffTimeoutMs) * time.Millisecond,
		PoweroffCommand:   cfg.PoweroffCommand,
		OutputLimit:       cfg.OutputLimit,
	}

	s := &Suite{Run: run, build: build, tests: cfg.Tests, dir: dir, cfg: cfg, ext: ext}

	var resolveErr error
	s.Run.Build, resolveErr = s.resolveScenario(build, cfg.Retries, cfg.StepTimeoutMs)
	if resolveErr != nil {
		return nil, resolveErr
	}
	s.Run.Tests = make(map[string]model.Scenario, len(cfg.Tests))
	for name, ws := range cfg.Tests {
		sc, err := s.resolveScenario(ws, cfg.Retries, cfg.StepTimeoutMs)
		if err != nil {
			return nil, fmt.Errorf("suiteconfig: test %q: %w", name, err)
		}
		s.Run.Tests[name] = sc
	}

	return s, nil
}

// MarshalWire reserialises the suite's parsed wire-format configuration,
// using the same extension that selected its parser in LoadFile. Parsing
// the result again reproduces a Suite with identical Run, build, and test
// content.
func (s *Suite) MarshalWire() ([]byte, error) {
	if strings.EqualFold(s.ext, ".json") {
		data, err := json.MarshalIndent(s.cfg, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("suiteconfig: marshal: %w", err)
		}
		return data, nil
	}
	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("suiteconfig: marshal: %w", err)
	}
	return data, nil
}

// resolveScenario converts a wireScenario into a model.Scenario, resolving
// every step's action. A step's From (file_transfer) is canonicalised
// against the suite file's directory; a patch_transfer step is left as a
// placeholder action whose From is filled in per-patch by Resolve.
func (s *Suite) resolveScenario(ws wireScenario, defaultRetries int, defaultTimeoutMs int64) (model.Scenario, error) {
	retries := defaultRetries
	if ws.Retries != nil {
		retries = *ws.Retries
	}

	phases := make([]model.Phase, 0, len(ws.Steps))
	for _, wsteps := range ws.Steps {
		phase := make(model.Phase, 0, len(wsteps))
		for _, step := range wsteps {
			timeoutMs := defaultTimeoutMs
			if step.TimeoutMs != nil {
				timeoutMs = *step.TimeoutMs
			}
			timeout := time.Duration(timeoutMs) * time.Millisecond

			action, err := s.resolveAction(step)
			if err != nil {
				return model.Scenario{}, err
			}
			phase = append(phase, model.Step{Action: action, Timeout: timeout})
		}
		phases = append(phases, phase)
	}

	return model.Scenario{Retries: retries, Phases: phases}, nil
}

// patchPlaceholder marks a Step whose From field must be substituted with
// the concrete patch path by Resolve, before the scenario is ever run.
const patchPlaceholder = "\x00patch\x00"

func (s *Suite) resolveAction(step wireStep) (model.Action, error) {
	switch step.Type {
	case "command":
		return model.Exec(step.Command), nil
	case "file_transfer":
		from := step.From
		if !filepath.IsAbs(from) {
			from = filepath.Join(s.dir, from)
		}
		from, err := filepath.Abs(from)
		if err != nil {
			return model.Action{}, fmt.Errorf("suiteconfig: resolve %v: %w", step.From, err)
		}
		return model.Send(from, step.To), nil
	case "patch_transfer":
		return model.Send(patchPlaceholder, step.To), nil
	default:
		return model.Action{}, fmt.Errorf("suiteconfig: unknown step type %q", step.Type)
	}
}

// Resolve substitutes patchPath into every patch_transfer step's action,
// returning a RunConfig ready to drive scenario.Runner.
func (s *Suite) Resolve(patchPath string) model.RunConfig {
	run := s.Run
	run.Build = resolveScenarioPatch(run.Build, patchPath)
	run.Tests = make(map[string]model.Scenario, len(s.Run.Tests))
	for name, sc := range s.Run.Tests {
		run.Tests[name] = resolveScenarioPatch(sc, patchPath)
	}
	return run
}

func resolveScenarioPatch(sc model.Scenario, patchPath string) model.Scenario {
	phases := make([]model.Phase, len(sc.Phases))
	for i, phase := range sc.Phases {
		resolved := make(model.Phase, len(phase))
		for j, step := range phase {
			if step.Action.Kind == model.ActionSend && step.Action.From == patchPlaceholder {
				step.Action.From = patchPath
			}
			resolved[j] = step
		}
		phases[i] = resolved
	}
	return model.Scenario{Retries: sc.Retries, Phases: phases}
}
