package stats

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchgrader/internal/model"
)

func okAttempt() model.Attempt {
	return model.Attempt{
		Image: "overlay.qcow2",
		Reports: []model.ExecutorReport{
			{
				SSHConnected: true,
				ExitClean:    true,
				Actions: []model.ActionReport{
					{Elapsed: 2 * time.Second, Outcome: model.Outcome{Kind: model.OutcomeFinished, ExitCode: 0}},
				},
			},
		},
	}
}

func failedAttempt() model.Attempt {
	return model.Attempt{
		Image: "overlay.qcow2",
		Reports: []model.ExecutorReport{
			{
				SSHConnected: true,
				ExitClean:    true,
				Actions: []model.ActionReport{
					{Elapsed: time.Second, Outcome: model.Outcome{Kind: model.OutcomeFinished, ExitCode: 1}},
				},
			},
		},
	}
}

func TestStats_Update_Success(t *testing.T) {
	s := New(nil)

	report := &model.RunReport{
		Build: model.ScenarioReport{Attempts: []model.Attempt{okAttempt()}},
		Tests: map[string]model.ScenarioReport{
			"boot":   {Attempts: []model.Attempt{okAttempt()}},
			"stress": {Attempts: []model.Attempt{failedAttempt()}},
		},
	}

	s.Update("/patches/aa111111.patch", report, nil)

	assert.Equal(t, 1, s.Solutions())
	assert.Equal(t, 0, s.BuildsFailed())
	assert.Equal(t, map[string]int{"stress": 1}, s.TestFailures())
	assert.Empty(t, s.InternalErrors())
}

func TestStats_Update_BuildFailure(t *testing.T) {
	s := New(nil)

	report := &model.RunReport{
		Build: model.ScenarioReport{Attempts: []model.Attempt{failedAttempt()}},
	}
	s.Update("/patches/aa111111.patch", report, nil)

	assert.Equal(t, 1, s.Solutions())
	assert.Equal(t, 1, s.BuildsFailed())
	assert.Empty(t, s.TestFailures())
}

func TestStats_Update_FrameworkError(t *testing.T) {
	s := New(nil)

	s.Update("/patches/aa111111.patch", nil, errors.New("boom"))

	assert.Equal(t, 1, s.Solutions())
	assert.Equal(t, 0, s.BuildsFailed())
	require.Len(t, s.InternalErrors(), 1)
	assert.Equal(t, "aa111111.patch", s.InternalErrors()[0])
}

func TestStats_RecordReportSaveFailure(t *testing.T) {
	s := New(nil)

	s.RecordReportSaveFailure()
	s.RecordReportSaveFailure()

	assert.Equal(t, 2, s.ReportSaveFailures())
}

func TestStats_AttemptDurationQuantile(t *testing.T) {
	s := New(nil)
	report := &model.RunReport{
		Build: model.ScenarioReport{Attempts: []model.Attempt{okAttempt()}},
	}
	s.Update("/patches/aa111111.patch", report, nil)

	// A single 2-second sample: every quantile collapses to that sample.
	assert.InDelta(t, 2.0, s.AttemptDurationQuantile(0.5), 0.5)
}
