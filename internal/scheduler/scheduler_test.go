package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blaahhrrgg/equity-risk-model/pkg/logger"
)

// countingJob 실패 횟수만큼 에러 후 성공
type countingJob struct {
	name     string
	schedule string
	failures int32
	calls    atomic.Int32
}

func (j *countingJob) Name() string     { return j.name }
func (j *countingJob) Schedule() string { return j.schedule }

func (j *countingJob) Run(ctx context.Context) error {
	if j.calls.Add(1) <= j.failures {
		return errors.New("transient")
	}
	return nil
}

func TestAddJob(t *testing.T) {
	s := New(logger.Nop())

	require.NoError(t, s.AddJob(&countingJob{name: "a", schedule: "@daily"}))
	require.NoError(t, s.AddJob(&countingJob{name: "b", schedule: "0 0 18 * * 1-5"}))
	assert.Equal(t, []string{"a", "b"}, s.GetAllJobs())

	assert.Error(t, s.AddJob(&countingJob{name: "a", schedule: "@daily"}), "duplicate")
	assert.Error(t, s.AddJob(&countingJob{name: "c", schedule: "not a schedule"}))

	require.NoError(t, s.RemoveJob("a"))
	assert.Equal(t, []string{"b"}, s.GetAllJobs())
	assert.Error(t, s.RemoveJob("a"))
}

func TestRunJob_Retry(t *testing.T) {
	s := New(logger.Nop(), WithRetry(2, time.Millisecond))
	job := &countingJob{name: "flaky", schedule: "@daily", failures: 2}
	require.NoError(t, s.AddJob(job))

	res, err := s.RunJob(context.Background(), "flaky")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)

	history, err := s.GetJobHistory("flaky")
	require.NoError(t, err)
	assert.Len(t, history.Results, 1)
	assert.Equal(t, 1.0, history.GetSuccessRate())
}

func TestRunJob_Exhausted(t *testing.T) {
	s := New(logger.Nop(), WithRetry(1, time.Millisecond))
	require.NoError(t, s.AddJob(&countingJob{name: "broken", schedule: "@daily", failures: 10}))

	res, err := s.RunJob(context.Background(), "broken")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "transient", res.Error)

	stats := s.GetJobStats()["broken"]
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.FailureCount)
	assert.NotNil(t, stats.LastRun)

	_, err = s.RunJob(context.Background(), "missing")
	assert.Error(t, err)
}

func TestRunJob_CancelledStopsRetrying(t *testing.T) {
	s := New(logger.Nop(), WithRetry(5, time.Hour))
	job := &countingJob{name: "broken", schedule: "@daily", failures: 10}
	require.NoError(t, s.AddJob(job))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res, err := s.RunJob(ctx, "broken")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Less(t, res.Attempts, 6)
}

func TestStartStop(t *testing.T) {
	s := New(logger.Nop(), WithRetry(0, time.Millisecond))
	job := &countingJob{name: "tick", schedule: "@every 1s"}
	require.NoError(t, s.AddJob(job))

	s.Start()
	assert.Eventually(t, func() bool { return job.calls.Load() > 0 }, 3*time.Second, 10*time.Millisecond)
	s.Stop()

	stats := s.GetJobStats()["tick"]
	assert.GreaterOrEqual(t, stats.TotalRuns, 1)
}

func TestJobHistory(t *testing.T) {
	h := &JobHistory{}
	assert.Equal(t, 0.0, h.GetSuccessRate())
	assert.Empty(t, h.GetLatestResults(5))

	for i := 0; i < maxHistory+10; i++ {
		h.AddResult(JobResult{Success: i%2 == 0})
	}
	assert.Len(t, h.Results, maxHistory)
	assert.Len(t, h.GetLatestResults(3), 3)
	assert.InDelta(t, 0.5, h.GetSuccessRate(), 1e-12)
}
