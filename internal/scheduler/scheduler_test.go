package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlas-quant/strategy-pipeline/internal/scheduler"
	"github.com/atlas-quant/strategy-pipeline/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeJob struct {
	name string
	err  error
	runs int
}

func (j *fakeJob) Name() string { return j.name }
func (j *fakeJob) Run(ctx context.Context) error {
	j.runs++
	return j.err
}

func TestRunNowRecordsSuccessfulExecution(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := scheduler.New(st.ScheduledTask, zap.NewNop())
	job := &fakeJob{name: "test_job"}
	s.RunNow(context.Background(), job)

	assert.Equal(t, 1, job.runs)
}

func TestRunNowRecordsFailedExecution(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := scheduler.New(st.ScheduledTask, zap.NewNop())
	job := &fakeJob{name: "failing_job", err: errors.New("boom")}
	assert.NotPanics(t, func() { s.RunNow(context.Background(), job) })
	assert.Equal(t, 1, job.runs)
}

func TestAddJobRegistersAndEventuallyRuns(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := scheduler.New(st.ScheduledTask, zap.NewNop())
	job := &fakeJob{name: "periodic_job"}
	require.NoError(t, s.AddJob(context.Background(), "@every 20ms", job))

	s.Start()
	defer s.Stop()
	time.Sleep(100 * time.Millisecond)

	assert.GreaterOrEqual(t, job.runs, 1)
}

func TestAddJobRejectsInvalidSchedule(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := scheduler.New(st.ScheduledTask, zap.NewNop())
	err = s.AddJob(context.Background(), "not a valid cron spec !!!", &fakeJob{name: "bad"})
	assert.Error(t, err)
}
