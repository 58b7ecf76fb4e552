package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counts runs" }
func (j *countingJob) Run(context.Context) error {
	j.runs++
	return j.err
}

func TestIntervalScheduleNext(t *testing.T) {
	s := Every(15 * time.Minute)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, at.Add(15*time.Minute), s.Next(at))
	assert.Equal(t, "@every 15m0s", s.String())
}

func TestDailyScheduleNext(t *testing.T) {
	s := DailyAt(3, 30)

	before := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 3, 30, 0, 0, time.UTC), s.Next(before))

	after := time.Date(2026, 3, 2, 4, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 3, 30, 0, 0, time.UTC), s.Next(after))

	exactly := time.Date(2026, 3, 2, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 3, 30, 0, 0, time.UTC), s.Next(exactly))
}

func TestParseCronRejectsMalformedExpressions(t *testing.T) {
	cases := []string{
		"",
		"* * * *",
		"61 * * * *",
		"* 25 * * *",
		"*/0 * * * *",
		"a * * * *",
	}
	for _, expr := range cases {
		_, err := ParseCron(expr)
		assert.Error(t, err, "expression %q should not parse", expr)
	}
}

func TestCronScheduleNext(t *testing.T) {
	daily, err := ParseCron("0 3 * * *")
	require.NoError(t, err)

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC), daily.Next(at))

	everyFive, err := ParseCron("*/5 * * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC), everyFive.Next(at))

	sunday, err := ParseCron("0 0 * * 0")
	require.NoError(t, err)
	next := sunday.Next(at)
	assert.Equal(t, time.Weekday(0), next.Weekday())
	assert.Equal(t, 0, next.Hour())
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	s := New(nil, time.UTC)
	job := &countingJob{name: "sweep"}

	require.NoError(t, s.Register(job, Every(time.Hour)))
	err := s.Register(&countingJob{name: "sweep"}, Every(time.Hour))
	assert.ErrorIs(t, err, ErrJobAlreadyExists)
}

func TestRegisterRejectsNil(t *testing.T) {
	s := New(nil, time.UTC)
	assert.ErrorIs(t, s.Register(nil, Every(time.Hour)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "x"}, nil), ErrNilSchedule)
}

func TestRunNowExecutesAndRecords(t *testing.T) {
	s := New(nil, time.UTC)
	job := &countingJob{name: "sweep"}
	require.NoError(t, s.Register(job, Every(time.Hour)))

	result, err := s.RunNow(context.Background(), "sweep")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, job.runs)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, "sweep", infos[0].Name)
	require.NotNil(t, infos[0].LastResult)
	assert.True(t, infos[0].LastResult.Success)
}

func TestRunNowSurfacesJobError(t *testing.T) {
	s := New(nil, time.UTC)
	boom := errors.New("boom")
	require.NoError(t, s.Register(&countingJob{name: "sweep", err: boom}, Every(time.Hour)))

	result, err := s.RunNow(context.Background(), "sweep")
	assert.ErrorIs(t, err, boom)
	assert.False(t, result.Success)
}

func TestRunNowUnknownJob(t *testing.T) {
	s := New(nil, time.UTC)
	_, err := s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSetEnabledUnknownJob(t *testing.T) {
	s := New(nil, time.UTC)
	assert.ErrorIs(t, s.SetEnabled("missing", false), ErrJobNotFound)
}

func TestStartStopLifecycle(t *testing.T) {
	s := New(nil, time.UTC)
	require.NoError(t, s.Register(&countingJob{name: "sweep"}, Every(time.Hour)))

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}
