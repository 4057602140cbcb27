package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"assessapp/internal/config"
	"assessapp/internal/observability"
	"assessapp/internal/services"
	contextutils "assessapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockTestService struct {
	services.TestServiceInterface
	mock.Mock
}

func (m *mockTestService) SweepStaleAttempts(ctx context.Context, maxAge time.Duration) (int, error) {
	args := m.Called(ctx, maxAge)
	return args.Int(0), args.Error(1)
}

func (m *mockTestService) RescorePendingAnswers(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

type mockGamificationService struct {
	services.GamificationServiceInterface
	mock.Mock
}

func (m *mockGamificationService) RefreshLeaderboard(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type countingTrigger struct {
	n atomic.Int32
}

func (c *countingTrigger) Trigger() { c.n.Add(1) }

func newTestScheduler(t *testing.T, cfg config.GamificationConfig) (*Scheduler, *mockTestService, *mockGamificationService, *countingTrigger) {
	t.Helper()
	tests := &mockTestService{}
	gam := &mockGamificationService{}
	trig := &countingTrigger{}
	s, err := NewScheduler(tests, gam, trig, cfg, &observability.Logger{Logger: zap.NewNop()})
	require.NoError(t, err)
	return s, tests, gam, trig
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewScheduler(&mockTestService{}, &mockGamificationService{}, nil,
		config.GamificationConfig{LeaderboardSchedule: "every now and then"},
		&observability.Logger{Logger: zap.NewNop()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, contextutils.ErrInvalidInput))
}

func TestScheduler_RunJob(t *testing.T) {
	s, tests, gam, trig := newTestScheduler(t, config.GamificationConfig{StaleAttemptMaxAge: 2 * time.Hour})
	ctx := context.Background()

	gam.On("RefreshLeaderboard", mock.Anything).Return(4, nil).Once()
	rec, err := s.RunJob(ctx, JobLeaderboard)
	require.NoError(t, err)
	assert.Equal(t, "Success", rec.Status)
	assert.Equal(t, "ranked 4 users", rec.Details)
	assert.True(t, rec.Manual)

	tests.On("SweepStaleAttempts", mock.Anything, 2*time.Hour).Return(3, nil).Once()
	rec, err = s.RunJob(ctx, JobStaleAttempts)
	require.NoError(t, err)
	assert.Equal(t, "closed 3 stale attempts", rec.Details)
	assert.Equal(t, int32(1), trig.n.Load())

	tests.On("RescorePendingAnswers", mock.Anything, rescoreBatchSize).Return(0, nil).Once()
	_, err = s.RunJob(ctx, JobRescorePending)
	require.NoError(t, err)
	assert.Equal(t, int32(1), trig.n.Load(), "nothing rescored, no dashboard push")

	_, err = s.RunJob(ctx, "nope")
	assert.True(t, errors.Is(err, contextutils.ErrRecordNotFound))

	assert.Len(t, s.GetHistory(), 3)
	tests.AssertExpectations(t)
	gam.AssertExpectations(t)
}

func TestScheduler_FailureIsRecorded(t *testing.T) {
	s, _, gam, _ := newTestScheduler(t, config.GamificationConfig{})
	gam.On("RefreshLeaderboard", mock.Anything).Return(0, errors.New("db down")).Once()

	rec, err := s.RunJob(context.Background(), JobLeaderboard)
	require.Error(t, err)
	assert.Equal(t, "Failure", rec.Status)

	var found bool
	for _, js := range s.GetStatus().Jobs {
		if js.Name == JobLeaderboard {
			found = true
			assert.Equal(t, "db down", js.LastRunError)
			assert.False(t, js.IsRunning)
		}
	}
	assert.True(t, found)
}

func TestScheduler_PauseSkipsScheduledRuns(t *testing.T) {
	s, _, _, _ := newTestScheduler(t, config.GamificationConfig{})
	ctx := context.Background()
	s.Pause(ctx)
	assert.True(t, s.GetStatus().IsPaused)

	rec := s.execute(ctx, s.jobs[JobLeaderboard], false)
	assert.Equal(t, "Skipped", rec.Status)
	assert.Empty(t, s.GetHistory())

	s.Resume(ctx)
	assert.False(t, s.GetStatus().IsPaused)
}

func TestScheduler_StartStop(t *testing.T) {
	s, tests, gam, _ := newTestScheduler(t, config.GamificationConfig{
		LeaderboardSchedule:  "@every 1s",
		StaleAttemptSchedule: "@every 1h",
	})
	tests.On("SweepStaleAttempts", mock.Anything, mock.Anything).Return(0, nil).Maybe()
	tests.On("RescorePendingAnswers", mock.Anything, mock.Anything).Return(0, nil).Maybe()
	gam.On("RefreshLeaderboard", mock.Anything).Return(1, nil)

	ctx := context.Background()
	s.Start(ctx)
	st := s.GetStatus()
	assert.True(t, st.IsRunning)
	require.Len(t, st.Jobs, 3)

	require.Eventually(t, func() bool { return len(s.GetHistory()) > 0 }, 3*time.Second, 50*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.False(t, s.GetStatus().IsRunning)
	require.NoError(t, s.Stop(stopCtx), "stopping twice is fine")
}
