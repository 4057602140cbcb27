package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"assessapp/internal/ai"
	"assessapp/internal/config"
	"assessapp/internal/database"
	"assessapp/internal/models"
	"assessapp/internal/observability"
	"assessapp/internal/scoring"
	"assessapp/internal/storage"
	"assessapp/internal/uploads"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *observability.Logger {
	return &observability.Logger{Logger: zap.NewNop()}
}

func newTestStore(t *testing.T) *storage.GormStore {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return storage.NewGormStore(gdb, testLogger())
}

// recordingPublisher captures activity events
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ActivityEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e models.ActivityEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// recordingNotifier captures notifications, which arrive asynchronously
type recordingNotifier struct {
	mu     sync.Mutex
	badges []string
	levels []int
}

func (n *recordingNotifier) BadgeEarned(_ context.Context, _ *models.User, b models.Badge) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.badges = append(n.badges, b.Code)
	return nil
}

func (n *recordingNotifier) LevelUp(_ context.Context, _ *models.User, level int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.levels = append(n.levels, level)
	return nil
}

func (n *recordingNotifier) badgeCodes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.badges...)
}

// fakeGrader returns a fixed evaluation or error
type fakeGrader struct {
	mu    sync.Mutex
	score int
	err   error
	calls int
}

func (g *fakeGrader) Evaluate(_ context.Context, in ai.EvaluationInput) (*ai.ContentEvaluation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &ai.ContentEvaluation{
		Score:        g.score,
		Feedback:     "graded " + in.QuestionType,
		Strengths:    []string{"on topic"},
		Improvements: []string{"add detail"},
	}, nil
}

func (g *fakeGrader) set(score int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.score, g.err = score, err
}

// fakeClassifier returns fixed emotion labels or an error
type fakeClassifier struct {
	labels []scoring.EmotionLabel
	err    error
}

func (c *fakeClassifier) Classify(context.Context, string) ([]scoring.EmotionLabel, error) {
	return c.labels, c.err
}

type fixture struct {
	store        *storage.GormStore
	grader       *fakeGrader
	activity     *recordingPublisher
	notifier     *recordingNotifier
	media        *uploads.MediaStore
	gamification *GamificationService
	assessment   *AssessmentService
	tests        *TestService
	learning     *LearningService
	users        *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newTestStore(t)
	f := &fixture{
		store:    store,
		grader:   &fakeGrader{score: 80},
		activity: &recordingPublisher{},
		notifier: &recordingNotifier{},
	}

	blobs, err := uploads.NewFSStore(t.TempDir())
	require.NoError(t, err)
	f.media = uploads.NewMediaStore(blobs, config.UploadsConfig{
		MaxBytes:          1 << 20,
		VideoContentTypes: []string{"video/webm"},
		PhotoContentTypes: []string{"image/png", "image/jpeg"},
	}, testLogger())

	f.gamification = NewGamificationServiceWithLogger(store, f.notifier, f.activity, testLogger())
	require.NoError(t, f.gamification.SeedBadges(context.Background()))
	f.assessment = NewAssessmentServiceWithLogger(f.grader, nil, testLogger())
	f.tests = NewTestServiceWithLogger(store, f.assessment, f.gamification, f.media, f.activity, nil, testLogger())
	f.learning = NewLearningServiceWithLogger(store, f.gamification, f.activity, testLogger())
	f.users = NewUserServiceWithLogger(store, f.activity, testLogger())
	return f
}

// at pins the clock of every service
func (f *fixture) at(now time.Time) {
	clock := func() time.Time { return now }
	f.gamification.now = clock
	f.tests.now = clock
	f.learning.now = clock
	f.users.now = clock
}

func (f *fixture) user(t *testing.T, username string) *models.User {
	t.Helper()
	u, err := f.users.CreateUser(context.Background(), username, "password123", "", models.RoleUser)
	require.NoError(t, err)
	return u
}

func (f *fixture) stats(t *testing.T, userID uint) *models.UserStats {
	t.Helper()
	st, err := f.store.GetOrCreateUserStats(context.Background(), userID)
	require.NoError(t, err)
	return st
}
