package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"assessapp/internal/models"
	"assessapp/internal/storage"
	"assessapp/internal/uploads"
	contextutils "assessapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTest(t *testing.T, f *fixture, timeLimit int, published bool, types ...models.QuestionType) *models.Test {
	t.Helper()
	req := &models.CreateTestRequest{
		Title:            "Go fundamentals",
		TimeLimitMinutes: timeLimit,
		IsPublished:      published,
	}
	for _, qt := range types {
		q := models.CreateQuestionRequest{Type: qt, Prompt: "Prompt for " + string(qt)}
		if qt == models.QuestionMultipleChoice {
			q.Options = []string{"a", "b", "c"}
			q.CorrectOption = intPtr(1)
		}
		req.Questions = append(req.Questions, q)
	}
	test, err := f.tests.CreateTest(context.Background(), 1, req)
	require.NoError(t, err)
	return test
}

func questionOf(t *testing.T, test *models.Test, qt models.QuestionType) models.Question {
	t.Helper()
	for _, q := range test.Questions {
		if q.Type == qt {
			return q
		}
	}
	t.Fatalf("test has no %s question", qt)
	return models.Question{}
}

func webm(body string) *uploads.Media {
	return &uploads.Media{Filename: "answer.webm", ContentType: "video/webm", Size: int64(len(body)), Body: bytes.NewReader([]byte(body))}
}

func TestTestService_CreateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	test := createTest(t, f, 0, true, models.QuestionMultipleChoice, models.QuestionShortAnswer)
	assert.Equal(t, DefaultPassingScore, test.PassingScore)
	require.Len(t, test.Questions, 2)
	assert.Equal(t, 1, test.Questions[0].Position)
	assert.Equal(t, 2, test.Questions[1].Position)

	learner, err := f.tests.GetTest(ctx, test.ID, false)
	require.NoError(t, err)
	for _, q := range learner.Questions {
		assert.Nil(t, q.CorrectOption)
		assert.Empty(t, q.ExpectedAnswer)
	}

	admin, err := f.tests.GetTest(ctx, test.ID, true)
	require.NoError(t, err)
	assert.NotNil(t, questionOf(t, admin, models.QuestionMultipleChoice).CorrectOption)

	_, err = f.tests.CreateTest(ctx, 1, &models.CreateTestRequest{
		Title:     "bad",
		Questions: []models.CreateQuestionRequest{{Type: models.QuestionMultipleChoice, Prompt: "?", Options: []string{"only"}}},
	})
	assert.Error(t, err)

	missingTopic := uint(999)
	_, err = f.tests.CreateTest(ctx, 1, &models.CreateTestRequest{Title: "t", TopicID: &missingTopic})
	assert.True(t, errors.Is(err, contextutils.ErrInvalidInput))
}

func TestTestService_UpdateTestAndQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	test := createTest(t, f, 0, false, models.QuestionShortAnswer)

	title := "Renamed"
	published := true
	updated, err := f.tests.UpdateTest(ctx, test.ID, &models.UpdateTestRequest{Title: &title, IsPublished: &published})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.True(t, updated.IsPublished)

	q, err := f.tests.AddQuestion(ctx, test.ID, &models.CreateQuestionRequest{Type: models.QuestionPhotoUpload, Prompt: "Show your diagram"})
	require.NoError(t, err)
	assert.Equal(t, 2, q.Position)

	prompt := "Show your architecture diagram"
	q, err = f.tests.UpdateQuestion(ctx, q.ID, &models.UpdateQuestionRequest{Prompt: &prompt})
	require.NoError(t, err)
	assert.Equal(t, prompt, q.Prompt)

	require.NoError(t, f.tests.DeleteQuestion(ctx, q.ID))
	got, err := f.tests.GetTest(ctx, test.ID, true)
	require.NoError(t, err)
	assert.Len(t, got.Questions, 1)

	require.NoError(t, f.tests.DeleteTest(ctx, test.ID))
	_, err = f.tests.GetTest(ctx, test.ID, true)
	assert.True(t, errors.Is(err, contextutils.ErrRecordNotFound))
}

func TestTestService_StartAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "alice")

	draft := createTest(t, f, 0, false, models.QuestionShortAnswer)
	_, _, err := f.tests.StartAttempt(ctx, u.ID, draft.ID)
	assert.True(t, errors.Is(err, contextutils.ErrForbidden))

	empty := createTest(t, f, 0, true)
	_, _, err = f.tests.StartAttempt(ctx, u.ID, empty.ID)
	assert.True(t, errors.Is(err, contextutils.ErrInvalidInput))

	test := createTest(t, f, 0, true, models.QuestionShortAnswer)
	first, resumed, err := f.tests.StartAttempt(ctx, u.ID, test.ID)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.Equal(t, models.AttemptInProgress, first.Status)

	again, resumed, err := f.tests.StartAttempt(ctx, u.ID, test.ID)
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, first.ID, again.ID)
	assert.Contains(t, f.activity.types(), models.ActivityAttemptStarted)

	attempts, err := f.tests.ListAttempts(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestTestService_SubmitAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "alice")
	test := createTest(t, f, 0, true, models.QuestionMultipleChoice, models.QuestionShortAnswer)
	mc := questionOf(t, test, models.QuestionMultipleChoice)
	sa := questionOf(t, test, models.QuestionShortAnswer)

	attempt, _, err := f.tests.StartAttempt(ctx, u.ID, test.ID)
	require.NoError(t, err)

	// wrong first, then replaced by the right option
	ans, err := f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: mc.ID, SelectedOption: intPtr(0)}, nil)
	require.NoError(t, err)
	assert.False(t, *ans.IsCorrect)
	assert.Equal(t, 0, *ans.Score)

	ans, err = f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: mc.ID, SelectedOption: intPtr(1)}, nil)
	require.NoError(t, err)
	assert.True(t, *ans.IsCorrect)
	assert.Equal(t, 100, *ans.Score)

	_, err = f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: mc.ID, SelectedOption: intPtr(5)}, nil)
	assert.True(t, errors.Is(err, contextutils.ErrInvalidInput))

	ans, err = f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: sa.ID, Content: "goroutines are cheap threads"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AnswerScored, ans.Status)
	assert.Equal(t, 80, *ans.Score)
	assert.Equal(t, 80, *ans.ContentScore)
	assert.Equal(t, []string{"on topic"}, []string(ans.Strengths))

	result, err := f.tests.CompleteAttempt(ctx, u.ID, attempt.ID)
	require.NoError(t, err)
	require.Len(t, result.Answers, 2)
	assert.Equal(t, models.AttemptCompleted, result.Attempt.Status)
	assert.Equal(t, 90, *result.Attempt.Score)
	assert.True(t, *result.Attempt.Passed)
	// 10 for the correct choice, 80/10 for the open answer, 50 completed, 50 passed
	assert.Equal(t, 118, result.Attempt.XPAwarded)
	assert.NotNil(t, questionOf(t, &result.Test, models.QuestionMultipleChoice).CorrectOption, "answer key is revealed after completion")

	st := f.stats(t, u.ID)
	assert.Equal(t, 118, st.XP)
	assert.Equal(t, 1, st.TestsCompleted)

	_, err = f.tests.CompleteAttempt(ctx, u.ID, attempt.ID)
	assert.True(t, errors.Is(err, contextutils.ErrAttemptClosed))
	_, err = f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: mc.ID, SelectedOption: intPtr(1)}, nil)
	assert.True(t, errors.Is(err, contextutils.ErrAttemptClosed))
	assert.Equal(t, 118, f.stats(t, u.ID).XP, "no XP for closed attempts")
}

// staleAttemptStore serves a snapshot of an attempt taken before it was closed
type staleAttemptStore struct {
	storage.Store
	snapshot models.Attempt
}

func (s staleAttemptStore) GetAttempt(context.Context, uint) (*models.Attempt, error) {
	attempt := s.snapshot
	return &attempt, nil
}

func TestTestService_CompleteAttemptLosesRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "alice")
	test := createTest(t, f, 0, true, models.QuestionMultipleChoice)
	mc := questionOf(t, test, models.QuestionMultipleChoice)

	attempt, _, err := f.tests.StartAttempt(ctx, u.ID, test.ID)
	require.NoError(t, err)
	_, err = f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: mc.ID, SelectedOption: intPtr(1)}, nil)
	require.NoError(t, err)

	snapshot, err := f.store.GetAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	require.True(t, snapshot.IsOpen())

	_, err = f.tests.CompleteAttempt(ctx, u.ID, attempt.ID)
	require.NoError(t, err)
	xp := f.stats(t, u.ID).XP

	// a second request read the attempt while it was still open
	racer := NewTestServiceWithLogger(staleAttemptStore{Store: f.store, snapshot: *snapshot},
		f.assessment, f.gamification, f.media, f.activity, nil, testLogger())
	_, err = racer.CompleteAttempt(ctx, u.ID, attempt.ID)
	assert.True(t, errors.Is(err, contextutils.ErrAttemptClosed), "got %v", err)

	st := f.stats(t, u.ID)
	assert.Equal(t, xp, st.XP)
	assert.Equal(t, 1, st.TestsCompleted)
}

func TestTestService_SubmitAnswerGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	test := createTest(t, f, 0, true, models.QuestionShortAnswer, models.QuestionVideoResponse)
	other := createTest(t, f, 0, true, models.QuestionShortAnswer)
	sa := questionOf(t, test, models.QuestionShortAnswer)

	attempt, _, err := f.tests.StartAttempt(ctx, alice.ID, test.ID)
	require.NoError(t, err)

	_, err = f.tests.SubmitAnswer(ctx, bob.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: sa.ID, Content: "x"}, nil)
	assert.True(t, errors.Is(err, contextutils.ErrForbidden))

	_, err = f.tests.SubmitAnswer(ctx, alice.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: other.Questions[0].ID, Content: "x"}, nil)
	assert.True(t, errors.Is(err, contextutils.ErrInvalidInput))

	_, err = f.tests.SubmitAnswer(ctx, alice.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: sa.ID, Content: " "}, nil)
	assert.True(t, errors.Is(err, contextutils.ErrMissingRequired))

	video := questionOf(t, test, models.QuestionVideoResponse)
	_, err = f.tests.SubmitAnswer(ctx, alice.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: video.ID, Transcript: "hi"}, nil)
	assert.True(t, errors.Is(err, contextutils.ErrMissingRequired))

	png := &uploads.Media{Filename: "a.png", ContentType: "image/png", Size: 3, Body: bytes.NewReader([]byte("png"))}
	_, err = f.tests.SubmitAnswer(ctx, alice.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: video.ID}, png)
	assert.True(t, errors.Is(err, contextutils.ErrUploadRejected))

	_, err = f.tests.SubmitAnswer(ctx, alice.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: sa.ID, Content: "x"}, webm("data"))
	assert.True(t, errors.Is(err, contextutils.ErrUploadRejected))
}

func TestTestService_TimeLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.at(start)
	u := f.user(t, "alice")
	test := createTest(t, f, 10, true, models.QuestionMultipleChoice)
	mc := test.Questions[0]

	attempt, _, err := f.tests.StartAttempt(ctx, u.ID, test.ID)
	require.NoError(t, err)
	_, err = f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: mc.ID, SelectedOption: intPtr(1)}, nil)
	require.NoError(t, err)

	f.at(start.Add(11 * time.Minute))
	_, err = f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: mc.ID, SelectedOption: intPtr(0)}, nil)
	assert.True(t, errors.Is(err, contextutils.ErrAttemptClosed))

	result, err := f.tests.GetAttemptResult(ctx, u.ID, attempt.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptCompleted, result.Attempt.Status)
	assert.Equal(t, 100, *result.Attempt.Score, "answers given in time still count")

	// an expired open attempt is finished before a new one starts
	second, resumed, err := f.tests.StartAttempt(ctx, u.ID, test.ID)
	require.NoError(t, err)
	assert.False(t, resumed)
	f.at(start.Add(30 * time.Minute))
	third, resumed, err := f.tests.StartAttempt(ctx, u.ID, test.ID)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEqual(t, second.ID, third.ID)
}

func TestTestService_VideoAndPhoto(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "alice")
	admin, err := f.users.CreateUser(ctx, "admin", "password123", "", models.RoleAdmin)
	require.NoError(t, err)
	test := createTest(t, f, 0, true, models.QuestionVideoResponse, models.QuestionPhotoUpload)
	video := questionOf(t, test, models.QuestionVideoResponse)
	photo := questionOf(t, test, models.QuestionPhotoUpload)

	attempt, _, err := f.tests.StartAttempt(ctx, u.ID, test.ID)
	require.NoError(t, err)

	first, err := f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{
		QuestionID: video.ID, Transcript: sampleTranscript, DurationSeconds: 12,
	}, webm("first take"))
	require.NoError(t, err)
	require.NotNil(t, first.MediaKey)

	ans, err := f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{
		QuestionID: video.ID, Transcript: sampleTranscript, DurationSeconds: 12,
	}, webm("second take"))
	require.NoError(t, err)
	assert.Equal(t, models.AnswerScored, ans.Status)
	assert.Equal(t, 80, *ans.ContentScore)
	assert.Equal(t, 50, *ans.EmotionScore)
	assert.Equal(t, 50, *ans.FacialScore)
	assert.Equal(t, sampleTranscript, ans.Content)
	assert.NotEqual(t, *first.MediaKey, *ans.MediaKey)

	_, err = f.media.OpenMedia(ctx, *first.MediaKey)
	assert.Error(t, err, "replaced upload is deleted")

	rc, contentType, err := f.tests.OpenAnswerMedia(ctx, u.ID, ans.ID, false)
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "second take", string(body))
	assert.Equal(t, "video/webm", contentType)

	other := f.user(t, "mallory")
	_, _, err = f.tests.OpenAnswerMedia(ctx, other.ID, ans.ID, false)
	assert.True(t, errors.Is(err, contextutils.ErrForbidden))

	png := &uploads.Media{Filename: "d.png", ContentType: "image/png", Size: 3, Body: bytes.NewReader([]byte("png"))}
	pa, err := f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: photo.ID, Content: "my diagram"}, png)
	require.NoError(t, err)
	assert.Equal(t, models.AnswerPending, pa.Status)
	assert.Nil(t, pa.Score)

	result, err := f.tests.CompleteAttempt(ctx, u.ID, attempt.ID)
	require.NoError(t, err)
	videoOverall := *ans.Score
	assert.Equal(t, (videoOverall+1)/2, *result.Attempt.Score, "pending photo counts as zero")

	graded, err := f.tests.GradeAnswer(ctx, admin.ID, pa.ID, &models.GradeAnswerRequest{Score: intPtr(100), Feedback: "clear"})
	require.NoError(t, err)
	assert.Equal(t, models.AnswerScored, graded.Status)
	assert.Equal(t, admin.ID, *graded.GradedBy)

	result, err = f.tests.GetAttemptResult(ctx, u.ID, attempt.ID, false)
	require.NoError(t, err)
	assert.Equal(t, (videoOverall+100+1)/2, *result.Attempt.Score)
	assert.Equal(t, result.Attempt.XPAwarded, f.stats(t, u.ID).XP, "manual grading does not move XP")
}

func TestTestService_RescorePendingAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "alice")
	test := createTest(t, f, 0, true, models.QuestionShortAnswer, models.QuestionVideoResponse)
	sa := questionOf(t, test, models.QuestionShortAnswer)
	video := questionOf(t, test, models.QuestionVideoResponse)

	attempt, _, err := f.tests.StartAttempt(ctx, u.ID, test.ID)
	require.NoError(t, err)

	f.grader.set(0, contextutils.ErrServiceUnavailable)
	ans, err := f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{QuestionID: sa.ID, Content: "channels"}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AnswerPending, ans.Status)

	vans, err := f.tests.SubmitAnswer(ctx, u.ID, attempt.ID, &models.SubmitAnswerRequest{
		QuestionID: video.ID, Transcript: sampleTranscript, DurationSeconds: 12,
	}, webm("take"))
	require.NoError(t, err)
	assert.Equal(t, models.AnswerPending, vans.Status)
	require.NotNil(t, vans.SpeechScore)

	n, err := f.tests.RescorePendingAnswers(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "grader still down")

	f.grader.set(70, nil)
	n, err = f.tests.RescorePendingAnswers(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	result, err := f.tests.GetAttemptResult(ctx, u.ID, attempt.ID, false)
	require.NoError(t, err)
	for _, a := range result.Answers {
		assert.Equal(t, models.AnswerScored, a.Status)
		if a.QuestionID == video.ID {
			assert.Equal(t, 70, *a.ContentScore)
			assert.Equal(t, *vans.SpeechScore, *a.SpeechScore)
		} else {
			assert.Equal(t, 70, *a.Score)
		}
	}
	assert.Nil(t, result.Attempt.Score, "attempt still in progress")
}

func TestTestService_SweepStaleAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f.at(start)
	u := f.user(t, "alice")

	timed := createTest(t, f, 15, true, models.QuestionMultipleChoice)
	untimed := createTest(t, f, 0, true, models.QuestionMultipleChoice)
	fresh := createTest(t, f, 0, true, models.QuestionMultipleChoice)

	ta, _, err := f.tests.StartAttempt(ctx, u.ID, timed.ID)
	require.NoError(t, err)
	_, err = f.tests.SubmitAnswer(ctx, u.ID, ta.ID, &models.SubmitAnswerRequest{QuestionID: timed.Questions[0].ID, SelectedOption: intPtr(1)}, nil)
	require.NoError(t, err)
	ua, _, err := f.tests.StartAttempt(ctx, u.ID, untimed.ID)
	require.NoError(t, err)

	f.at(start.Add(25 * time.Hour))
	fa, _, err := f.tests.StartAttempt(ctx, u.ID, fresh.ID)
	require.NoError(t, err)

	closed, err := f.tests.SweepStaleAttempts(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, closed)

	got, err := f.store.GetAttempt(ctx, ta.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptCompleted, got.Status)
	assert.Equal(t, 100, *got.Score)

	got, err = f.store.GetAttempt(ctx, ua.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptAbandoned, got.Status)
	assert.Nil(t, got.Score)
	assert.Equal(t, 0, got.XPAwarded)

	got, err = f.store.GetAttempt(ctx, fa.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptInProgress, got.Status)

	closed, err = f.tests.SweepStaleAttempts(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)
}
