package storage

import (
	"context"
	"time"

	"assessapp/internal/models"
	"assessapp/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateAttempt inserts an attempt
func (s *GormStore) CreateAttempt(ctx context.Context, attempt *models.Attempt) error {
	return mapError(s.conn(ctx).Create(attempt).Error, "attempt")
}

// GetAttempt loads an attempt by id
func (s *GormStore) GetAttempt(ctx context.Context, id uint) (*models.Attempt, error) {
	var attempt models.Attempt
	if err := s.conn(ctx).First(&attempt, id).Error; err != nil {
		return nil, mapError(err, "attempt")
	}
	return &attempt, nil
}

// FindOpenAttempt returns the user's in-progress attempt at a test, or
// ErrRecordNotFound when there is none
func (s *GormStore) FindOpenAttempt(ctx context.Context, userID, testID uint) (*models.Attempt, error) {
	var attempt models.Attempt
	err := s.conn(ctx).
		Where("user_id = ? AND test_id = ? AND status = ?", userID, testID, models.AttemptInProgress).
		Order("started_at DESC, id DESC").
		First(&attempt).Error
	if err != nil {
		return nil, mapError(err, "open attempt")
	}
	return &attempt, nil
}

// ListAttemptsByUser returns the user's attempts, newest first
func (s *GormStore) ListAttemptsByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Attempt, error) {
	var attempts []models.Attempt
	err := s.conn(ctx).Where("user_id = ?", userID).
		Order("started_at DESC, id DESC").
		Limit(clampLimit(limit, 50, 200)).
		Offset(offset).
		Find(&attempts).Error
	return attempts, mapError(err, "attempts")
}

// UpdateAttempt saves every column of an attempt
func (s *GormStore) UpdateAttempt(ctx context.Context, attempt *models.Attempt) error {
	return mapError(s.conn(ctx).Save(attempt).Error, "attempt")
}

// CloseAttempt saves a finished attempt only if it is still in progress in the
// database. It reports false when another caller closed it first.
func (s *GormStore) CloseAttempt(ctx context.Context, attempt *models.Attempt) (bool, error) {
	res := s.conn(ctx).Model(&models.Attempt{}).
		Where("id = ? AND status = ?", attempt.ID, models.AttemptInProgress).
		Select("status", "completed_at", "score", "passed", "xp_awarded", "updated_at").
		Updates(attempt)
	if res.Error != nil {
		return false, mapError(res.Error, "attempt")
	}
	return res.RowsAffected > 0, nil
}

// CountActiveAttempts counts attempts still in progress
func (s *GormStore) CountActiveAttempts(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&models.Attempt{}).Where("status = ?", models.AttemptInProgress).Count(&n).Error
	return n, mapError(err, "attempts")
}

// ListStaleAttempts returns in-progress attempts that ran past their test's
// time limit or started more than maxAge before now
func (s *GormStore) ListStaleAttempts(ctx context.Context, now time.Time, maxAge time.Duration) (result0 []models.Attempt, err error) {
	ctx, span := observability.TraceStorageFunction(ctx, "ListStaleAttempts",
		attribute.String("max_age", maxAge.String()),
	)
	defer observability.FinishSpan(span, &err)

	var open []models.Attempt
	if err := s.conn(ctx).Where("status = ?", models.AttemptInProgress).Order("id").Find(&open).Error; err != nil {
		return nil, mapError(err, "attempts")
	}
	if len(open) == 0 {
		return nil, nil
	}

	testIDs := make([]uint, 0, len(open))
	seen := make(map[uint]bool)
	for _, a := range open {
		if !seen[a.TestID] {
			seen[a.TestID] = true
			testIDs = append(testIDs, a.TestID)
		}
	}
	var tests []models.Test
	if err := s.conn(ctx).Where("id IN ?", testIDs).Find(&tests).Error; err != nil {
		return nil, mapError(err, "tests")
	}
	byID := make(map[uint]*models.Test, len(tests))
	for i := range tests {
		byID[tests[i].ID] = &tests[i]
	}

	var stale []models.Attempt
	for _, a := range open {
		if maxAge > 0 && now.Sub(a.StartedAt) > maxAge {
			stale = append(stale, a)
			continue
		}
		if t, ok := byID[a.TestID]; ok {
			if deadline, limited := t.Deadline(a.StartedAt); limited && now.After(deadline) {
				stale = append(stale, a)
			}
		}
	}
	return stale, nil
}

// UpsertAnswer stores an answer, replacing any earlier answer to the same
// question in the same attempt. On return answer carries the row's id.
func (s *GormStore) UpsertAnswer(ctx context.Context, answer *models.Answer) error {
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		var existing models.Answer
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("attempt_id = ? AND question_id = ?", answer.AttemptID, answer.QuestionID).
			Limit(1).Find(&existing).Error
		if err != nil {
			return err
		}
		if existing.ID != 0 {
			answer.ID = existing.ID
			answer.CreatedAt = existing.CreatedAt
			return tx.Save(answer).Error
		}
		return tx.Create(answer).Error
	})
	return mapError(err, "answer")
}

// GetAnswer loads an answer by id
func (s *GormStore) GetAnswer(ctx context.Context, id uint) (*models.Answer, error) {
	var answer models.Answer
	if err := s.conn(ctx).First(&answer, id).Error; err != nil {
		return nil, mapError(err, "answer")
	}
	return &answer, nil
}

// ListAnswersByAttempt returns an attempt's answers in submission order
func (s *GormStore) ListAnswersByAttempt(ctx context.Context, attemptID uint) ([]models.Answer, error) {
	var answers []models.Answer
	err := s.conn(ctx).Where("attempt_id = ?", attemptID).Order("id").Find(&answers).Error
	return answers, mapError(err, "answers")
}

// UpdateAnswer saves every column of an answer
func (s *GormStore) UpdateAnswer(ctx context.Context, answer *models.Answer) error {
	return mapError(s.conn(ctx).Save(answer).Error, "answer")
}

// ListPendingAnswers returns the oldest pending answers to questions of the
// given types
func (s *GormStore) ListPendingAnswers(ctx context.Context, types []models.QuestionType, limit int) ([]models.Answer, error) {
	var answers []models.Answer
	err := s.conn(ctx).
		Select("answers.*").
		Joins("JOIN questions ON questions.id = answers.question_id").
		Where("answers.status = ? AND questions.type IN ?", models.AnswerPending, types).
		Order("answers.created_at, answers.id").
		Limit(clampLimit(limit, 20, 200)).
		Find(&answers).Error
	return answers, mapError(err, "answers")
}
