package storage

import (
	"context"

	"assessapp/internal/models"
	"assessapp/internal/observability"
	contextutils "assessapp/internal/utils"

	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// CreateTopic inserts a topic
func (s *GormStore) CreateTopic(ctx context.Context, topic *models.Topic) error {
	return mapError(s.conn(ctx).Create(topic).Error, "topic")
}

// GetTopic loads a topic by id
func (s *GormStore) GetTopic(ctx context.Context, id uint) (*models.Topic, error) {
	var topic models.Topic
	if err := s.conn(ctx).First(&topic, id).Error; err != nil {
		return nil, mapError(err, "topic")
	}
	return &topic, nil
}

// ListTopics returns all topics by name
func (s *GormStore) ListTopics(ctx context.Context) ([]models.Topic, error) {
	var topics []models.Topic
	return topics, mapError(s.conn(ctx).Order("name").Find(&topics).Error, "topics")
}

// CreateTest inserts a test together with its questions in one transaction
func (s *GormStore) CreateTest(ctx context.Context, test *models.Test) (err error) {
	ctx, span := observability.TraceStorageFunction(ctx, "CreateTest",
		attribute.Int("questions.count", len(test.Questions)),
	)
	defer observability.FinishSpan(span, &err)

	return mapError(s.transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(test).Error
	}), "test")
}

// GetTest loads a test, optionally with its questions ordered by position
func (s *GormStore) GetTest(ctx context.Context, id uint, withQuestions bool) (*models.Test, error) {
	q := s.conn(ctx)
	if withQuestions {
		q = q.Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position, id")
		})
	}
	var test models.Test
	if err := q.First(&test, id).Error; err != nil {
		return nil, mapError(err, "test")
	}
	return &test, nil
}

// ListTests returns tests matching the filter, newest first
func (s *GormStore) ListTests(ctx context.Context, filter models.TestFilter) ([]models.Test, error) {
	q := s.conn(ctx).Model(&models.Test{})
	if filter.PublishedOnly {
		q = q.Where("is_published = ?", true)
	}
	if filter.TopicID != nil {
		q = q.Where("topic_id = ?", *filter.TopicID)
	}
	var tests []models.Test
	err := q.Order("created_at DESC, id DESC").
		Limit(clampLimit(filter.Limit, 50, 200)).
		Offset(filter.Offset).
		Find(&tests).Error
	return tests, mapError(err, "tests")
}

// UpdateTest saves the test's own columns; questions are managed separately
func (s *GormStore) UpdateTest(ctx context.Context, test *models.Test) error {
	res := s.conn(ctx).Model(test).Select(
		"title", "description", "topic_id", "time_limit_minutes", "passing_score", "is_published", "updated_at",
	).Updates(test)
	if res.Error != nil {
		return mapError(res.Error, "test")
	}
	if res.RowsAffected == 0 {
		return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "test %d not found", test.ID)
	}
	return nil
}

// DeleteTest removes a test; questions, attempts and answers cascade
func (s *GormStore) DeleteTest(ctx context.Context, id uint) error {
	return s.deleteByID(ctx, &models.Test{}, id, "test")
}

// CreateQuestion inserts a question
func (s *GormStore) CreateQuestion(ctx context.Context, question *models.Question) error {
	return mapError(s.conn(ctx).Create(question).Error, "question")
}

// GetQuestion loads a question by id
func (s *GormStore) GetQuestion(ctx context.Context, id uint) (*models.Question, error) {
	var question models.Question
	if err := s.conn(ctx).First(&question, id).Error; err != nil {
		return nil, mapError(err, "question")
	}
	return &question, nil
}

// ListQuestionsByTest returns a test's questions ordered by position
func (s *GormStore) ListQuestionsByTest(ctx context.Context, testID uint) ([]models.Question, error) {
	var questions []models.Question
	err := s.conn(ctx).Where("test_id = ?", testID).Order("position, id").Find(&questions).Error
	return questions, mapError(err, "questions")
}

// UpdateQuestion saves every column of a question
func (s *GormStore) UpdateQuestion(ctx context.Context, question *models.Question) error {
	return mapError(s.conn(ctx).Save(question).Error, "question")
}

// DeleteQuestion removes a question; its answers cascade
func (s *GormStore) DeleteQuestion(ctx context.Context, id uint) error {
	return s.deleteByID(ctx, &models.Question{}, id, "question")
}

func (s *GormStore) deleteByID(ctx context.Context, model interface{}, id uint, what string) error {
	res := s.conn(ctx).Delete(model, id)
	if res.Error != nil {
		return mapError(res.Error, what)
	}
	if res.RowsAffected == 0 {
		return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "%s %d not found", what, id)
	}
	return nil
}
