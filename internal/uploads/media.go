package uploads

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"assessapp/internal/config"
	"assessapp/internal/models"
	"assessapp/internal/observability"
	contextutils "assessapp/internal/utils"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Media is an uploaded file as received from the client
type Media struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// MediaStore validates answer media and writes it to a BlobStore
type MediaStore struct {
	blobs    BlobStore
	maxBytes int64
	allowed  map[models.QuestionType]map[string]bool
	logger   *observability.Logger
}

// NewMediaStore builds a MediaStore from the uploads configuration
func NewMediaStore(blobs BlobStore, cfg config.UploadsConfig, logger *observability.Logger) *MediaStore {
	allowed := map[models.QuestionType]map[string]bool{
		models.QuestionVideoResponse: {},
		models.QuestionPhotoUpload:   {},
	}
	for _, ct := range cfg.VideoContentTypes {
		allowed[models.QuestionVideoResponse][normalizeContentType(ct)] = true
	}
	for _, ct := range cfg.PhotoContentTypes {
		allowed[models.QuestionPhotoUpload][normalizeContentType(ct)] = true
	}
	return &MediaStore{blobs: blobs, maxBytes: cfg.MaxBytes, allowed: allowed, logger: logger}
}

// Blobs returns the underlying BlobStore
func (m *MediaStore) Blobs() BlobStore {
	return m.blobs
}

// Validate checks the declared content type and size of an upload for a
// question type
func (m *MediaStore) Validate(kind models.QuestionType, contentType string, size int64) error {
	types, ok := m.allowed[kind]
	if !ok {
		return contextutils.WrapErrorf(contextutils.ErrUploadRejected, "%s questions do not accept uploads", kind)
	}
	ct := normalizeContentType(contentType)
	if !types[ct] {
		return contextutils.WrapErrorf(contextutils.ErrUploadRejected, "content type %q is not allowed for %s", contentType, kind)
	}
	if size <= 0 {
		return contextutils.WrapErrorf(contextutils.ErrUploadRejected, "upload is empty")
	}
	if m.maxBytes > 0 && size > m.maxBytes {
		return contextutils.WrapErrorf(contextutils.ErrUploadRejected, "upload of %d bytes exceeds the %d byte limit", size, m.maxBytes)
	}
	return nil
}

// SaveAnswerMedia validates media and stores it under
// answers/<attempt>/<uuid><ext>. The body is cut off at the size limit even
// when the declared size was smaller.
func (m *MediaStore) SaveAnswerMedia(ctx context.Context, attemptID uint, kind models.QuestionType, media Media) (result0 string, err error) {
	ctx, span := observability.TraceTestFunction(ctx, "SaveAnswerMedia",
		observability.AttributeAttemptID(attemptID),
		observability.AttributeQuestionType(string(kind)),
		attribute.Int64("upload.size", media.Size),
	)
	defer observability.FinishSpan(span, &err)

	if err := m.Validate(kind, media.ContentType, media.Size); err != nil {
		return "", err
	}

	key := AnswerKey(attemptID, media.Filename, media.ContentType)
	body := media.Body
	if m.maxBytes > 0 {
		body = io.LimitReader(media.Body, m.maxBytes+1)
	}
	n, err := m.blobs.Put(ctx, key, body)
	if err != nil {
		return "", err
	}
	if m.maxBytes > 0 && n > m.maxBytes {
		_ = m.blobs.Delete(ctx, key)
		return "", contextutils.WrapErrorf(contextutils.ErrUploadRejected, "upload exceeds the %d byte limit", m.maxBytes)
	}

	m.logger.Info(ctx, "Stored answer media", map[string]interface{}{
		"attempt_id":   attemptID,
		"key":          key,
		"bytes":        n,
		"content_type": media.ContentType,
	})
	return key, nil
}

// AnswerKey builds the blob key of a new answer upload. The extension comes
// from the original filename, falling back to the content type.
func AnswerKey(attemptID uint, filename, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if !validExt(ext) {
		ext = ""
		if exts, err := mime.ExtensionsByType(normalizeContentType(contentType)); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("answers/%d/%s%s", attemptID, uuid.NewString(), ext)
}

func validExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 8 {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func normalizeContentType(ct string) string {
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// OpenMedia opens a stored answer upload
func (m *MediaStore) OpenMedia(ctx context.Context, key string) (io.ReadCloser, error) {
	return m.blobs.Open(ctx, key)
}

// DeleteMedia removes a stored answer upload. Failures are logged, not returned,
// since a leftover blob never affects scoring.
func (m *MediaStore) DeleteMedia(ctx context.Context, key string) {
	if err := m.blobs.Delete(ctx, key); err != nil {
		m.logger.Warn(ctx, "Failed to delete answer media", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}
