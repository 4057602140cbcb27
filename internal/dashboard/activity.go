package dashboard

import (
	"context"
	"encoding/json"
	"sync"

	"assessapp/internal/models"
	"assessapp/internal/observability"
	contextutils "assessapp/internal/utils"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// ActivityStore keeps the most recent activity events, newest first
type ActivityStore interface {
	Record(ctx context.Context, event models.ActivityEvent) error
	Recent(ctx context.Context, n int) ([]models.ActivityEvent, error)
}

// MemoryActivityStore is a fixed-size ring buffer of events
type MemoryActivityStore struct {
	mu     sync.Mutex
	events []models.ActivityEvent
	next   int
	full   bool
}

var _ ActivityStore = (*MemoryActivityStore)(nil)

// NewMemoryActivityStore keeps up to capacity events
func NewMemoryActivityStore(capacity int) *MemoryActivityStore {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryActivityStore{events: make([]models.ActivityEvent, capacity)}
}

// Record appends an event, overwriting the oldest when full
func (m *MemoryActivityStore) Record(_ context.Context, event models.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[m.next] = event
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// Recent returns up to n events, newest first
func (m *MemoryActivityStore) Recent(_ context.Context, n int) ([]models.ActivityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	size := m.next
	if m.full {
		size = len(m.events)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]models.ActivityEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (m.next - i + len(m.events)) % len(m.events)
		out = append(out, m.events[idx])
	}
	return out, nil
}

// RedisActivityStore keeps events in a capped Redis list so every server
// instance shares one feed
type RedisActivityStore struct {
	rdb    redis.Cmdable
	key    string
	limit  int
	logger *observability.Logger
}

var _ ActivityStore = (*RedisActivityStore)(nil)

// NewRedisActivityStore stores at most limit events under key
func NewRedisActivityStore(rdb redis.Cmdable, key string, limit int, logger *observability.Logger) *RedisActivityStore {
	if limit < 1 {
		limit = 1
	}
	return &RedisActivityStore{rdb: rdb, key: key, limit: limit, logger: logger}
}

// Record pushes an event to the head of the list and trims the tail
func (r *RedisActivityStore) Record(ctx context.Context, event models.ActivityEvent) (err error) {
	ctx, span := observability.TraceDashboardFunction(ctx, "RedisActivityStore.Record",
		attribute.String("activity.type", event.Type),
	)
	defer observability.FinishSpan(span, &err)

	payload, err := json.Marshal(event)
	if err != nil {
		return contextutils.WrapError(err, "failed to encode activity event")
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key, payload)
		pipe.LTrim(ctx, r.key, 0, int64(r.limit-1))
		return nil
	})
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrServiceUnavailable, "redis activity push failed: %v", err)
	}
	return nil
}

// Recent reads up to n events from the head of the list. Entries that do not
// decode are skipped.
func (r *RedisActivityStore) Recent(ctx context.Context, n int) (result0 []models.ActivityEvent, err error) {
	ctx, span := observability.TraceDashboardFunction(ctx, "RedisActivityStore.Recent", observability.AttributeLimit(n))
	defer observability.FinishSpan(span, &err)

	if n <= 0 || n > r.limit {
		n = r.limit
	}
	raw, err := r.rdb.LRange(ctx, r.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrServiceUnavailable, "redis activity read failed: %v", err)
	}
	events := make([]models.ActivityEvent, 0, len(raw))
	for _, item := range raw {
		var e models.ActivityEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			r.logger.Warn(ctx, "Skipping malformed activity entry", map[string]interface{}{"error": err.Error()})
			continue
		}
		events = append(events, e)
	}
	return events, nil
}
