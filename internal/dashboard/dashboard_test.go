package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"assessapp/internal/config"
	"assessapp/internal/models"
	"assessapp/internal/observability"
	contextutils "assessapp/internal/utils"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticCounts struct {
	counts models.DashboardCounts
}

func (s staticCounts) GetDashboardCounts(context.Context, time.Time) (*models.DashboardCounts, error) {
	c := s.counts
	return &c, nil
}

func testLogger() *observability.Logger {
	return &observability.Logger{Logger: zap.NewNop()}
}

func newTestHub(maxConns int) *Hub {
	cfg := config.DashboardConfig{
		BroadcastInterval: time.Hour,
		MaxConnections:    maxConns,
		RecentActivity:    5,
	}
	return NewHub(cfg, staticCounts{counts: models.DashboardCounts{TotalUsers: 3, ActiveAttempts: 1}}, nil, nil, testLogger())
}

// startServer serves sockets whose identity comes from the uid/role query
// parameters.
func startServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, _ := strconv.Atoi(r.URL.Query().Get("uid"))
		h.Serve(w, r, Identity{
			UserID:   uint(uid),
			Username: r.URL.Query().Get("name"),
			Role:     models.Role(r.URL.Query().Get("role")),
		})
	}))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, uid int, name string, role models.Role) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?uid=" + strconv.Itoa(uid) + "&name=" + name + "&role=" + string(role)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn, wantType string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var raw struct {
			Type  string          `json:"type"`
			Data  json.RawMessage `json:"data"`
			Error string          `json:"error"`
		}
		require.NoError(t, conn.ReadJSON(&raw))
		if raw.Type == wantType {
			if wantType == MessageError {
				return json.RawMessage(strconv.Quote(raw.Error))
			}
			return raw.Data
		}
	}
}

func TestHub_PingAndUnknownMessages(t *testing.T) {
	h := newTestHub(0)
	srv := startServer(t, h)
	conn := dial(t, srv, 7, "alice", models.RoleUser)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	readEnvelope(t, conn, MessagePong)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	msg := readEnvelope(t, conn, MessageError)
	assert.Contains(t, string(msg), "unknown message type")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	readEnvelope(t, conn, MessageError)
}

func TestHub_BroadcastReachesAdminsOnly(t *testing.T) {
	h := newTestHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	srv := startServer(t, h)

	admin := dial(t, srv, 1, "root", models.RoleAdmin)
	user := dial(t, srv, 2, "alice", models.RoleUser)

	require.Eventually(t, func() bool { return h.ConnectionCount("") == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, user.WriteJSON(map[string]string{"type": "activity", "page": "/tests/4"}))
	h.Publish(ctx, models.ActivityEvent{Type: models.ActivityAttemptStarted, UserID: 2, Message: "alice started Go basics"})

	var snap Snapshot
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no snapshot with the expected state")
		data := readEnvelope(t, admin, MessageDashboardUpdate)
		require.NoError(t, json.Unmarshal(data, &snap))
		if len(snap.Recent) > 0 && snap.OnlineUsers == 2 && pageOf(snap, 2) == "/tests/4" {
			break
		}
	}

	assert.Equal(t, 1, snap.Connections[models.RoleAdmin])
	assert.Equal(t, 1, snap.Connections[models.RoleUser])
	require.NotNil(t, snap.Counts)
	assert.Equal(t, int64(3), snap.Counts.TotalUsers)
	assert.Equal(t, models.ActivityAttemptStarted, snap.Recent[0].Type)

	// The user socket must never see a dashboard update; a pong proves the
	// queue holds nothing before it.
	require.NoError(t, user.WriteJSON(map[string]string{"type": "ping"}))
	require.NoError(t, user.SetReadDeadline(time.Now().Add(3*time.Second)))
	var first Envelope
	require.NoError(t, user.ReadJSON(&first))
	assert.Equal(t, MessagePong, first.Type)
}

func TestHub_LongPageKeepsWholeRunes(t *testing.T) {
	h := newTestHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)
	srv := startServer(t, h)

	admin := dial(t, srv, 1, "root", models.RoleAdmin)
	user := dial(t, srv, 2, "alice", models.RoleUser)
	require.Eventually(t, func() bool { return h.ConnectionCount("") == 2 }, 2*time.Second, 10*time.Millisecond)

	// 2-byte runes at an odd offset so the byte limit falls inside one
	page := "/" + strings.Repeat("ж", maxPageLength)
	require.NoError(t, user.WriteJSON(map[string]string{"type": "activity", "page": page}))

	deadline := time.Now().Add(3 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "page never reported")
		var snap Snapshot
		require.NoError(t, json.Unmarshal(readEnvelope(t, admin, MessageDashboardUpdate), &snap))
		if got := pageOf(snap, 2); got != "" {
			assert.Equal(t, "/"+strings.Repeat("ж", (maxPageLength-1)/2), got)
			assert.True(t, utf8.ValidString(got))
			return
		}
	}
}

func pageOf(snap Snapshot, userID uint) string {
	for _, p := range snap.Presence {
		if p.UserID == userID {
			return p.Page
		}
	}
	return ""
}

func TestHub_MaxConnections(t *testing.T) {
	h := newTestHub(1)
	srv := startServer(t, h)
	dial(t, srv, 1, "root", models.RoleAdmin)
	require.Eventually(t, func() bool { return h.ConnectionCount("") == 1 }, 2*time.Second, 10*time.Millisecond)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?uid=2&name=bob&role=user"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_AllowOrigins(t *testing.T) {
	check := func(h *Hub, origin string) bool {
		r := httptest.NewRequest(http.MethodGet, "http://assess.example/v1/dashboard/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return h.upgrader.CheckOrigin(r)
	}

	h := newTestHub(0)
	h.AllowOrigins([]string{" https://app.example/ ", ""})
	assert.True(t, check(h, "https://app.example"))
	assert.True(t, check(h, "http://assess.example"), "same host")
	assert.True(t, check(h, ""), "non-browser clients send no origin")
	assert.False(t, check(h, "https://evil.example"))

	h = newTestHub(0)
	h.AllowOrigins(nil)
	assert.True(t, check(h, "http://assess.example"))
	assert.False(t, check(h, "https://app.example"))

	h = newTestHub(0)
	h.AllowOrigins([]string{"https://app.example", "*"})
	assert.True(t, check(h, "https://evil.example"))
}

func TestHub_RejectsForeignOriginOnUpgrade(t *testing.T) {
	h := newTestHub(0)
	h.AllowOrigins([]string{"https://app.example"})
	srv := startServer(t, h)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?uid=1&name=eve&role=user"

	_, resp, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": {"https://app.example"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	h := newTestHub(0)
	srv := startServer(t, h)
	conn := dial(t, srv, 3, "carol", models.RoleUser)
	require.Eventually(t, func() bool { return h.ConnectionCount(models.RoleUser) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.ConnectionCount(models.RoleUser) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DisconnectUser(t *testing.T) {
	h := newTestHub(0)
	srv := startServer(t, h)
	first := dial(t, srv, 4, "dave", models.RoleAdmin)
	dial(t, srv, 4, "dave", models.RoleAdmin)
	dial(t, srv, 5, "erin", models.RoleAdmin)
	require.Eventually(t, func() bool { return h.ConnectionCount(models.RoleAdmin) == 3 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, h.DisconnectUser(4))
	assert.Equal(t, 1, h.ConnectionCount(models.RoleAdmin))
	assert.Equal(t, 0, h.DisconnectUser(4))

	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
}

func TestHub_TriggerCoalesces(t *testing.T) {
	h := newTestHub(0)
	for i := 0; i < 10; i++ {
		h.Trigger()
	}
	assert.Len(t, h.trigger, 1)
}

func TestMemoryActivityStore_Ring(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryActivityStore(3)

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Record(ctx, models.ActivityEvent{Type: "e", UserID: uint(i)}))
	}
	got, err = s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uint{5, 4, 3}, []uint{got[0].UserID, got[1].UserID, got[2].UserID})

	got, err = s.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRedisActivityStore_Unavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	s := NewRedisActivityStore(rdb, config.DefaultActivityKey, 10, testLogger())

	err := s.Record(context.Background(), models.ActivityEvent{Type: "e"})
	assert.True(t, errors.Is(err, contextutils.ErrServiceUnavailable))
	_, err = s.Recent(context.Background(), 5)
	assert.True(t, errors.Is(err, contextutils.ErrServiceUnavailable))
}

func TestTokenIssuer(t *testing.T) {
	issuer, err := NewTokenIssuer("secret", time.Minute)
	require.NoError(t, err)
	user := &models.User{ID: 9, Username: "root", Role: models.RoleAdmin}

	token, expires, err := issuer.Issue(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expires, 5*time.Second)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: 9, Username: "root", Role: models.RoleAdmin}, claims.Identity())

	other, err := NewTokenIssuer("another", time.Minute)
	require.NoError(t, err)
	_, err = other.Parse(token)
	assert.True(t, errors.Is(err, contextutils.ErrUnauthorized))

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = issuer.Parse(token)
	assert.True(t, errors.Is(err, contextutils.ErrUnauthorized))

	_, err = issuer.Parse("")
	assert.True(t, errors.Is(err, contextutils.ErrUnauthorized))

	_, err = NewTokenIssuer("", time.Minute)
	assert.Error(t, err)
}
