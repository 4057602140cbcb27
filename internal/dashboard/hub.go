// Package dashboard pushes live activity snapshots to admin browsers over
// WebSocket connections.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"assessapp/internal/config"
	"assessapp/internal/models"
	"assessapp/internal/observability"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// Message types exchanged over the socket
const (
	MessageDashboardUpdate = "dashboard_update"
	MessagePing            = "ping"
	MessagePong            = "pong"
	MessageActivity        = "activity"
	MessageError           = "error"
)

// Identity is the authenticated owner of a socket
type Identity struct {
	UserID   uint        `json:"user_id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

// CountsSource supplies the storage-derived dashboard numbers
type CountsSource interface {
	GetDashboardCounts(ctx context.Context, now time.Time) (*models.DashboardCounts, error)
}

// Presence describes one online user
type Presence struct {
	UserID   uint        `json:"user_id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	Page     string      `json:"page,omitempty"`
	LastSeen time.Time   `json:"last_seen"`
}

// Snapshot is the payload of a dashboard_update message
type Snapshot struct {
	OnlineUsers int                     `json:"online_users"`
	Connections map[models.Role]int     `json:"connections"`
	Presence    []Presence              `json:"presence"`
	Counts      *models.DashboardCounts `json:"counts,omitempty"`
	Recent      []models.ActivityEvent  `json:"recent_activity"`
	At          time.Time               `json:"at"`
}

// Envelope wraps every outbound message
type Envelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Hub tracks sockets by role and broadcasts snapshots to admins
type Hub struct {
	cfg      config.DashboardConfig
	counts   CountsSource
	activity ActivityStore
	metrics  *observability.Metrics
	logger   *observability.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu      sync.RWMutex
	clients map[models.Role]map[*client]struct{}
	closed  bool

	trigger chan struct{}
}

// NewHub creates a hub. activity may be nil, in which case an in-memory ring
// sized to cfg.RecentActivity is used.
func NewHub(cfg config.DashboardConfig, counts CountsSource, activity ActivityStore, metrics *observability.Metrics, logger *observability.Logger) *Hub {
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = config.DefaultBroadcastInterval
	}
	if cfg.RecentActivity <= 0 {
		cfg.RecentActivity = config.DefaultRecentActivity
	}
	if activity == nil {
		activity = NewMemoryActivityStore(cfg.RecentActivity)
	}
	return &Hub{
		cfg:      cfg,
		counts:   counts,
		activity: activity,
		metrics:  metrics,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		now: time.Now,
		clients: map[models.Role]map[*client]struct{}{
			models.RoleAdmin: {},
			models.RoleUser:  {},
		},
		trigger: make(chan struct{}, config.DashboardTriggerBufferLength),
	}
}

// AllowOrigins lets sockets upgrade from the given browser origins in
// addition to the server's own host. "*" allows any origin. With no usable
// entries only same-host upgrades are accepted.
func (h *Hub) AllowOrigins(origins []string) {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
			return
		}
		if o != "" {
			allowed[o] = struct{}{}
		}
	}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := allowed[strings.TrimRight(origin, "/")]
		return ok
	}
}

// Trigger requests an immediate broadcast. Calls made while one is already
// pending are coalesced.
func (h *Hub) Trigger() {
	select {
	case h.trigger <- struct{}{}:
	default:
	}
}

// Publish records an activity event and triggers a broadcast
func (h *Hub) Publish(ctx context.Context, event models.ActivityEvent) {
	if event.At.IsZero() {
		event.At = h.now().UTC()
	}
	if err := h.activity.Record(ctx, event); err != nil {
		h.logger.Warn(ctx, "Failed to record activity event", map[string]interface{}{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
	h.Trigger()
}

// Run broadcasts on every tick and trigger until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.BroadcastInterval)
	defer ticker.Stop()

	h.logger.Info(ctx, "Dashboard hub started", map[string]interface{}{
		"broadcast_interval": h.cfg.BroadcastInterval.String(),
		"max_connections":    h.cfg.MaxConnections,
	})
	for {
		select {
		case <-ctx.Done():
			h.logger.Info(ctx, "Dashboard hub stopping")
			return
		case <-ticker.C:
			h.Broadcast(ctx)
		case <-h.trigger:
			h.Broadcast(ctx)
		}
	}
}

// Snapshot builds the current dashboard state
func (h *Hub) Snapshot(ctx context.Context) (result0 *Snapshot, err error) {
	ctx, span := observability.TraceDashboardFunction(ctx, "Snapshot")
	defer observability.FinishSpan(span, &err)

	now := h.now().UTC()
	snap := &Snapshot{
		Connections: map[models.Role]int{},
		Presence:    []Presence{},
		Recent:      []models.ActivityEvent{},
		At:          now,
	}

	h.mu.RLock()
	byUser := make(map[uint]Presence)
	for role, set := range h.clients {
		snap.Connections[role] = len(set)
		for c := range set {
			p := c.presence()
			if cur, ok := byUser[p.UserID]; !ok || p.LastSeen.After(cur.LastSeen) {
				byUser[p.UserID] = p
			}
		}
	}
	h.mu.RUnlock()

	for _, p := range byUser {
		snap.Presence = append(snap.Presence, p)
	}
	sort.Slice(snap.Presence, func(i, j int) bool {
		if snap.Presence[i].Username != snap.Presence[j].Username {
			return snap.Presence[i].Username < snap.Presence[j].Username
		}
		return snap.Presence[i].UserID < snap.Presence[j].UserID
	})
	snap.OnlineUsers = len(snap.Presence)

	if h.counts != nil {
		counts, cerr := h.counts.GetDashboardCounts(ctx, now)
		if cerr != nil {
			h.logger.Warn(ctx, "Dashboard counts unavailable", map[string]interface{}{"error": cerr.Error()})
		} else {
			snap.Counts = counts
		}
	}

	recent, rerr := h.activity.Recent(ctx, h.cfg.RecentActivity)
	if rerr != nil {
		h.logger.Warn(ctx, "Activity feed unavailable", map[string]interface{}{"error": rerr.Error()})
	} else if recent != nil {
		snap.Recent = recent
	}

	span.SetAttributes(
		attribute.Int("dashboard.online_users", snap.OnlineUsers),
		attribute.Int("dashboard.admin_connections", snap.Connections[models.RoleAdmin]),
	)
	return snap, nil
}

// Broadcast sends a fresh snapshot to every admin socket. Admins whose send
// queue is full are disconnected.
func (h *Hub) Broadcast(ctx context.Context) {
	if h.ConnectionCount(models.RoleAdmin) == 0 {
		return
	}
	snap, err := h.Snapshot(ctx)
	if err != nil {
		h.logger.Error(ctx, "Failed to build dashboard snapshot", err)
		return
	}
	payload, err := json.Marshal(Envelope{Type: MessageDashboardUpdate, Data: snap})
	if err != nil {
		h.logger.Error(ctx, "Failed to encode dashboard snapshot", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients[models.RoleAdmin] {
		if !c.enqueue(payload) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn(ctx, "Dropping slow dashboard consumer", map[string]interface{}{
			"connection_id": c.id,
			"user_id":       c.identity.UserID,
		})
		h.unregister(c)
	}
	h.metrics.RecordBroadcast(ctx)
}

// ConnectionCount returns the number of open sockets for role, or for every
// role when role is empty
func (h *Hub) ConnectionCount(role models.Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if role != "" {
		return len(h.clients[role])
	}
	total := 0
	for _, set := range h.clients {
		total += len(set)
	}
	return total
}

// Serve upgrades the request for an already authenticated identity and starts
// the connection pumps. Requests beyond max_connections are refused before
// the upgrade.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, id Identity) {
	ctx := r.Context()
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "dashboard is shutting down", http.StatusServiceUnavailable)
		return
	}
	if h.cfg.MaxConnections > 0 && h.ConnectionCount("") >= h.cfg.MaxConnections {
		h.logger.Warn(ctx, "Refusing dashboard socket, connection limit reached", map[string]interface{}{
			"max_connections": h.cfg.MaxConnections,
			"user_id":         id.UserID,
		})
		http.Error(w, "too many dashboard connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response
		h.logger.Warn(ctx, "WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := newClient(h, conn, id)
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection limit reached"),
			time.Now().Add(config.WSWriteWait))
		_ = conn.Close()
		return
	}
	h.logger.Info(ctx, "Dashboard socket connected", map[string]interface{}{
		"connection_id": c.id,
		"user_id":       id.UserID,
		"role":          string(id.Role),
	})

	go c.writePump()
	go c.readPump()
}

// Close disconnects every socket and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		h.unregister(c)
	}
}

// DisconnectUser closes every socket held by the user and reports how many
// were dropped. Clients reconnect with their current role.
func (h *Hub) DisconnectUser(userID uint) int {
	h.mu.RLock()
	var held []*client
	for _, set := range h.clients {
		for c := range set {
			if c.identity.UserID == userID {
				held = append(held, c)
			}
		}
	}
	h.mu.RUnlock()
	for _, c := range held {
		h.unregister(c)
	}
	return len(held)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	if h.closed || (h.cfg.MaxConnections > 0 && h.countLocked() >= h.cfg.MaxConnections) {
		h.mu.Unlock()
		return false
	}
	set, ok := h.clients[c.identity.Role]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.identity.Role] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	h.metrics.AddConnections(context.Background(), 1, string(c.identity.Role))
	h.Trigger()
	return true
}

// unregister removes c and closes its send queue. Safe to call repeatedly.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	set := h.clients[c.identity.Role]
	_, ok := set[c]
	if ok {
		delete(set, c)
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		h.metrics.AddConnections(context.Background(), -1, string(c.identity.Role))
		h.Trigger()
	}
}

// reply queues a message for a single registered client
func (h *Hub) reply(c *client, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.RLock()
	_, ok := h.clients[c.identity.Role][c]
	delivered := ok && c.enqueue(payload)
	h.mu.RUnlock()
	if ok && !delivered {
		h.unregister(c)
	}
}

func (h *Hub) countLocked() int {
	total := 0
	for _, set := range h.clients {
		total += len(set)
	}
	return total
}
