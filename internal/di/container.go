// Package di provides dependency injection container for managing service lifecycle and dependencies.
package di

import (
	"context"
	"database/sql"
	"sync"

	"assessapp/internal/ai"
	"assessapp/internal/config"
	"assessapp/internal/dashboard"
	"assessapp/internal/database"
	"assessapp/internal/handlers"
	"assessapp/internal/observability"
	"assessapp/internal/services"
	"assessapp/internal/storage"
	"assessapp/internal/uploads"
	contextutils "assessapp/internal/utils"
	"assessapp/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Service names used with GetService
const (
	ServiceUser         = "user"
	ServiceTest         = "test"
	ServiceLearning     = "learning"
	ServiceGamification = "gamification"
	ServiceAssessment   = "assessment"
)

// ServiceContainerInterface defines the interface for service containers
type ServiceContainerInterface interface {
	GetService(name string) (interface{}, error)
	GetUserService() (services.UserServiceInterface, error)
	GetTestService() (services.TestServiceInterface, error)
	GetLearningService() (services.LearningServiceInterface, error)
	GetGamificationService() (services.GamificationServiceInterface, error)
	GetHub() *dashboard.Hub
	GetScheduler() *worker.Scheduler
	GetStore() storage.Store
	GetDatabase() *sql.DB
	GetConfig() *config.Config
	GetLogger() *observability.Logger
	Router() *gin.Engine
	Initialize(ctx context.Context) error
	Start(ctx context.Context)
	Shutdown(ctx context.Context) error
	EnsureAdminUser(ctx context.Context) error
}

// ServiceContainer manages all service dependencies and lifecycle
type ServiceContainer struct {
	cfg       *config.Config
	logger    *observability.Logger
	metrics   *observability.Metrics
	dbManager *database.Manager
	db        *sql.DB
	store     storage.Store
	hub       *dashboard.Hub
	tokens    *dashboard.TokenIssuer
	scheduler *worker.Scheduler
	services  map[string]interface{}
	mu        sync.RWMutex

	stopHub       context.CancelFunc
	shutdownFuncs []func(context.Context) error
}

var _ ServiceContainerInterface = (*ServiceContainer)(nil)

// NewServiceContainer creates a new dependency injection container. metrics may be nil.
func NewServiceContainer(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) *ServiceContainer {
	return &ServiceContainer{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		services: make(map[string]interface{}),
	}
}

// Initialize opens the database, applies migrations and wires every service.
// Nothing runs in the background until Start.
func (sc *ServiceContainer) Initialize(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.dbManager = database.NewManager(sc.logger)
	db, gdb, err := sc.dbManager.Open(ctx, sc.cfg.Database)
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to initialize database")
	}
	sc.db = db
	sc.shutdownFuncs = append(sc.shutdownFuncs, func(_ context.Context) error {
		return db.Close()
	})
	sc.store = storage.NewGormStore(gdb, sc.logger)

	if err := sc.initializeServices(ctx); err != nil {
		_ = sc.cleanup(ctx)
		return contextutils.WrapErrorf(err, "failed to initialize services")
	}
	return nil
}

// initializeServices sets up all service dependencies
func (sc *ServiceContainer) initializeServices(ctx context.Context) error {
	blobs, err := uploads.NewFSStore(sc.cfg.Uploads.Dir)
	if err != nil {
		return err
	}
	media := uploads.NewMediaStore(blobs, sc.cfg.Uploads, sc.logger)

	grader, classifier, err := sc.initializeAI()
	if err != nil {
		return err
	}

	sc.hub = dashboard.NewHub(sc.cfg.Dashboard, sc.store, sc.activityStore(ctx), sc.metrics, sc.logger)
	sc.hub.AllowOrigins(sc.cfg.AllowedOrigins())
	sc.tokens, err = dashboard.NewTokenIssuer(sc.cfg.DashboardTokenSecret(), sc.cfg.Dashboard.TokenTTL)
	if err != nil {
		return err
	}

	notifier := services.NewEmailNotifier(sc.cfg.Email, sc.logger)
	gamificationService := services.NewGamificationServiceWithLogger(sc.store, notifier, sc.hub, sc.logger)
	sc.services[ServiceGamification] = gamificationService

	assessmentService := services.NewAssessmentServiceWithLogger(grader, classifier, sc.logger)
	sc.services[ServiceAssessment] = assessmentService

	testService := services.NewTestServiceWithLogger(sc.store, assessmentService, gamificationService, media, sc.hub, sc.metrics, sc.logger)
	sc.services[ServiceTest] = testService

	sc.services[ServiceLearning] = services.NewLearningServiceWithLogger(sc.store, gamificationService, sc.hub, sc.logger)
	sc.services[ServiceUser] = services.NewUserServiceWithLogger(sc.store, sc.hub, sc.logger).WithConnectionRevoker(sc.hub)

	sc.scheduler, err = worker.NewScheduler(testService, gamificationService, sc.hub, sc.cfg.Gamification, sc.logger)
	if err != nil {
		return err
	}

	return gamificationService.SeedBadges(ctx)
}

// initializeAI builds the content grader and, when an endpoint is configured,
// the emotion classifier
func (sc *ServiceContainer) initializeAI() (services.ContentGrader, ai.EmotionClassifier, error) {
	maxConcurrent := sc.cfg.AI.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultMaxAIConcurrent
	}
	timeout := sc.cfg.AI.RequestTimeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}

	chat := ai.NewChatClient(sc.cfg.AI.Chat, maxConcurrent, timeout, sc.logger, sc.metrics)
	sc.shutdownFuncs = append(sc.shutdownFuncs, chat.Shutdown)
	templates, err := ai.NewTemplateManager()
	if err != nil {
		return nil, nil, err
	}
	if !chat.Configured() {
		sc.logger.Warn(context.Background(), "Chat model is not configured, free-text answers will fail to score")
	}
	grader := ai.NewContentEvaluator(chat, templates, sc.logger)

	emotion := ai.NewEmotionClient(sc.cfg.AI.Emotion, timeout, sc.logger, sc.metrics)
	if !emotion.Configured() {
		// A nil classifier makes every emotion sub-score neutral
		return grader, nil, nil
	}
	return grader, emotion, nil
}

// activityStore returns the Redis feed when enabled and reachable, otherwise
// the in-memory ring
func (sc *ServiceContainer) activityStore(ctx context.Context) dashboard.ActivityStore {
	if !sc.cfg.Redis.Enabled {
		return dashboard.NewMemoryActivityStore(sc.cfg.Redis.ActivityLimit)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     sc.cfg.Redis.Addr,
		Password: sc.cfg.Redis.Password,
		DB:       sc.cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		sc.logger.Warn(ctx, "Redis unreachable, using in-memory activity feed", map[string]interface{}{
			"addr":  sc.cfg.Redis.Addr,
			"error": err.Error(),
		})
		_ = rdb.Close()
		return dashboard.NewMemoryActivityStore(sc.cfg.Redis.ActivityLimit)
	}
	sc.shutdownFuncs = append(sc.shutdownFuncs, func(_ context.Context) error {
		return rdb.Close()
	})
	sc.logger.Info(ctx, "Using Redis activity feed", map[string]interface{}{
		"addr": sc.cfg.Redis.Addr,
		"key":  sc.cfg.Redis.ActivityKey,
	})
	return dashboard.NewRedisActivityStore(rdb, sc.cfg.Redis.ActivityKey, sc.cfg.Redis.ActivityLimit, sc.logger)
}

// Start launches the dashboard broadcaster and the job scheduler
func (sc *ServiceContainer) Start(ctx context.Context) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.stopHub != nil {
		return
	}

	hubCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sc.stopHub = cancel
	go sc.hub.Run(hubCtx)
	sc.scheduler.Start(ctx)
}

// GetService retrieves a service by name with type assertion
func (sc *ServiceContainer) GetService(name string) (interface{}, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	service, exists := sc.services[name]
	if !exists {
		return nil, contextutils.ErrorWithContextf("service %s not found", name)
	}
	return service, nil
}

// GetServiceAs performs type-safe service retrieval
func GetServiceAs[T any](sc *ServiceContainer, name string) (T, error) {
	var zero T
	service, err := sc.GetService(name)
	if err != nil {
		return zero, err
	}

	typed, ok := service.(T)
	if !ok {
		return zero, contextutils.ErrorWithContextf("service %s is not of expected type %T", name, zero)
	}
	return typed, nil
}

// GetUserService returns the user service
func (sc *ServiceContainer) GetUserService() (services.UserServiceInterface, error) {
	return GetServiceAs[services.UserServiceInterface](sc, ServiceUser)
}

// GetTestService returns the test and attempt service
func (sc *ServiceContainer) GetTestService() (services.TestServiceInterface, error) {
	return GetServiceAs[services.TestServiceInterface](sc, ServiceTest)
}

// GetLearningService returns the learning service
func (sc *ServiceContainer) GetLearningService() (services.LearningServiceInterface, error) {
	return GetServiceAs[services.LearningServiceInterface](sc, ServiceLearning)
}

// GetGamificationService returns the gamification service
func (sc *ServiceContainer) GetGamificationService() (services.GamificationServiceInterface, error) {
	return GetServiceAs[services.GamificationServiceInterface](sc, ServiceGamification)
}

// GetHub returns the dashboard hub
func (sc *ServiceContainer) GetHub() *dashboard.Hub {
	return sc.hub
}

// GetScheduler returns the job scheduler
func (sc *ServiceContainer) GetScheduler() *worker.Scheduler {
	return sc.scheduler
}

// GetStore returns the storage layer
func (sc *ServiceContainer) GetStore() storage.Store {
	return sc.store
}

// GetDatabase returns the database instance
func (sc *ServiceContainer) GetDatabase() *sql.DB {
	return sc.db
}

// GetConfig returns the configuration
func (sc *ServiceContainer) GetConfig() *config.Config {
	return sc.cfg
}

// GetLogger returns the logger
func (sc *ServiceContainer) GetLogger() *observability.Logger {
	return sc.logger
}

// Router builds the HTTP router over the container's services
func (sc *ServiceContainer) Router() *gin.Engine {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return handlers.NewRouter(
		sc.cfg,
		sc.services[ServiceUser].(services.UserServiceInterface),
		sc.services[ServiceTest].(services.TestServiceInterface),
		sc.services[ServiceLearning].(services.LearningServiceInterface),
		sc.services[ServiceGamification].(services.GamificationServiceInterface),
		sc.hub,
		sc.tokens,
		sc.scheduler,
		sc.logger,
	)
}

// Shutdown stops background work and releases every resource
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return sc.cleanup(ctx)
}

// cleanup handles shutdown of all services
func (sc *ServiceContainer) cleanup(ctx context.Context) error {
	var errors []error

	if sc.scheduler != nil {
		if err := sc.scheduler.Stop(ctx); err != nil {
			sc.logger.Error(ctx, "Failed to stop scheduler", err)
			errors = append(errors, err)
		}
	}
	if sc.stopHub != nil {
		sc.stopHub()
		sc.stopHub = nil
	}
	if sc.hub != nil {
		sc.hub.Close()
	}

	// Release resources in reverse order of initialization
	for i := len(sc.shutdownFuncs) - 1; i >= 0; i-- {
		if err := sc.shutdownFuncs[i](ctx); err != nil {
			errors = append(errors, err)
		}
	}
	sc.shutdownFuncs = nil

	if len(errors) > 0 {
		return contextutils.ErrorWithContextf("shutdown errors: %v", errors)
	}
	return nil
}

// EnsureAdminUser creates the configured admin user if it doesn't exist
func (sc *ServiceContainer) EnsureAdminUser(ctx context.Context) error {
	if sc.cfg.Server.AdminUsername == "" || sc.cfg.Server.AdminPassword == "" {
		sc.logger.Info(ctx, "No admin credentials configured, skipping admin bootstrap")
		return nil
	}
	userService, err := sc.GetUserService()
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to get user service")
	}

	return userService.EnsureAdminUser(ctx, sc.cfg.Server.AdminUsername, sc.cfg.Server.AdminPassword)
}
