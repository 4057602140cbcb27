package handlers

import (
	"net/http"
	"time"

	"assessapp/internal/config"
	"assessapp/internal/dashboard"
	"assessapp/internal/middleware"
	"assessapp/internal/observability"
	"assessapp/internal/services"
	"assessapp/internal/version"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

// ServiceName identifies the API in traces, logs and /v1/version
const ServiceName = "assess-backend"

// NewRouter creates the gin engine with all middleware and routes.
// scheduler may be nil, in which case the worker admin routes are not mounted.
func NewRouter(
	cfg *config.Config,
	userService services.UserServiceInterface,
	testService services.TestServiceInterface,
	learningService services.LearningServiceInterface,
	gamificationService services.GamificationServiceInterface,
	hub *dashboard.Hub,
	tokens *dashboard.TokenIssuer,
	scheduler Scheduler,
	logger *observability.Logger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	}
	if cfg.IsTest {
		gin.SetMode(gin.TestMode)
	}

	router := gin.New()
	recovery := middleware.DefaultErrorRecoveryConfig()
	recovery.EnableCircuitBreaker = cfg.Server.CircuitBreaker.Enabled
	if cfg.Server.CircuitBreaker.Threshold > 0 {
		recovery.CircuitBreakerThreshold = cfg.Server.CircuitBreaker.Threshold
	}
	if cfg.Server.CircuitBreaker.Timeout > 0 {
		recovery.CircuitBreakerTimeout = cfg.Server.CircuitBreaker.Timeout
	}
	router.Use(middleware.ErrorRecoveryMiddleware(logger, recovery))
	router.Use(requestLogger(logger))

	// Health check endpoint (defined before any middleware)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": ServiceName})
	})

	router.Use(observability.GinMiddleware(ServiceName))
	router.Use(observability.ErrorAttributes())

	// Disable automatic redirection for trailing slashes, which is better for APIs
	router.RedirectTrailingSlash = false

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Requested-With"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	store := cookie.NewStore([]byte(cfg.Server.SessionSecret))
	sessionOpts := sessions.Options{
		Path:     config.SessionPath,
		MaxAge:   int(config.SessionMaxAge.Seconds()),
		HttpOnly: config.SessionHTTPOnly,
		Secure:   config.SessionSecure,
	}
	if cfg.Server.Debug || cfg.IsTest {
		sessionOpts.SameSite = http.SameSiteDefaultMode
	} else {
		sessionOpts.SameSite = http.SameSiteLaxMode
		sessionOpts.Secure = true
	}
	store.Options(sessionOpts)
	router.Use(sessions.Sessions(config.SessionName, store))

	secureConfig := secure.DefaultConfig()
	secureConfig.SSLRedirect = false
	secureConfig.ContentSecurityPolicy = config.DefaultCSP
	if cfg.IsTest {
		secureConfig.IsDevelopment = true
	}
	router.Use(secure.New(secureConfig))

	authHandler := NewAuthHandler(userService, cfg, logger)
	userAdminHandler := NewUserAdminHandler(userService, logger)
	testHandler := NewTestHandler(testService, cfg, logger)
	learningHandler := NewLearningHandler(learningService, logger)
	gamificationHandler := NewGamificationHandler(gamificationService, logger)
	dashboardHandler := NewDashboardHandler(hub, tokens, userService, logger)
	routeListing := NewRouteListingHandler()

	requireAuth := middleware.RequireAuth(userService)
	requireAdmin := middleware.RequireAdmin(userService)

	v1 := router.Group("/v1")
	{
		v1.GET("/version", func(c *gin.Context) {
			c.JSON(http.StatusOK, version.Get(ServiceName))
		})
		v1.POST("/scoring/aggregate", gamificationHandler.Aggregate)

		// Socket upgrades authenticate themselves with a token or the session
		v1.GET("/ws", dashboardHandler.Connect)

		auth := v1.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/logout", authHandler.Logout)
			auth.GET("/me", requireAuth, authHandler.Me)
		}

		v1.GET("/me/progress", requireAuth, gamificationHandler.GetProgress)
		v1.GET("/badges", requireAuth, gamificationHandler.ListBadges)
		v1.GET("/leaderboard", requireAuth, gamificationHandler.GetLeaderboard)
		v1.POST("/dashboard/token", requireAuth, dashboardHandler.IssueToken)

		v1.GET("/topics", requireAuth, learningHandler.ListTopics)
		v1.POST("/topics", requireAdmin, learningHandler.CreateTopic)

		tests := v1.Group("/tests")
		{
			tests.GET("", requireAuth, testHandler.ListTests)
			tests.GET("/:id", requireAuth, testHandler.GetTest)
			tests.POST("", requireAdmin, testHandler.CreateTest)
			tests.PUT("/:id", requireAdmin, testHandler.UpdateTest)
			tests.DELETE("/:id", requireAdmin, testHandler.DeleteTest)
			tests.POST("/:id/questions", requireAdmin, testHandler.AddQuestion)
			tests.POST("/:id/attempts", requireAuth, testHandler.StartAttempt)
		}
		v1.PUT("/questions/:id", requireAdmin, testHandler.UpdateQuestion)
		v1.DELETE("/questions/:id", requireAdmin, testHandler.DeleteQuestion)

		attempts := v1.Group("/attempts", requireAuth)
		{
			attempts.GET("", testHandler.ListAttempts)
			attempts.GET("/:id", testHandler.GetAttempt)
			attempts.POST("/:id/answers", testHandler.SubmitAnswer)
			attempts.POST("/:id/complete", testHandler.CompleteAttempt)
		}
		v1.GET("/answers/:id/media", requireAuth, testHandler.GetAnswerMedia)
		v1.POST("/answers/:id/grade", requireAdmin, testHandler.GradeAnswer)

		modules := v1.Group("/modules")
		{
			modules.GET("", requireAuth, learningHandler.ListModules)
			modules.GET("/:id", requireAuth, learningHandler.GetModule)
			modules.GET("/:id/progress", requireAuth, learningHandler.GetModuleProgress)
			modules.POST("", requireAdmin, learningHandler.CreateModule)
			modules.PUT("/:id", requireAdmin, learningHandler.UpdateModule)
			modules.DELETE("/:id", requireAdmin, learningHandler.DeleteModule)
			modules.POST("/:id/lessons", requireAdmin, learningHandler.CreateLesson)
		}

		lessons := v1.Group("/lessons")
		{
			lessons.GET("/:id", requireAuth, learningHandler.GetLesson)
			lessons.POST("/:id/start", requireAuth, learningHandler.StartLesson)
			lessons.POST("/:id/complete", requireAuth, learningHandler.CompleteLesson)
			lessons.PUT("/:id", requireAdmin, learningHandler.UpdateLesson)
			lessons.DELETE("/:id", requireAdmin, learningHandler.DeleteLesson)
		}

		quizzes := v1.Group("/quizzes")
		{
			quizzes.GET("", requireAuth, learningHandler.ListQuizzes)
			quizzes.GET("/:id", requireAuth, learningHandler.GetQuiz)
			quizzes.POST("/:id/submit", requireAuth, learningHandler.SubmitQuiz)
			quizzes.POST("", requireAdmin, learningHandler.CreateQuiz)
			quizzes.DELETE("/:id", requireAdmin, learningHandler.DeleteQuiz)
		}

		admin := v1.Group("/admin", requireAdmin)
		{
			admin.GET("/dashboard", dashboardHandler.GetSnapshot)
			admin.GET("/users", userAdminHandler.ListUsers)
			admin.PUT("/users/:id/role", userAdminHandler.UpdateRole)
			admin.GET("/routes", routeListing.GetRouteListingJSON)

			if scheduler != nil {
				workerAdmin := NewWorkerAdminHandlerWithLogger(scheduler, logger)
				admin.GET("/worker/status", workerAdmin.GetWorkerStatus)
				admin.POST("/worker/jobs/:name/run", workerAdmin.RunJob)
				admin.POST("/worker/pause", workerAdmin.PauseWorker)
				admin.POST("/worker/resume", workerAdmin.ResumeWorker)
			}
		}
	}

	routeListing.CollectRoutes(router)
	return router
}

// requestLogger logs every request with its status and latency. Server
// errors are logged at error level, client errors at warn.
func requestLogger(logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		statusCode := c.Writer.Status()
		fields := map[string]interface{}{
			"http.method":      c.Request.Method,
			"http.path":        c.Request.URL.Path,
			"http.route":       c.FullPath(),
			"http.status_code": statusCode,
			"http.latency_ms":  time.Since(start).Milliseconds(),
			"http.client_ip":   c.ClientIP(),
			"http.user_agent":  c.Request.UserAgent(),
		}
		if len(c.Errors) > 0 {
			fields["http.error"] = c.Errors.String()
		}

		switch {
		case statusCode >= 500:
			fields["http.error_type"] = "server_error"
			logger.Error(c.Request.Context(), "HTTP request failed", nil, fields)
		case statusCode >= 400:
			fields["http.error_type"] = "client_error"
			logger.Warn(c.Request.Context(), "HTTP request warning", fields)
		default:
			logger.Debug(c.Request.Context(), "HTTP request", fields)
		}
	}
}
