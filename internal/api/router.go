package api

import (
	"time"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/api/handlers"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/api/middleware"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/config"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/queue"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/session"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/websocket"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/pkg/catalog"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/pkg/distributed"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/pkg/history"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// SetupRouter wires queue engine, session manager and realtime hub onto the
// HTTP surface. redisClient may be nil: the queue engine then runs purely on
// its local fallback store.
func SetupRouter(cfg *config.Config, redisClient *redis.Client) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	log := logger.L()

	// Collaborator clients
	questionClient := catalog.NewClient(cfg.QuestionServiceURL, cfg.CollaboratorTimeout, log.Named("catalog"))
	historyClient := history.NewClient(cfg.HistoryServiceURL, cfg.CollaboratorTimeout, log.Named("history"))

	// Session lifecycle manager
	sessionManager := session.NewManager(historyClient, cfg.SessionGracePeriod, log.Named("session"))

	// Realtime hub
	hub := websocket.NewHub(sessionManager, log.Named("hub"))
	go hub.Run()

	// Matchmaking queue engine, shared store when redis is available
	var sharedStore *queue.RedisStore
	var lockManager *distributed.RedisLockManager
	if redisClient != nil {
		sharedStore = queue.NewRedisStore(redisClient, cfg.MatchWaitBound+10*time.Second, log.Named("queue-store"))
		lockManager = distributed.NewRedisLockManager(redisClient)
	}

	engine := queue.NewEngine(
		sharedStore,
		lockManager,
		questionClient,
		sessionManager,
		hub,
		cfg.MatchWaitBound,
		log.Named("queue"),
	)
	hub.SetEngine(engine)

	// Handlers
	sessionHandler := handlers.NewSessionHandler(sessionManager)
	statsHandler := handlers.NewStatsHandler(engine, sessionManager, hub)
	wsHandler := handlers.NewWebSocketHandler(hub, log.Named("ws"))

	// Health check
	router.GET("/health", handlers.HealthCheck)

	// API v1
	v1 := router.Group("/api/v1")
	{
		// Realtime channel (search + collaborative session)
		v1.GET("/ws", middleware.Auth(cfg), wsHandler.HandleWebSocket)

		// Operational session surface
		sessions := v1.Group("/sessions")
		sessions.Use(middleware.Auth(cfg), middleware.GeneralAPIRateLimit())
		{
			sessions.POST("", middleware.SessionCreationRateLimit(), sessionHandler.CreateSession)
			sessions.GET("/:id", sessionHandler.GetSession)
		}

		// Aggregate stats
		v1.GET("/stats", middleware.Auth(cfg), middleware.GeneralAPIRateLimit(), statsHandler.GetStats)
	}

	return router
}
