package api

import (
	"github.com/gin-gonic/gin"
	"github.com/wfunc/story-game/internal/config"
	"github.com/wfunc/story-game/internal/game"
	"github.com/wfunc/story-game/internal/logger"
	"github.com/wfunc/story-game/internal/middleware"
	"github.com/wfunc/story-game/internal/repository"
	"github.com/wfunc/story-game/internal/service"
	ws "github.com/wfunc/story-game/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Router API路由器
type Router struct {
	engine         *gin.Engine
	db             *gorm.DB
	services       *service.Services
	coordinator    *game.Coordinator
	hub            *ws.Hub
	authHandler    *AuthHandler
	storyHandler   *StoryHandler
	wsHandler      *WebSocketHandler
	authMiddleware *middleware.AuthMiddleware
	log            *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(db *gorm.DB, cfg *config.Config, log *zap.Logger) *Router {
	// 创建Gin引擎
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	// 创建服务
	services := service.NewServices(db, cfg, log)

	// WebSocket中心：握手时校验令牌与会话成员资格
	sessionRepo := repository.NewStorySessionRepository(db)
	hub := ws.NewHub(NewSessionAuthenticator(services.Auth, sessionRepo), logger.GetModuleLogger("websocket"))

	// 回合协调器：在线状态与广播都走WebSocket中心
	coordinator := game.NewCoordinator(
		db,
		services.Narrative,
		services.Image,
		hub,
		hub,
		coordinatorConfig(cfg),
		logger.GetModuleLogger("game"),
	)

	// 创建处理器
	authHandler := NewAuthHandler(services.Auth)
	storyHandler := NewStoryHandler(coordinator)
	wsHandler := NewWebSocketHandler(hub, logger.GetModuleLogger("websocket"))

	// 创建中间件
	authMiddleware := middleware.NewAuthMiddleware(services.Auth)

	router := &Router{
		engine:         engine,
		db:             db,
		services:       services,
		coordinator:    coordinator,
		hub:            hub,
		authHandler:    authHandler,
		storyHandler:   storyHandler,
		wsHandler:      wsHandler,
		authMiddleware: authMiddleware,
		log:            log,
	}

	// 设置路由
	router.setupRoutes()

	return router
}

// coordinatorConfig 从全局配置组装协调器配置
func coordinatorConfig(cfg *config.Config) *game.CoordinatorConfig {
	cc := game.DefaultCoordinatorConfig()
	if cfg.AI.MaxRetries > 0 {
		cc.MaxRetries = cfg.AI.MaxRetries
	}
	if cfg.AI.RetryBackoff > 0 {
		cc.RetryBackoff = cfg.AI.RetryBackoff
	}
	if cfg.Game.HistoryWindow > 0 {
		cc.HistoryWindow = cfg.Game.HistoryWindow
	}
	if cfg.Game.MaxPlayersLimit > 0 {
		cc.MaxPlayersLimit = cfg.Game.MaxPlayersLimit
	}
	if cfg.Image.PlaceholderURL != "" {
		cc.PlaceholderImageURL = cfg.Image.PlaceholderURL
	}
	cc.AllowBranchTruncation = cfg.Game.AllowBranchTruncation
	return cc
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		// 认证相关路由（不需要认证）
		auth := v1.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/refresh", r.authHandler.RefreshToken)

			// 需要认证的路由
			authRequired := auth.Group("")
			authRequired.Use(r.authMiddleware.RequireAuth())
			{
				authRequired.GET("/profile", r.authHandler.Profile)
			}
		}

		// 故事会话路由（需要认证）
		stories := v1.Group("/stories")
		stories.Use(r.authMiddleware.RequireAuth())
		{
			stories.POST("", r.storyHandler.Start)
			stories.POST("/join", r.storyHandler.Join)
			stories.GET("", r.storyHandler.List)
			stories.GET("/:id", r.storyHandler.Get)
			stories.POST("/:id/actions", r.storyHandler.SubmitAction)
			stories.DELETE("/:id", r.storyHandler.Delete)
		}
	}

	// WebSocket路由：认证在握手消息里完成，不走HTTP中间件
	r.engine.GET("/ws", r.wsHandler.StoryWebSocket)

	// 静态文件服务
	r.engine.Static("/static", "./static")

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	// 检查数据库连接
	sqlDB, err := r.db.DB()
	if err != nil {
		c.JSON(500, gin.H{
			"status":  "unhealthy",
			"message": "数据库连接失败",
		})
		return
	}

	if err := sqlDB.Ping(); err != nil {
		c.JSON(500, gin.H{
			"status":  "unhealthy",
			"message": "数据库ping失败",
		})
		return
	}

	c.JSON(200, gin.H{
		"status":  "healthy",
		"service": "story-game",
	})
}

// Engine 返回Gin引擎
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Hub 返回WebSocket中心
func (r *Router) Hub() *ws.Hub {
	return r.hub
}
