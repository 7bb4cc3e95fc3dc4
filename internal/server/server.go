package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"mango/internal/ai/component"
	"mango/internal/config"
	"mango/internal/handler"
	taskHandler "mango/internal/handler/videotask"
	"mango/internal/pkg/ark"
	"mango/internal/pkg/cache"
	"mango/internal/pkg/ffmpeg"
	"mango/internal/pkg/jwt"
	"mango/internal/pkg/mongodb"
	"mango/internal/pkg/promotools"
	"mango/internal/pkg/promotools/providers"
	"mango/internal/pkg/storagefactory"
	taskRepo "mango/internal/repository/videotask"
	"mango/internal/server/middleware"
	taskService "mango/internal/service/videotask"
)

// Server HTTP 服务器
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	mongo  *mongodb.Client
	redis  *cache.RedisCache
}

// New 创建服务器实例并完成依赖装配
// MongoDB 是任务存储，必须可用；Redis/LLM 可选，缺失时功能降级
func New(cfg *config.Config) (*Server, error) {
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// MongoDB（必需，任务存储）
	mongoClient, err := mongodb.New(&cfg.Mongo)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

	if err := mongodb.EnsureIndexes(mongoClient.Database()); err != nil {
		log.Warn().Err(err).Msg("failed to ensure indexes")
	}

	// Redis（可选，终态进度缓存）
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without it")
		} else {
			redisCache = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	// 对象存储（local/oss）
	store, err := storagefactory.NewStorage(context.Background(), &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.Info().Str("type", store.GetStorageType()).Msg("storage initialized")

	// Ark 视频生成客户端
	videoClient, err := ark.NewVideoClient(&ark.VideoConfig{
		APIKey:       cfg.Video.APIKey,
		BaseURL:      cfg.Video.BaseURL,
		Model:        cfg.Video.Model,
		PollInterval: cfg.Video.PollInterval,
		PollTimeout:  cfg.Video.PollTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init ark video client: %w", err)
	}

	// LLM（可选，脚本生成；未配置时走模板兜底）
	var llm promotools.LLMProvider
	if cfg.AI.APIKey != "" {
		chatModel, err := component.NewChatModel(context.Background(), &cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize chat model, script generation falls back to template")
		} else {
			llm = providers.NewEinoProvider(chatModel)
			log.Info().Str("provider", cfg.AI.Provider).Str("model", cfg.AI.Model).Msg("chat model initialized")
		}
	}

	merger := taskService.NewFFmpegMerger(ffmpeg.NewClient(), store)

	repo := taskRepo.NewRepo(mongoClient.Database())
	taskSvc := taskService.NewVideoTaskService(repo, videoClient, merger, llm, redisCache, &cfg.Video)

	srv := &Server{
		cfg:    cfg,
		engine: engine,
		mongo:  mongoClient,
		redis:  redisCache,
	}

	srv.setupRoutes(taskSvc)

	return srv, nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(taskSvc taskService.VideoTaskService) {
	// 全局中间件
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS())

	// 健康检查
	healthHandler := handler.NewHealthHandler()
	s.engine.GET("/health", healthHandler.Health)
	s.engine.GET("/ready", healthHandler.Ready)

	// Swagger 文档
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	taskHdl := taskHandler.NewHandler(taskSvc)

	// API v1
	v1 := s.engine.Group("/api/v1")

	// JWT 密钥配置了才启用认证（小程序侧自带会话时可以不配）
	if s.cfg.Auth.JWTSecret != "" {
		expiry := s.cfg.Auth.AccessTokenExpiry
		if expiry == 0 {
			expiry = 24 * time.Hour
		}
		jwtUtil := jwt.NewJWT(s.cfg.Auth.JWTSecret, expiry)
		v1.Use(middleware.Auth(jwtUtil))
		log.Info().Msg("JWT auth enabled for API routes")
	}

	{
		v1.POST("/video-tasks", taskHdl.CreateTask)
		v1.GET("/video-tasks", taskHdl.ListTasks)
		v1.GET("/video-tasks/:task_id/progress", taskHdl.GetProgress)
	}
}

// Run 启动服务器
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server...")

		if s.mongo != nil {
			if err := s.mongo.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to close MongoDB connection")
			}
		}
		if s.redis != nil {
			if err := s.redis.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close Redis connection")
			}
		}

		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

// Engine 获取 Gin 引擎 (用于测试)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
