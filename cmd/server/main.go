// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/config"
	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/handler"
	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/middleware"
	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/model"
	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/repository"
	"github.com/wacoachrusso/sky-interpretation-assistant1/internal/service"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/assistant"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/cache"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/database"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/kafka"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/log"
	"github.com/wacoachrusso/sky-interpretation-assistant1/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与 Kafka 生产者
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(&model.User{}, &model.Profile{}, &model.Conversation{}, &model.Message{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	store := cache.NewRedisStore(database.RDB)
	userRepo := repository.NewUserRepository(database.DB)
	profileRepo := repository.NewProfileRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB, store)
	messageRepo := repository.NewMessageRepository(database.DB, store)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	assistantClient := assistant.NewClient(cfg.Assistant.APIKey, cfg.Assistant.BaseURL, cfg.Assistant.AssistantID)
	userService := service.NewUserService(userRepo, jwtManager)
	quotaService := service.NewQuotaService(profileRepo)
	conversationService := service.NewConversationService(conversationRepo)
	messageService := service.NewMessageService(messageRepo, conversationRepo, assistantClient, conversationService, kafka.ProduceUsageEvent)

	// 6. 启动后台 Kafka 消费者，异步累计查询用量
	go kafka.StartConsumer(cfg.Kafka, quotaService)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	userHandler := handler.NewUserHandler(userService, quotaService)
	conversationHandler := handler.NewConversationHandler(conversationService, messageService)
	chatHandler := handler.NewChatHandler(messageService, quotaService, jwtManager)

	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", userHandler.RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager))
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		// Conversation 路由组，需要认证
		conversations := apiV1.Group("/conversations")
		conversations.Use(middleware.AuthMiddleware(jwtManager))
		{
			conversations.POST("/init", conversationHandler.Initialize)
			conversations.GET("", conversationHandler.List)
			conversations.POST("", conversationHandler.Create)
			conversations.POST("/:id/select", conversationHandler.Select)
			conversations.GET("/:id/messages", conversationHandler.Messages)
			conversations.DELETE("/:id", conversationHandler.Delete)
			conversations.DELETE("", conversationHandler.ClearAll)
		}

		// Chat 路由组，需要认证
		chat := apiV1.Group("/chat")
		chat.Use(middleware.AuthMiddleware(jwtManager))
		{
			chat.POST("/send", chatHandler.Send)
		}
	}
	// Chat 路由 (WebSocket)，token 在路径中携带
	r.GET("/chat/:token", chatHandler.Handle)

	// 9. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
