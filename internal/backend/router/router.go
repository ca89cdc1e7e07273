package router

import (
	"github.com/gin-gonic/gin"

	"sudooom.im.desk/internal/backend/handler"
	"sudooom.im.desk/internal/backend/middleware"
	"sudooom.im.desk/internal/config"
	"sudooom.im.desk/internal/jwt"
)

// SetupRouter 设置路由
func SetupRouter(
	cfg *config.DeskdConfig,
	jwtService *jwt.Service,
	authHandler *handler.AuthHandler,
	deskHandler *handler.DeskHandler,
) *gin.Engine {
	// 设置 Gin 模式
	gin.SetMode(cfg.App.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowCredentials,
	))

	// 已上传附件
	r.Static(cfg.Upload.PublicURL, cfg.Upload.Dir)

	// API v1
	v1 := r.Group("/api/v1")
	{
		// 开发 token 只在 debug 模式开放
		if cfg.App.Mode == gin.DebugMode {
			v1.POST("/auth/token", authHandler.IssueToken)
		}

		// 需要认证的接口
		authenticated := v1.Group("")
		authenticated.Use(middleware.JWTAuth(jwtService))
		{
			conversations := authenticated.Group("/conversations")
			{
				conversations.GET("", deskHandler.ListConversations)
				conversations.GET("/:id/messages", deskHandler.History)
				conversations.POST("/:id/messages", deskHandler.SendMessage)
				conversations.POST("/:id/visitor-messages", deskHandler.PostVisitorMessage)
				conversations.PUT("/:id/status", deskHandler.UpdateStatus)
				conversations.DELETE("/:id", deskHandler.DeleteConversation)
			}

			authenticated.POST("/uploads", deskHandler.Upload)
			authenticated.GET("/usage", deskHandler.Usage)
		}
	}

	return r
}
