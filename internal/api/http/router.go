package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/mentorlink/internal/metrics"
)

func SetupRouter(sessionController *SessionController, m *metrics.Metrics, allowedOrigins []string) *gin.Engine {
	router := gin.Default()
	config := cors.DefaultConfig()
	config.AllowOrigins = allowedOrigins
	if len(config.AllowOrigins) == 0 {
		config.AllowOrigins = []string{"http://localhost:3000"}
	}
	config.AllowCredentials = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	api := router.Group("/api")

	if sessionController != nil {
		api.GET("/ice-servers", sessionController.ICEServers)

		sessions := api.Group("/sessions")
		sessions.POST("", sessionController.CreateSession)
		sessions.GET("/:code", sessionController.GetSession)
		sessions.GET("/:code/ws", sessionController.JoinSession)
	}

	return router
}
