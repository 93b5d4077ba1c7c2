package main

import (
	"log"

	"github.com/gin-gonic/gin"

	"dinguscord/apps/presence-service/handler"
	"dinguscord/apps/presence-service/service"
	"dinguscord/pkg/presence"
	"dinguscord/pkg/server"
)

func main() {
	app := server.NewApplication("presence-service",
		server.WithRedis(),
	)

	cfg := app.GetConfig()
	logInstance := app.GetLogger()

	tracker := presence.NewTracker(app.GetRedisClient(), cfg.Realtime.PresenceWindow, logInstance)
	svc := service.NewService(tracker)

	app.EnableHTTP()

	httpHandler := handler.NewHandler(svc, logInstance)
	app.RegisterHTTPRoutes(func(engine *gin.Engine) {
		httpHandler.RegisterRoutes(engine)
	})

	if err := app.Run(); err != nil {
		log.Fatalf("Failed to run presence-service: %v", err)
	}
}
