package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"

	"dinguscord/apps/connect-service/dao"
	"dinguscord/apps/connect-service/handler"
	"dinguscord/apps/connect-service/service"
	"dinguscord/pkg/cache"
	"dinguscord/pkg/eventbus"
	"dinguscord/pkg/lifecycle"
	"dinguscord/pkg/presence"
	"dinguscord/pkg/pubsub"
	"dinguscord/pkg/roomstate"
	"dinguscord/pkg/server"
	"dinguscord/pkg/snowflake"
)

func main() {
	app := server.NewApplication("connect-service",
		server.WithMongoDB(),
		server.WithPostgreSQL(),
		server.WithRedis(),
		server.WithKafka(),
	)

	cfg := app.GetConfig()
	logInstance := app.GetLogger()
	redisClient := app.GetRedisClient()

	ids, err := snowflake.NewSnowflake(int64(os.Getpid()) % 1024)
	if err != nil {
		log.Fatalf("Failed to create id generator: %v", err)
	}

	broadcaster := pubsub.NewRedisBroadcaster(redisClient, logInstance)

	hub := service.NewHub(service.HubDeps{
		Logger:      logInstance,
		Config:      cfg.Realtime,
		JWTSecret:   cfg.App.JWTSecret,
		Broadcaster: broadcaster,
		Presence:    presence.NewTracker(redisClient, cfg.Realtime.PresenceWindow, logInstance),
		Cache:       cache.NewMessageCache(redisClient, int64(cfg.Realtime.MessageCacheCap), logInstance),
		RoomState:   roomstate.NewStore(redisClient),
		Bus:         eventbus.NewBus(app.GetKafkaProducer(), logInstance),
		Messages:    dao.NewMongoMessageStore(app.GetMongoDB()),
		Rooms:       dao.NewPostgresRoomStore(app.GetPostgreSQL()),
		IDs:         ids,
	})

	// 表结构和索引在进程启动阶段显式迁移，幂等
	app.GetLifecycle().AddHook(lifecycle.Hook{
		Name:     "migrations",
		Priority: 10,
		OnStart: func(ctx context.Context) error {
			return dao.Migrate(ctx, app.GetPostgreSQL(), app.GetMongoDB())
		},
	})

	// 广播订阅循环在服务器就绪后启动
	app.GetLifecycle().AddHook(lifecycle.Hook{
		Name:     "hub",
		Priority: 200,
		OnStart: func(ctx context.Context) error {
			return hub.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return hub.Stop()
		},
	})

	app.EnableHTTP()
	wsServer := app.EnableWebSocket()
	wsServer.RegisterHandler("/api/v1/connect/ws", hub)

	httpHandler := handler.NewHandler(hub, logInstance)
	app.RegisterHTTPRoutes(func(engine *gin.Engine) {
		httpHandler.RegisterRoutes(engine)
	})

	if err := app.Run(); err != nil {
		log.Fatalf("Failed to run connect-service: %v", err)
	}
}
