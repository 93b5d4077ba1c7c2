package main

import (
	"context"
	"log"

	"dinguscord/apps/notification-service/consumer"
	"dinguscord/apps/notification-service/service"
	"dinguscord/pkg/lifecycle"
	"dinguscord/pkg/pubsub"
	"dinguscord/pkg/roomstate"
	"dinguscord/pkg/server"
)

func main() {
	app := server.NewApplication("notification-service",
		server.WithMongoDB(),
		server.WithRedis(),
	)

	cfg := app.GetConfig()
	logInstance := app.GetLogger()
	redisClient := app.GetRedisClient()

	svc := service.NewService(
		app.GetMongoDB(),
		roomstate.NewStore(redisClient),
		pubsub.NewRedisBroadcaster(redisClient, logInstance),
		logInstance,
	)
	notificationConsumer := consumer.NewNotificationConsumer(svc, logInstance)

	app.GetLifecycle().AddHook(lifecycle.Hook{
		Name:     "notification-consumer",
		Priority: 200,
		OnStart: func(ctx context.Context) error {
			return notificationConsumer.Start(ctx, cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		},
		OnStop: func(ctx context.Context) error {
			return notificationConsumer.Stop()
		},
	})

	// 健康检查用的HTTP面
	app.EnableHTTP()

	if err := app.Run(); err != nil {
		log.Fatalf("Failed to run notification-service: %v", err)
	}
}
