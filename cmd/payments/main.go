package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"rover/internal/bootstrap"
	"rover/internal/payments/consumer"
	"rover/pkg/clock"
	"rover/pkg/config"
	mongotx "rover/pkg/db/mongo"
	"rover/pkg/kafka"
	kafka_middleware "rover/pkg/kafka/middleware"
	"syscall"
)

const ServiceName = "payments-consumer"

func main() {
	cfg := config.Load(ServiceName)
	if !cfg.KafkaEnabled {
		cfg.Log.Fatal("Payments consumer requires Kafka", "env", config.EnvKafkaEnabled)
	}
	cfg.SetMongo()
	defer cfg.GracefulShutdown()

	outputs, err := bootstrap.NewOutputs(cfg, ServiceName)
	if err != nil {
		cfg.Log.Fatal("Failed to set up outbound channels", "error", err)
	}
	defer outputs.Close(cfg)

	services := bootstrap.NewServices(
		cfg,
		bootstrap.NewMongoRepositories(cfg),
		mongotx.NewTransactionManager(cfg.Client.Mongo),
		clock.Real(),
		outputs,
	)

	verifications := consumer.NewVerificationConsumer(services.Payments, cfg.Log.Component("payments"))
	c, err := kafka.NewConsumer(
		outputs.Kafka,
		cfg.PaymentVerificationTopic,
		cfg.PaymentConsumerGroup,
		cfg.DLQTopic,
		verifications.Handle,
		cfg.Log.Component("kafka"),
	)
	if err != nil {
		cfg.Log.Fatal("Failed to create payment consumer", "error", err)
	}
	if outputs.Kafka.EnableMiddleware {
		c.Use(kafka_middleware.LoggingConsumerMiddleware(cfg.Log))
		c.Use(outputs.Metrics.ConsumerMiddleware())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Log.Info("Consuming payment verifications", "topic", cfg.PaymentVerificationTopic, "group_id", cfg.PaymentConsumerGroup)
	if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		cfg.Log.Error("Payment consumer stopped", "error", err)
	}
	if err := c.Close(); err != nil {
		cfg.Log.Error("Failed to close payment consumer", "error", err)
	}
	cfg.Log.Info("Payments consumer stopped")
}
