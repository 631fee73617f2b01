// Package bootstrap assembles the repositories, services and outbound
// channels shared by the rover binaries.
package bootstrap

import (
	"context"
	"fmt"
	"rover/pkg/app"
	"rover/pkg/config"
	"rover/pkg/devicecmd"
	"rover/pkg/kafka"
	kafka_config "rover/pkg/kafka/config"
	kafka_middleware "rover/pkg/kafka/middleware"
	"rover/pkg/notify"
)

// Outputs are the channels through which user notifications and device
// commands leave the process.
type Outputs struct {
	Notifier notify.Notifier
	Commands devicecmd.Sender
	Kafka    *kafka_config.Config
	Metrics  *kafka_middleware.Metrics

	producers []*kafka.Producer
}

// NewOutputs publishes to Kafka when it is enabled and logs otherwise.
func NewOutputs(cfg *config.Config, source string) (*Outputs, error) {
	if !cfg.KafkaEnabled {
		cfg.Log.Warn("Kafka disabled, notifications and device commands are only logged")
		return &Outputs{
			Notifier: notify.NewLogNotifier(cfg.Log),
			Commands: devicecmd.NewLogSender(cfg.Log),
		}, nil
	}

	kcfg, err := kafka_config.Load()
	if err != nil {
		return nil, err
	}

	out := &Outputs{Kafka: kcfg, Metrics: kafka_middleware.NewMetrics()}
	notifications, err := out.producer(cfg, cfg.NotificationTopic)
	if err != nil {
		return nil, err
	}
	commands, err := out.producer(cfg, cfg.DeviceCommandTopic)
	if err != nil {
		out.Close(cfg)
		return nil, err
	}

	out.Notifier = notify.NewKafkaNotifier(notifications, source)
	out.Commands = devicecmd.NewKafkaSender(commands, source)
	return out, nil
}

func (o *Outputs) producer(cfg *config.Config, topic string) (*kafka.Producer, error) {
	p, err := kafka.NewProducer(o.Kafka, topic, cfg.DLQTopic, cfg.Log.Component("kafka"))
	if err != nil {
		return nil, fmt.Errorf("failed to create producer for %s: %w", topic, err)
	}
	if o.Kafka.EnableMiddleware {
		p.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
		p.Use(o.Metrics.ProducerMiddleware())
	}
	o.producers = append(o.producers, p)
	return p, nil
}

// Checks are the readiness probes for the configured outputs.
func (o *Outputs) Checks() []app.Check {
	if o.Kafka == nil {
		return nil
	}
	return []app.Check{{
		Name: "kafka",
		Ping: func(ctx context.Context) error { return kafka.Ping(ctx, o.Kafka) },
	}}
}

func (o *Outputs) Close(cfg *config.Config) {
	for _, p := range o.producers {
		if err := p.Close(); err != nil {
			cfg.Log.Error("Failed to close Kafka producer", "topic", p.Topic(), "error", err)
		}
	}
	if o.Metrics != nil {
		cfg.Log.Info("Kafka traffic", o.Metrics.Snapshot().LogFields()...)
	}
}
