// cmd/analytics-consumer/main.go
package main

import (
	"context"
	"errors"

	"bargain/internal/analytics"
	"bargain/internal/pkg/bootstrap"
	"bargain/internal/pkg/logger"
	"bargain/internal/pkg/mq"
)

// 读取分析主题并写成结构化日志，供日志平台入库
func main() {
	cfg, err := bootstrap.Init(nil)
	bootstrap.Exit(err)
	if cfg.Service.Name == bootstrap.Default().Service.Name {
		cfg.Service.Name = "bargain-analytics-consumer"
	}
	if len(cfg.Kafka.Brokers) == 0 {
		bootstrap.Exit(errors.New("KAFKA_BROKERS is required"))
	}

	bootstrap.Exit(bootstrap.StartService(bootstrap.AppInfo{
		Config: *cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) (bootstrap.Hooks, error) {
			kc := appCtx.Config.Kafka
			reader := mq.NewKafkaReader(kc.Brokers, kc.AnalyticsTopic, kc.ConsumerGroup)
			log := logger.Ctx(context.Background()).With().Str("topic", kc.AnalyticsTopic).Logger()
			consumer := analytics.NewConsumer(reader, analytics.LogSink{Logger: log})
			return bootstrap.Hooks{
				Workers:  []bootstrap.Worker{consumer.Run},
				Shutdown: []func(ctx context.Context) error{func(context.Context) error { return reader.Close() }},
			}, nil
		},
	}))
}
