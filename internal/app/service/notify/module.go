package notify

import (
	"context"
	"fmt"

	"github.com/fatflowers/settle/pkg/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// New selects the publisher for events.driver and closes it on shutdown.
func New(lc fx.Lifecycle, cfg *config.Config, log *zap.SugaredLogger) (Publisher, error) {
	var (
		p   Publisher
		err error
	)
	switch cfg.Events.Driver {
	case config.EventsDriverKafka:
		if len(cfg.Events.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("events.kafka.brokers is empty")
		}
		p = NewKafkaPublisher(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic)
	case config.EventsDriverRabbitMQ:
		p, err = NewRabbitPublisher(cfg.Events.RabbitMQ.URL, cfg.Events.RabbitMQ.Queue)
		if err != nil {
			return nil, err
		}
	case config.EventsDriverLog, "":
		p = NewLogPublisher(log)
	default:
		return nil, fmt.Errorf("unsupported events driver %q", cfg.Events.Driver)
	}
	log.Infow("event publisher ready", "driver", cfg.Events.Driver)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Close()
		},
	})
	return p, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
