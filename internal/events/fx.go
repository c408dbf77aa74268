package events

import (
	"context"
	"time"

	"github.com/smallbiznis/pixelcredit/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewFromConfig),
)

// NewFromConfig connects to AMQP when AMQP_URL is set; otherwise events are dropped.
func NewFromConfig(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Publisher, error) {
	if cfg.Events.AMQPURL == "" {
		log.Info("amqp not configured, events disabled")
		return NoopPublisher{}, nil
	}

	conn, err := Dial(cfg.Events.AMQPURL, 5, 2*time.Second)
	if err != nil {
		return nil, err
	}
	publisher, err := NewAMQPPublisher(conn, cfg.Events.Exchange, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return publisher.Close()
			},
		})
	}
	log.Info("amqp publisher ready", zap.String("exchange", cfg.Events.Exchange))
	return publisher, nil
}
