package notificator

import (
	"context"
	"fmt"
	"os"

	"restaurant-floor/internal/common/config"
	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/common/mq"
	"restaurant-floor/internal/microservices/notificator/service"
)

// Start runs a remote floor view that logs every table status change relayed by floor-service.
func Start(ctx context.Context, cfg config.App, log *logger.Logger) error {
	client, err := mq.Dial(cfg.Rabbit)
	if err != nil {
		log.Error("rabbitmq_connection_failed", err, nil)
		return err
	}
	defer client.Close()

	if err := client.DeclareFanout(cfg.Rabbit.Exchange, cfg.Rabbit.Queue); err != nil {
		return fmt.Errorf("declare %s: %w", cfg.Rabbit.Exchange, err)
	}

	host, _ := os.Hostname()
	sub := service.NewSubscriber(client, cfg.Rabbit.Queue, "notification-subscriber-"+host, log)
	return sub.Run(ctx)
}
