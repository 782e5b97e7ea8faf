package floor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"restaurant-floor/internal/common/config"
	"restaurant-floor/internal/common/db"
	"restaurant-floor/internal/common/httpx"
	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/common/mq"
	"restaurant-floor/internal/microservices/floor/broadcast"
	"restaurant-floor/internal/microservices/floor/handlers"
	"restaurant-floor/internal/microservices/floor/service"
	"restaurant-floor/internal/microservices/kitchen/timer"
	"restaurant-floor/internal/microservices/menu/cache"
	notify "restaurant-floor/internal/microservices/notificator/service"
	"restaurant-floor/internal/repository"
)

const relayBuffer = 256

type Options struct {
	Port  int
	Store string // postgres | memory
	Seed  bool
}

// Run builds the floor-service and serves until ctx is canceled.
func Run(ctx context.Context, cfg config.App, opts Options, log *logger.Logger) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required for floor-service")
	}
	store, closeStore, err := openStore(ctx, cfg, opts, log)
	if err != nil {
		return err
	}
	defer closeStore()
	gw := repository.WithTimeout(store, cfg.Floor.StoreTimeout)

	clock := clockwork.NewRealClock()

	var cacheOpts []cache.Option
	cacheOpts = append(cacheOpts, cache.WithClock(clock))
	if cfg.Redis.Addr != "" {
		rdb := cache.NewRedisClient(cfg.Redis)
		defer rdb.Close()
		cacheOpts = append(cacheOpts, cache.WithMirror(cache.NewRedisMirror(rdb, cfg.Redis.MirrorTTL)))
	}
	menu := cache.New(gw, cfg.Menu, log.With("menu-cache"), cacheOpts...)

	reg := broadcast.NewRegistry(log.With("broadcast"))

	mon := timer.New(cfg.Kitchen, clock, log.With("kitchen-timer"))
	mon.OnChange(func(s timer.Snapshot) {
		log.Info("kitchen_timer_class_changed", map[string]any{
			"order_id": s.OrderID, "table_id": s.TableID, "class": s.Class, "elapsed": s.Display,
		})
	})

	engineOpts := []service.OrderOption{service.WithKitchen(mon), service.WithClock(clock)}
	if len(cfg.Kafka.Brokers) > 0 {
		w := notify.NewKafkaWriter(cfg.Kafka)
		defer w.Close()
		engineOpts = append(engineOpts, service.WithEvents(notify.NewKafkaOrderSink(w)))
		log.Info("kafka_sink_enabled", map[string]any{"topic": cfg.Kafka.Topic})
	}

	tables := service.NewTableEngine(gw, reg, cfg.Floor.ClearAssignmentOnDirty, log.With("table-engine"))
	orders := service.NewOrderEngine(gw, tables, menu, cfg.Floor, log.With("order-engine"), engineOpts...)

	if _, err := orders.RestoreKitchen(ctx); err != nil {
		log.Error("kitchen_restore_failed", err, nil)
	}

	var relay *notify.TableStatusRelay
	if cfg.Rabbit.Host != "" {
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
		relay = notify.NewTableStatusRelay(client, cfg.Rabbit.Exchange, "floor-service-"+host, relayBuffer, log.With("relay"))
		sub := reg.Subscribe(relay.Handle)
		defer sub.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	h := handlers.New(tables, orders, menu, mon, reg, log.With("http"))
	srv := httpx.New(opts.Port, handlers.Router(h, cfg.HTTP, cfg.Auth))
	g.Go(func() error { return srv.Run(gctx) })

	log.Info("service_started", map[string]any{"port": opts.Port, "store": opts.Store})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.App, opts Options, log *logger.Logger) (repository.Store, func(), error) {
	switch opts.Store {
	case "memory":
		mem := repository.NewMemoryStore()
		if opts.Seed {
			mem.SeedDemo()
			log.Info("memory_store_seeded", nil)
		}
		return mem, func() {}, nil
	case "postgres", "":
		conn, err := db.Connect(ctx, cfg.Database)
		if err != nil {
			log.Error("db_connection_failed", err, nil)
			return nil, nil, err
		}
		pg := repository.NewPostgresStore(conn.Pool)
		if err := pg.Migrate(ctx); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return pg, conn.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", opts.Store)
	}
}
