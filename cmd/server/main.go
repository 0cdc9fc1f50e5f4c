package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/account"
	"storefront/internal/address"
	"storefront/internal/catalog"
	"storefront/internal/config"
	"storefront/internal/inventory"
	"storefront/internal/logger"
	"storefront/internal/middleware"
	"storefront/internal/order"
	"storefront/internal/queue"
	"storefront/internal/router"
	"storefront/internal/store"
	sfredis "storefront/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", false)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	// 1. 数据库，自动建表
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN, cfg.DBMaxOpenConns)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("db open")
	}
	if err := store.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	// 2. Redis：幂等、限流、库存缓存、通知 outbox
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()

	// 3. Kafka：Relay 把 outbox 转入 Topic，Worker 消费后发信
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.NotifyTopic)
	defer producer.Close()
	notifier := queue.NewNotifier(queue.NewStreamDispatcher(rdb, cfg.NotifyStream), log)
	relay := queue.NewRelay(rdb, producer, cfg.NotifyStream, cfg.NotifyStreamGroup, cfg.NotifyStreamConsumer, log)
	worker := queue.NewWorker(
		queue.NewReader(cfg.KafkaBrokers, cfg.NotifyTopic, cfg.NotifyGroupID),
		queue.NewLogMailer(log),
		cfg.NotifyMaxAttempts,
		cfg.NotifyRetryDelay,
		log,
	)
	defer worker.Close()

	deps := buildDeps(cfg, db, rdb, notifier, log)

	r := gin.New()
	r.Use(middleware.RequestLogger(log))
	router.Setup(r, deps)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return relay.Run(ctx)
	})
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("db", cfg.DBDriver).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("server stopped")
		return
	}
	log.Info().Msg("server stopped")
}

// buildDeps 组装路由依赖的全部业务服务。
func buildDeps(cfg config.AppConfig, db *gorm.DB, rdb *rd.Client, notifier *queue.Notifier, log zerolog.Logger) *router.Deps {
	ledger := inventory.NewLedger(db, cfg.LockTimeout, log)
	return &router.Deps{
		Categories:        catalog.NewCategories(db, log),
		Products:          catalog.NewProducts(db, log),
		Services:          catalog.NewServices(db, log),
		Reviews:           catalog.NewReviews(db, log),
		Ledger:            ledger,
		Addresses:         address.NewBook(db, log),
		Orders:            order.NewLifecycle(db, ledger, notifier, cfg.LockTimeout, log),
		Users:             account.NewUsers(db, notifier, cfg.SiteURL, log),
		Idempotency:       sfredis.NewIdempotency(rdb, sfredis.DefaultPrefix, cfg.IdempotencyTTL),
		StockCache:        sfredis.NewStockCache(rdb, sfredis.DefaultPrefix, cfg.StockCacheTTL),
		CheckoutLimiter:   middleware.RateLimit(rdb, sfredis.DefaultPrefix, "checkout", cfg.CheckoutRateLimit, cfg.CheckoutRateWindow, log),
		LowStockThreshold: int64(cfg.LowStockThreshold),
		Log:               log,
	}
}
