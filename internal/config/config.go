package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 聚合运行时配置，通过环境变量或 CONFIG_FILE 指定的文件注入。
type AppConfig struct {
	HTTPAddr string

	DBDriver       string
	DBDSN          string
	DBMaxOpenConns int
	// LockTimeout 行锁等待上限，超时即整笔事务失败
	LockTimeout time.Duration

	RedisAddr string
	RedisDB   int

	// Kafka 集群地址（逗号分隔）、通知 Topic、消费者组
	KafkaBrokers  []string
	NotifyTopic   string
	NotifyGroupID string

	// Redis Stream outbox（API 入流，Relay 异步转 Kafka）
	NotifyStream         string
	NotifyStreamGroup    string
	NotifyStreamConsumer string
	NotifyMaxAttempts    int
	NotifyRetryDelay     time.Duration

	// 下单接口限流与幂等、库存缓存
	CheckoutRateLimit  int
	CheckoutRateWindow time.Duration
	IdempotencyTTL     time.Duration
	StockCacheTTL      time.Duration
	LowStockThreshold  int

	SiteURL   string
	LogLevel  string
	LogPretty bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "storefront.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("LOCK_TIMEOUT_MS", 3000)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("NOTIFY_TOPIC", "storefront-notifications")
	v.SetDefault("NOTIFY_GROUP_ID", "storefront-notify-worker")
	v.SetDefault("NOTIFY_STREAM", "storefront:notify_tasks")
	v.SetDefault("NOTIFY_STREAM_GROUP", "storefront-relay-group")
	v.SetDefault("NOTIFY_STREAM_CONSUMER", "storefront-relay-1")
	v.SetDefault("NOTIFY_MAX_ATTEMPTS", 3)
	v.SetDefault("NOTIFY_RETRY_DELAY_SEC", 60)
	v.SetDefault("CHECKOUT_RATE_LIMIT", 20)
	v.SetDefault("CHECKOUT_RATE_WINDOW_SEC", 60)
	v.SetDefault("IDEMPOTENCY_TTL_HOUR", 24)
	v.SetDefault("STOCK_CACHE_TTL_SEC", 300)
	v.SetDefault("LOW_STOCK_THRESHOLD", 5)
	v.SetDefault("SITE_URL", "http://localhost:8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := strings.TrimSpace(v.GetString("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return AppConfig{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := AppConfig{
		HTTPAddr:             v.GetString("HTTP_ADDR"),
		DBDriver:             strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:                v.GetString("DB_DSN"),
		DBMaxOpenConns:       v.GetInt("DB_MAX_OPEN_CONNS"),
		LockTimeout:          time.Duration(v.GetInt("LOCK_TIMEOUT_MS")) * time.Millisecond,
		RedisAddr:            v.GetString("REDIS_ADDR"),
		RedisDB:              v.GetInt("REDIS_DB"),
		KafkaBrokers:         splitCSV(v.GetString("KAFKA_BROKERS")),
		NotifyTopic:          v.GetString("NOTIFY_TOPIC"),
		NotifyGroupID:        v.GetString("NOTIFY_GROUP_ID"),
		NotifyStream:         v.GetString("NOTIFY_STREAM"),
		NotifyStreamGroup:    v.GetString("NOTIFY_STREAM_GROUP"),
		NotifyStreamConsumer: v.GetString("NOTIFY_STREAM_CONSUMER"),
		NotifyMaxAttempts:    v.GetInt("NOTIFY_MAX_ATTEMPTS"),
		NotifyRetryDelay:     time.Duration(v.GetInt("NOTIFY_RETRY_DELAY_SEC")) * time.Second,
		CheckoutRateLimit:    v.GetInt("CHECKOUT_RATE_LIMIT"),
		CheckoutRateWindow:   time.Duration(v.GetInt("CHECKOUT_RATE_WINDOW_SEC")) * time.Second,
		IdempotencyTTL:       time.Duration(v.GetInt("IDEMPOTENCY_TTL_HOUR")) * time.Hour,
		StockCacheTTL:        time.Duration(v.GetInt("STOCK_CACHE_TTL_SEC")) * time.Second,
		LowStockThreshold:    v.GetInt("LOW_STOCK_THRESHOLD"),
		SiteURL:              strings.TrimRight(v.GetString("SITE_URL"), "/"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		LogPretty:            v.GetBool("LOG_PRETTY"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("LOCK_TIMEOUT_MS must be >= 0")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	if c.NotifyTopic == "" {
		return fmt.Errorf("NOTIFY_TOPIC must not be empty")
	}
	if c.NotifyGroupID == "" {
		return fmt.Errorf("NOTIFY_GROUP_ID must not be empty")
	}
	if c.NotifyStream == "" || c.NotifyStreamGroup == "" || c.NotifyStreamConsumer == "" {
		return fmt.Errorf("NOTIFY_STREAM, NOTIFY_STREAM_GROUP and NOTIFY_STREAM_CONSUMER must not be empty")
	}
	// 通知至少尝试三次
	if c.NotifyMaxAttempts < 3 {
		return fmt.Errorf("NOTIFY_MAX_ATTEMPTS must be >= 3")
	}
	if c.CheckoutRateLimit <= 0 {
		return fmt.Errorf("CHECKOUT_RATE_LIMIT must be > 0")
	}
	if c.CheckoutRateWindow <= 0 {
		return fmt.Errorf("CHECKOUT_RATE_WINDOW_SEC must be > 0")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL_HOUR must be > 0")
	}
	if c.StockCacheTTL <= 0 {
		return fmt.Errorf("STOCK_CACHE_TTL_SEC must be > 0")
	}
	return nil
}

// splitCSV 将逗号分隔字符串解析为字符串切片。
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
