package storetest

import (
	"context"
	"os"
	"testing"
	"time"

	"storefront/internal/store"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Postgres 连接 TEST_POSTGRES_DSN 指向的库并建表，未设置或不可达时跳过测试。
// 数据不做清理，请使用一次性测试库；夹具名带随机后缀，互不冲突。
func Postgres(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := store.OpenPostgres(dsn, 20)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		t.Skipf("postgres unavailable: %v", err)
	}
	require.NoError(t, store.Migrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
