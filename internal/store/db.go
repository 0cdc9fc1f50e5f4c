// Package store 负责打开数据库、建表以及行锁相关的小工具。
package store

import (
	"fmt"
	"time"

	"storefront/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open 按驱动名打开连接池。
func Open(driver, dsn string, maxOpenConns int) (*gorm.DB, error) {
	switch driver {
	case DriverPostgres:
		return OpenPostgres(dsn, maxOpenConns)
	case DriverSQLite:
		return OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// OpenPostgres 生产环境使用，支持真正的 SELECT ... FOR UPDATE。
func OpenPostgres(dsn string, maxOpenConns int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
		sqlDB.SetMaxIdleConns(maxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// OpenSQLite 用于本地开发与测试。
// SQLite 没有行锁，这里把连接池限制为 1，事务在连接上串行，
// 效果等同于行锁对写者的串行化；":memory:" 库也因此在连接间共享。
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate 建表，幂等。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.UserAddress{},
		&model.Category{},
		&model.Product{},
		&model.Service{},
		&model.Review{},
		&model.PaymentMethod{},
		&model.DeliveryMethod{},
		&model.Order{},
		&model.OrderItem{},
		&model.OrderItemService{},
		&model.OrderStatusHistory{},
	)
}

// ForUpdate 给查询加排他行锁；SQLite 方言会忽略该子句。
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// SetLockTimeout 限定当前事务的锁等待时间，仅 postgres 生效。
// 必须在事务内调用（SET LOCAL 随事务结束失效）。
func SetLockTimeout(tx *gorm.DB, d time.Duration) error {
	if d <= 0 || tx.Dialector.Name() != DriverPostgres {
		return nil
	}
	return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds())).Error
}
