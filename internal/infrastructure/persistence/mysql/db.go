// Package mysql is the ledger backend on MySQL through GORM.
//
// Stock records carry a version column; every swap is a conditional UPDATE on
// (sku, version), and Hold/Settle run the swap and the reservation write in one
// transaction.
package mysql

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xiebiao/stockledger/internal/infrastructure/config"
)

// NewDB opens the pool, pings it and, if configured, migrates the schema.
func NewDB(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	logLevel := logger.Silent
	if cfg.Server.Mode == "debug" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(mysql.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info("database connected",
		zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	if cfg.Database.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	return db, nil
}

// AutoMigrate creates or extends the ledger tables. It never drops columns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&StockRecordModel{},
		&ReservationModel{},
		&StockMovementModel{},
	)
}

type StockRecordModel struct {
	SKU       string    `gorm:"primaryKey;size:64"`
	OnHand    int       `gorm:"not null;check:chk_on_hand,on_hand >= 0"`
	Reserved  int       `gorm:"not null;default:0;check:chk_reserved,reserved >= 0 AND reserved <= on_hand"`
	Version   int64     `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"type:datetime(6)"`
	UpdatedAt time.Time `gorm:"type:datetime(6)"`
}

func (StockRecordModel) TableName() string {
	return "stock_records"
}

type ReservationModel struct {
	ID        string     `gorm:"primaryKey;size:36"`
	SKU       string     `gorm:"index:idx_sku_status;size:64;not null"`
	Quantity  int        `gorm:"not null"`
	Status    string     `gorm:"index:idx_sku_status;index:idx_status_expires;size:16;not null"`
	CreatedAt time.Time  `gorm:"type:datetime(6)"`
	ExpiresAt time.Time  `gorm:"index:idx_status_expires;type:datetime(6);not null"`
	SettledAt *time.Time `gorm:"type:datetime(6)"`
}

func (ReservationModel) TableName() string {
	return "reservations"
}

// StockMovementModel is one journal row, written in the same statement batch
// as the swap it records.
type StockMovementModel struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	SKU            string    `gorm:"index:idx_sku_id;size:64;not null"`
	Type           string    `gorm:"size:16;not null"`
	ReservationID  string    `gorm:"size:36"`
	Quantity       int       `gorm:"not null"`
	OnHandBefore   int       `gorm:"not null"`
	OnHandAfter    int       `gorm:"not null"`
	ReservedBefore int       `gorm:"not null"`
	ReservedAfter  int       `gorm:"not null"`
	Version        int64     `gorm:"not null"`
	CreatedAt      time.Time `gorm:"type:datetime(6)"`
}

func (StockMovementModel) TableName() string {
	return "stock_movements"
}
