package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var _ Store = (*GormStore)(nil)

// auctionDocument is one row per auction holding the latest snapshot as JSONB.
type auctionDocument struct {
	AuctionID string `gorm:"primaryKey;size:64"`
	Seq       int64  `gorm:"not null"`
	Status    string `gorm:"size:32;not null"`
	Document  []byte `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (auctionDocument) TableName() string { return "auction_sessions" }

type GormStore struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenPostgres connects through pgx's database/sql driver, hands the pool to
// gorm and migrates the snapshot table.
func OpenPostgres(ctx context.Context, dsn string, pool PoolConfig) (*GormStore, error) {
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	sqlDB := stdlib.OpenDB(*connConfig)
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&auctionDocument{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormStore{db: db, sqlDB: sqlDB}, nil
}

func (s *GormStore) Close() error { return s.sqlDB.Close() }

func (s *GormStore) Ping(ctx context.Context) error { return s.sqlDB.PingContext(ctx) }

func (s *GormStore) LoadSession(ctx context.Context, auctionID string) (*Snapshot, error) {
	var doc auctionDocument
	err := s.db.WithContext(ctx).First(&doc, "auction_id = ?", auctionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gorm store: load %s: %w", auctionID, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(doc.Document, &snap); err != nil {
		return nil, fmt.Errorf("gorm store: decode %s: %w", auctionID, err)
	}
	return &snap, nil
}

// SaveSession upserts the snapshot unless the stored one is already newer.
func (s *GormStore) SaveSession(ctx context.Context, snap *Snapshot) error {
	snap.SavedAt = time.Now().UTC()
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("gorm store: encode %s: %w", snap.AuctionID, err)
	}

	doc := auctionDocument{
		AuctionID: snap.AuctionID,
		Seq:       snap.Seq,
		Status:    string(snap.State.Status),
		Document:  body,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "auction_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"seq", "status", "document", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "auction_sessions.seq <= excluded.seq"},
		}},
	}).Create(&doc).Error
	if err != nil {
		return fmt.Errorf("gorm store: save %s: %w", snap.AuctionID, err)
	}
	return nil
}
