package persist

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketstream/internal/model"
	"marketstream/pkg/exception"
)

// CandleRecord is the stored form of a finished bar.
type CandleRecord struct {
	Symbol      string `gorm:"primaryKey;size:32"`
	TimeframeMs int64  `gorm:"primaryKey"`
	Start       int64  `gorm:"primaryKey"`
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	Trades      int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CandleRecord) TableName() string {
	return "candles"
}

func toRecord(c model.Candle) CandleRecord {
	return CandleRecord{
		Symbol:      c.Symbol,
		TimeframeMs: c.TimeframeMs,
		Start:       c.Start,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
		Trades:      c.Trades,
	}
}

func (r CandleRecord) candle() model.Candle {
	return model.Candle{
		Symbol:      r.Symbol,
		TimeframeMs: r.TimeframeMs,
		Start:       r.Start,
		Open:        r.Open,
		High:        r.High,
		Low:         r.Low,
		Close:       r.Close,
		Volume:      r.Volume,
		Trades:      r.Trades,
		Complete:    true,
	}
}

// Repository stores finished bars in postgres.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the candles table.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&CandleRecord{}); err != nil {
		return errors.Wrap(err, "auto migrate candles")
	}
	return nil
}

// Save upserts candles keyed by (symbol, timeframe, start).
func (r *Repository) Save(ctx context.Context, candles ...model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	records := make([]CandleRecord, 0, len(candles))
	for _, c := range candles {
		records = append(records, toRecord(c))
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe_ms"}, {Name: "start"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "trades", "updated_at"}),
	}).Create(&records).Error
	if err != nil {
		return errors.Wrap(err, "upsert candles").With("count", len(records))
	}
	return nil
}

// Recent returns up to limit of the latest stored bars, oldest first.
func (r *Repository) Recent(ctx context.Context, symbol string, timeframeMs int64, limit int) ([]model.Candle, error) {
	if limit <= 0 {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "limit %d", limit)
	}

	var records []CandleRecord
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND timeframe_ms = ?", symbol, timeframeMs).
		Order("start DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "query candles").With("symbol", symbol)
	}

	candles := make([]model.Candle, len(records))
	for i := range records {
		candles[len(records)-1-i] = records[i].candle()
	}
	return candles, nil
}
