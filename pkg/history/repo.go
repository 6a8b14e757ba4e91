package history

import (
	"context"

	"gorm.io/gorm"
)

type IRepo interface {
	Create(ctx context.Context, row *OrderEventRow) (*OrderEventRow, error)
	BulkCreate(ctx context.Context, rows []*OrderEventRow) ([]*OrderEventRow, error)
	RecentByAccount(ctx context.Context, accountID string, limit int) ([]*OrderEventRow, error)
}

type SQLRepo struct {
	db *gorm.DB
}

func NewSQLRepo(db *gorm.DB) *SQLRepo {
	return &SQLRepo{
		db: db,
	}
}

func (s *SQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *SQLRepo) Create(ctx context.Context, row *OrderEventRow) (*OrderEventRow, error) {
	return row, s.dbWithContext(ctx).Create(row).Error
}

func (s *SQLRepo) BulkCreate(ctx context.Context, rows []*OrderEventRow) ([]*OrderEventRow, error) {
	if len(rows) == 0 {
		return rows, nil
	}
	return rows, s.dbWithContext(ctx).Create(rows).Error
}

func (s *SQLRepo) RecentByAccount(ctx context.Context, accountID string, limit int) ([]*OrderEventRow, error) {
	var rows []*OrderEventRow
	err := s.dbWithContext(ctx).
		Where("account_id = ?", accountID).
		Order("timestamp desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
