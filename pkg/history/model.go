package history

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderEventRow is the persisted form of a tracker event, kept so the UI
// can show recent fills after the in-memory cache has evicted them.
type OrderEventRow struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	EventID     string          `gorm:"uniqueIndex;size:128"`
	Type        string          `gorm:"size:32;index"`
	AccountID   string          `gorm:"size:64;index"`
	OrderID     string          `gorm:"size:64;index"`
	Instrument  string          `gorm:"size:128"`
	Side        string          `gorm:"size:16"`
	Status      string          `gorm:"size:32"`
	Quantity    int64
	Price       decimal.Decimal `gorm:"type:numeric(18,4)"`
	SuccessorID string          `gorm:"size:64"`
	Reason      string
	Timestamp   time.Time `gorm:"index"`
	CreatedAt   time.Time
}

func (OrderEventRow) TableName() string {
	return "order_events"
}
