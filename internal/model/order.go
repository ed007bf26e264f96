package model

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TimeLayout is the stored timestamp format. Fixed-width nanoseconds keep
// lexicographic order equal to chronological order, which the composite key
// and the status index rely on.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Common order statuses. The column itself is an open string, any value
// may be written.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Order is addressed by the composite key (OrderID, CreatedAt). OrderID
// alone is not guaranteed unique across rows.
type Order struct {
	OrderID       string          `gorm:"primaryKey;size:32" json:"orderId"`
	CreatedAt     string          `gorm:"primaryKey;size:40;index:idx_orders_status_created,priority:2" json:"createdAt"`
	CustomerName  string          `gorm:"size:256" json:"customerName"`
	CustomerEmail string          `gorm:"size:256" json:"customerEmail"`
	Items         []string        `gorm:"serializer:json" json:"items"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,2)" json:"amount"`
	Status        string          `gorm:"size:32;index:idx_orders_status_created,priority:1" json:"status"`
	UpdatedAt     string          `gorm:"size:40" json:"updatedAt"`
}

func (Order) TableName() string { return "orders" }

// NewOrderID generates a short uppercase order identifier, e.g. ORD-3FA85F64.
func NewOrderID() string {
	u := uuid.New()
	return "ORD-" + strings.ToUpper(hex.EncodeToString(u[:4]))
}

// NowISO returns the current UTC time in the stored timestamp format.
func NowISO() string {
	return time.Now().UTC().Format(TimeLayout)
}

// OrderPatch carries the updatable fields; nil means "leave unchanged".
type OrderPatch struct {
	Status       *string
	CustomerName *string
	Amount       *decimal.Decimal
	Items        *[]string
}
