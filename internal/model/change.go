package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mutation kinds recorded in the change feed.
const (
	ChangeInsert = "INSERT"
	ChangeModify = "MODIFY"
	ChangeRemove = "REMOVE"
)

// ChangeEvent is one row of the change feed, written in the same
// transaction as the order mutation it captures. The auto-increment ID is
// the sequence token: rows polled in ID order preserve per-key commit order.
type ChangeEvent struct {
	ID             uint64 `gorm:"primaryKey"`
	OrderID        string `gorm:"size:32;not null;index:idx_change_feed_order"`
	OrderCreatedAt string `gorm:"size:40;not null"`
	Kind           string `gorm:"size:16;not null"`
	Before         *string
	After          *string
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	Dispatched     bool      `gorm:"not null;default:false"`
	DispatchedAt   *time.Time
}

func (ChangeEvent) TableName() string { return "change_feed" }

// EntityKey identifies the order row this event belongs to.
func (e *ChangeEvent) EntityKey() string {
	return e.OrderID + "|" + e.OrderCreatedAt
}

// DedupKey identifies this exact delivery attempt across redeliveries.
func (e *ChangeEvent) DedupKey() string {
	return fmt.Sprintf("%s#%d", e.EntityKey(), e.ID)
}

// BeforeImage decodes the pre-mutation snapshot, nil if none was captured.
func (e *ChangeEvent) BeforeImage() (*Order, error) {
	return decodeImage(e.Before)
}

// AfterImage decodes the post-mutation snapshot, nil if none was captured.
func (e *ChangeEvent) AfterImage() (*Order, error) {
	return decodeImage(e.After)
}

func decodeImage(raw *string) (*Order, error) {
	if raw == nil {
		return nil, nil
	}
	var o Order
	if err := json.Unmarshal([]byte(*raw), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// EncodeImage serializes an order snapshot for a feed row.
func EncodeImage(o *Order) (*string, error) {
	if o == nil {
		return nil, nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}
