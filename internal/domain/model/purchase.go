package model

import (
	"time"

	"github.com/VghostS/backNotifications/internal/domain/enums"
)

type CatalogItem struct {
	ID                 string `json:"id" yaml:"id"`
	DisplayName        string `json:"display_name" yaml:"display_name"`
	Description        string `json:"description" yaml:"description"`
	UnitPrice          int    `json:"unit_price" yaml:"unit_price"`
	FulfillmentPayload string `json:"fulfillment_payload" yaml:"fulfillment_payload"`
}

// PurchaseRecord is a snapshot of a ledger entry. UnitPrice and
// FulfillmentPayload are copied from the catalog at creation time.
type PurchaseRecord struct {
	PurchaseID         string              `json:"purchase_id"`
	SubscriberID       int64               `json:"subscriber_id"`
	ItemID             string              `json:"item_id"`
	Quantity           int                 `json:"quantity"`
	UnitPrice          int                 `json:"unit_price"`
	FulfillmentPayload string              `json:"fulfillment_payload"`
	State              enums.PurchaseState `json:"state"`
	ChargeID           *string             `json:"charge_id,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func (r PurchaseRecord) TotalAmount() int {
	return r.UnitPrice * r.Quantity
}

func (r PurchaseRecord) HasCharge() bool {
	return r.ChargeID != nil && *r.ChargeID != ""
}

// Delivery is what the game server receives for a fulfilled purchase.
type Delivery struct {
	PurchaseID string    `json:"-"`
	PlayerID   int64     `json:"player_id"`
	ItemID     string    `json:"item_id"`
	Amount     int       `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

// PurchaseEvent is one journaled ledger mutation.
type PurchaseEvent struct {
	PurchaseID   string              `json:"purchase_id"`
	Version      int64               `json:"version"`
	Event        string              `json:"event"`
	FromState    enums.PurchaseState `json:"from_state,omitempty"`
	ToState      enums.PurchaseState `json:"to_state"`
	SubscriberID int64               `json:"subscriber_id"`
	ItemID       string              `json:"item_id"`
	Quantity     int                 `json:"quantity"`
	UnitPrice    int                 `json:"unit_price"`
	ChargeID     *string             `json:"charge_id,omitempty"`
	OccurredAt   time.Time           `json:"occurred_at"`
}
