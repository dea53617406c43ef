package dto

import "time"

type HealthResponse struct {
	OK             bool `json:"ok"`
	Purchases      int  `json:"purchases"`
	PendingRetries int  `json:"pending_retries"`
}

type PurchaseResponse struct {
	PurchaseID   string    `json:"purchase_id"`
	SubscriberID int64     `json:"subscriber_id"`
	ItemID       string    `json:"item_id"`
	Quantity     int       `json:"quantity"`
	UnitPrice    int       `json:"unit_price"`
	TotalAmount  int       `json:"total_amount"`
	State        string    `json:"state"`
	ChargeID     string    `json:"charge_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type PurchaseEventResponse struct {
	Version    int64     `json:"version"`
	Event      string    `json:"event"`
	FromState  string    `json:"from_state,omitempty"`
	ToState    string    `json:"to_state"`
	ChargeID   string    `json:"charge_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type PurchaseHistoryResponse struct {
	PurchaseID string                  `json:"purchase_id"`
	Events     []PurchaseEventResponse `json:"events"`
}

type RefundRequest struct {
	ChargeID string `json:"charge_id"`
}

type RefundResponse struct {
	OK              bool             `json:"ok"`
	AlreadyRefunded bool             `json:"already_refunded"`
	Purchase        PurchaseResponse `json:"purchase"`
}
