package handlers

import (
	"net/http"

	"github.com/VghostS/backNotifications/internal/transport/http/dto"
	httperrors "github.com/VghostS/backNotifications/internal/transport/http/errors"
)

type LedgerCounter interface {
	Count() int
}

type RetryQueue interface {
	Pending() int
}

type HealthHandler struct {
	ledger LedgerCounter
	queue  RetryQueue
}

// Both arguments may be nil; the counters then read as zero.
func NewHealthHandler(ledger LedgerCounter, queue RetryQueue) *HealthHandler {
	return &HealthHandler{ledger: ledger, queue: queue}
}

func (h *HealthHandler) Get(w http.ResponseWriter, _ *http.Request) {
	resp := dto.HealthResponse{OK: true}
	if h.ledger != nil {
		resp.Purchases = h.ledger.Count()
	}
	if h.queue != nil {
		resp.PendingRetries = h.queue.Pending()
	}
	httperrors.Write(w, http.StatusOK, resp)
}
