package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/VghostS/backNotifications/internal/domain/enums"
	"github.com/VghostS/backNotifications/internal/domain/model"
	catalogsvc "github.com/VghostS/backNotifications/internal/services/catalog"
	ledgersvc "github.com/VghostS/backNotifications/internal/services/ledger"
)

const (
	defaultCurrency           = "XTR"
	defaultMaxQuantity        = 10
	defaultPreCheckoutTimeout = 5 * time.Second
	defaultRefundTimeout      = 15 * time.Second

	// Upper bound for a single Stars invoice.
	maxInvoiceAmount = 10000
)

var (
	ErrValidation       = errors.New("validation error")
	ErrUnknownItem      = catalogsvc.ErrUnknownItem
	ErrInvalidPrice     = errors.New("item price is not payable")
	ErrRateLimited      = errors.New("too many invoices requested")
	ErrInvoiceFailed    = errors.New("invoice could not be sent")
	ErrPayloadMismatch  = errors.New("payload does not match a purchase")
	ErrAlreadyProcessed = errors.New("purchase already processed")
	ErrDuplicateCharge  = ledgersvc.ErrDuplicateCharge
	ErrStateConflict    = ledgersvc.ErrStateConflict
	ErrNotFound         = ledgersvc.ErrNotFound
	ErrRefundFailed     = errors.New("refund could not be issued")
)

type Ledger interface {
	Create(ctx context.Context, subscriberID int64, itemID string, quantity int) (string, error)
	Get(ctx context.Context, purchaseID string) (model.PurchaseRecord, error)
	Transition(ctx context.Context, purchaseID string, expected, next enums.PurchaseState) error
	AttachCharge(ctx context.Context, purchaseID, chargeID string) error
	FindByCharge(ctx context.Context, chargeID string) (model.PurchaseRecord, error)
}

type Catalog interface {
	Get(itemID string) (model.CatalogItem, error)
}

type InvoiceSender interface {
	SendInvoice(ctx context.Context, invoice Invoice) error
}

type PreCheckoutResponder interface {
	AnswerPreCheckout(ctx context.Context, queryID string, ok bool, reason string) error
}

type StarRefunder interface {
	RefundStarPayment(ctx context.Context, subscriberID int64, chargeID string) error
}

type Fulfiller interface {
	Notify(ctx context.Context, record model.PurchaseRecord)
}

type InvoiceLimiter interface {
	AllowInvoice(ctx context.Context, subscriberID int64) (int64, bool, error)
}

type Dependencies struct {
	Ledger      Ledger
	Catalog     Catalog
	Invoices    InvoiceSender
	PreCheckout PreCheckoutResponder
	Refunds     StarRefunder
	Fulfiller   Fulfiller
	Limiter     InvoiceLimiter
	Logger      *zap.Logger
}

type Config struct {
	Currency           string
	MaxQuantity        int
	PreCheckoutTimeout time.Duration
	RefundTimeout      time.Duration
}

// Service drives a purchase through the gateway protocol: invoice,
// pre-checkout, confirmation and refund. It never mutates records itself;
// every state change goes through the ledger.
type Service struct {
	ledger      Ledger
	catalog     Catalog
	invoices    InvoiceSender
	preCheckout PreCheckoutResponder
	refunds     StarRefunder
	fulfiller   Fulfiller
	limiter     InvoiceLimiter
	logger      *zap.Logger
	cfg         Config
	refundCalls singleflight.Group
	now         func() time.Time
}

func NewService(deps Dependencies, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = defaultMaxQuantity
	}
	if cfg.PreCheckoutTimeout <= 0 {
		cfg.PreCheckoutTimeout = defaultPreCheckoutTimeout
	}
	if cfg.RefundTimeout <= 0 {
		cfg.RefundTimeout = defaultRefundTimeout
	}

	return &Service{
		ledger:      deps.Ledger,
		catalog:     deps.Catalog,
		invoices:    deps.Invoices,
		preCheckout: deps.PreCheckout,
		refunds:     deps.Refunds,
		fulfiller:   deps.Fulfiller,
		limiter:     deps.Limiter,
		logger:      deps.Logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (s *Service) Currency() string {
	return s.cfg.Currency
}

// UserMessage maps a payments error to the short text shown to the payer.
// Internal inconsistencies get a generic text on purpose.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownItem):
		return "This item is not sold here. Use /items to see what is available."
	case errors.Is(err, ErrValidation):
		return "Invalid purchase request."
	case errors.Is(err, ErrInvalidPrice):
		return "This item cannot be bought right now."
	case errors.Is(err, ErrRateLimited):
		return "Too many invoices requested. Please wait a minute and try again."
	case errors.Is(err, ErrPayloadMismatch):
		return "This invoice is no longer valid. Please request a new one."
	case errors.Is(err, ErrAlreadyProcessed):
		return "This invoice has already been processed."
	default:
		return "Something went wrong. Please try again later."
	}
}
