package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VghostS/backNotifications/internal/domain/enums"
	"github.com/VghostS/backNotifications/internal/domain/model"
	ledgersvc "github.com/VghostS/backNotifications/internal/services/ledger"
)

var ErrJournalChargeConflict = errors.New("charge id already journaled for another purchase")

// PurchaseJournalRepo mirrors ledger mutations into postgres for audit and
// manual reconciliation. Rows are append-only; the snapshot table holds the
// latest version of each purchase.
type PurchaseJournalRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseJournalRepo(pool *pgxpool.Pool) *PurchaseJournalRepo {
	return &PurchaseJournalRepo{pool: pool}
}

func (r *PurchaseJournalRepo) Append(ctx context.Context, entry ledgersvc.JournalEntry) error {
	if r.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	rec := entry.Record
	if strings.TrimSpace(rec.PurchaseID) == "" || entry.Version <= 0 {
		return fmt.Errorf("invalid journal entry payload")
	}

	return WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
INSERT INTO purchase_journal (
	purchase_id,
	version,
	event,
	from_state,
	to_state,
	subscriber_id,
	item_id,
	quantity,
	unit_price,
	charge_id,
	occurred_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (purchase_id, version) DO NOTHING
`, rec.PurchaseID, entry.Version, entry.Event, string(entry.From), string(entry.To),
			rec.SubscriberID, rec.ItemID, rec.Quantity, rec.UnitPrice, rec.ChargeID, entry.Timestamp)
		if err != nil {
			return fmt.Errorf("insert purchase journal row: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
INSERT INTO purchase_snapshots (
	purchase_id,
	subscriber_id,
	item_id,
	quantity,
	unit_price,
	fulfillment_payload,
	state,
	charge_id,
	version,
	created_at,
	updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (purchase_id) DO UPDATE SET
	state = EXCLUDED.state,
	charge_id = EXCLUDED.charge_id,
	version = EXCLUDED.version,
	updated_at = EXCLUDED.updated_at
WHERE purchase_snapshots.version < EXCLUDED.version
`, rec.PurchaseID, rec.SubscriberID, rec.ItemID, rec.Quantity, rec.UnitPrice, rec.FulfillmentPayload,
			string(rec.State), rec.ChargeID, entry.Version, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w: %s", ErrJournalChargeConflict, rec.PurchaseID)
			}
			return fmt.Errorf("upsert purchase snapshot: %w", err)
		}
		return nil
	})
}

func (r *PurchaseJournalRepo) History(ctx context.Context, purchaseID string) ([]model.PurchaseEvent, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	purchaseID = strings.TrimSpace(purchaseID)
	if purchaseID == "" {
		return nil, fmt.Errorf("purchase id is required")
	}

	rows, err := r.pool.Query(ctx, `
SELECT purchase_id, version, event, from_state, to_state, subscriber_id, item_id, quantity, unit_price, charge_id, occurred_at
FROM purchase_journal
WHERE purchase_id = $1
ORDER BY version ASC
`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("query purchase journal: %w", err)
	}
	defer rows.Close()

	out := make([]model.PurchaseEvent, 0)
	for rows.Next() {
		var (
			row       model.PurchaseEvent
			fromState string
			toState   string
		)
		if err := rows.Scan(
			&row.PurchaseID,
			&row.Version,
			&row.Event,
			&fromState,
			&toState,
			&row.SubscriberID,
			&row.ItemID,
			&row.Quantity,
			&row.UnitPrice,
			&row.ChargeID,
			&row.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan purchase journal row: %w", err)
		}
		row.FromState = enums.PurchaseState(fromState)
		row.ToState = enums.PurchaseState(toState)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase journal rows: %w", err)
	}

	return out, nil
}
