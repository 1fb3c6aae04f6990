package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"gaiya/internal/types"
)

// LedgerRepository provides data access for the webhook_ledger table, the
// idempotency gate for payment callbacks. The (gateway, gateway_trade_no)
// unique key plus insert-if-absent semantics guarantee that fulfillment
// side effects run at most once per gateway transaction.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository backed by the given
// database connection (pool or transaction).
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ledgerColumns defines the standard set of columns selected for ledger queries.
const ledgerColumns = `id, gateway, gateway_trade_no, out_trade_no, raw_payload,
	signature_valid, outcome, received_at, processed_at`

// scanLedger scans a single ledger row into a types.WebhookRecord.
func scanLedger(row pgx.Row) (*types.WebhookRecord, error) {
	var w types.WebhookRecord
	var outTradeNo *string
	err := row.Scan(
		&w.ID,
		&w.Gateway,
		&w.GatewayTradeNo,
		&outTradeNo,
		&w.RawPayload,
		&w.SignatureValid,
		&w.Outcome,
		&w.ReceivedAt,
		&w.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	if outTradeNo != nil {
		w.OutTradeNo = *outTradeNo
	}
	return &w, nil
}

// InsertIfAbsent attempts to claim the (gateway, gateway_trade_no) key.
// Returns inserted=true if this delivery is the first; false means a
// prior delivery already holds the key and the caller must replay the
// recorded outcome instead of re-running side effects.
func (r *LedgerRepository) InsertIfAbsent(ctx context.Context, record *types.WebhookRecord) (inserted bool, err error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO webhook_ledger (id, gateway, gateway_trade_no, out_trade_no,
		 raw_payload, signature_valid, outcome, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
		 ON CONFLICT (gateway, gateway_trade_no) DO NOTHING`,
		record.ID,
		record.Gateway,
		record.GatewayTradeNo,
		nilIfEmpty(record.OutTradeNo),
		record.RawPayload,
		record.SignatureValid,
		record.Outcome,
		nilIfZeroTime(record.ReceivedAt),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert ledger record", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get retrieves the ledger record for a gateway transaction.
func (r *LedgerRepository) Get(ctx context.Context, gateway types.PaymentGateway, gatewayTradeNo string) (*types.WebhookRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+ledgerColumns+`
		 FROM webhook_ledger
		 WHERE gateway = $1 AND gateway_trade_no = $2`,
		gateway,
		gatewayTradeNo,
	)

	w, err := scanLedger(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "webhook record not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve ledger record", err)
	}
	return w, nil
}

// GetByOutTradeNo retrieves the most recent ledger record referencing a
// local order id. Serves as the payment cache consulted by order queries
// when the gateway's query API is unavailable.
func (r *LedgerRepository) GetByOutTradeNo(ctx context.Context, outTradeNo string) (*types.WebhookRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+ledgerColumns+`
		 FROM webhook_ledger
		 WHERE out_trade_no = $1
		 ORDER BY received_at DESC
		 LIMIT 1`,
		outTradeNo,
	)

	w, err := scanLedger(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "webhook record not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve ledger record by order", err)
	}
	return w, nil
}

// SetOutcome records the processing result for a claimed ledger row.
// apply_failed rows remain claimable by a later replay: the partial
// failure is recorded without reverting the paid order.
func (r *LedgerRepository) SetOutcome(ctx context.Context, id string, outcome string, processedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_ledger SET outcome = $2, processed_at = $3
		 WHERE id = $1`,
		id,
		outcome,
		processedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record ledger outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrder, "ledger record not found", nil)
	}
	return nil
}

// Reclaim atomically transitions an apply_failed row back to pending.
// The outcome guard means exactly one duplicate delivery wins the retry;
// concurrent reclaims see claimed=false and replay the recorded outcome.
func (r *LedgerRepository) Reclaim(ctx context.Context, id string) (claimed bool, err error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_ledger SET outcome = $2, processed_at = NULL
		 WHERE id = $1 AND outcome = $3`,
		id,
		types.LedgerOutcomePending,
		types.LedgerOutcomeApplyFailed,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to reclaim ledger record", err)
	}
	return tag.RowsAffected() == 1, nil
}
