package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"gaiya/internal/types"
)

// OrderRepository provides data access for the orders table.
// Order state transitions are monotone forward; the SQL state guards
// enforce that created -> paid happens at most once.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository creates a new OrderRepository backed by the given
// database connection (pool or transaction).
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// orderColumns defines the standard set of columns selected for order queries.
const orderColumns = `out_trade_no, user_id, plan_id, amount, currency, gateway,
	state, gateway_trade_no, created_at, paid_at`

// scanOrder scans a single order row into a types.Order struct.
func scanOrder(row pgx.Row) (*types.Order, error) {
	var o types.Order
	var gatewayTradeNo *string
	err := row.Scan(
		&o.OutTradeNo,
		&o.UserID,
		&o.PlanID,
		&o.Amount,
		&o.Currency,
		&o.Gateway,
		&o.State,
		&gatewayTradeNo,
		&o.CreatedAt,
		&o.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	if gatewayTradeNo != nil {
		o.GatewayTradeNo = *gatewayTradeNo
	}
	return &o, nil
}

// Create inserts a new order in created state. out_trade_no is globally
// unique; a collision surfaces as conflict so the caller can regenerate.
func (r *OrderRepository) Create(ctx context.Context, order *types.Order) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO orders (out_trade_no, user_id, plan_id, amount, currency, gateway,
		 state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		order.OutTradeNo,
		order.UserID,
		order.PlanID,
		order.Amount,
		order.Currency,
		order.Gateway,
		order.State,
		nilIfZeroTime(order.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictOrderState, "order id already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create order", err)
	}
	return nil
}

// GetByOutTradeNo retrieves an order by its generated id.
func (r *OrderRepository) GetByOutTradeNo(ctx context.Context, outTradeNo string) (*types.Order, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE out_trade_no = $1`,
		outTradeNo,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve order", err)
	}
	return o, nil
}

// MarkPaid transitions an order created -> paid, recording the gateway's
// trade number and the paid timestamp. The state guard means the
// transition fires at most once; a second call affects zero rows and
// reports alreadyPaid so duplicate callbacks can re-ack safely.
func (r *OrderRepository) MarkPaid(ctx context.Context, outTradeNo string, gatewayTradeNo string, paidAt time.Time) (alreadyPaid bool, err error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE orders SET state = 'paid', gateway_trade_no = $2, paid_at = $3
		 WHERE out_trade_no = $1 AND state = 'created'`,
		outTradeNo,
		gatewayTradeNo,
		paidAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark order paid", err)
	}
	if tag.RowsAffected() == 0 {
		order, getErr := r.GetByOutTradeNo(ctx, outTradeNo)
		if getErr != nil {
			return false, getErr
		}
		if order.State == types.OrderStatePaid || order.State == types.OrderStateRefunded {
			return true, nil
		}
		return false, types.NewAppErrorWithDetails(types.ErrCodeConflictOrderState,
			"order not payable from current state", nil,
			map[string]any{"state": string(order.State)})
	}
	return false, nil
}

// SetGatewayTradeNo records the gateway's reference for a still-unpaid
// order (the Stripe checkout session id, assigned at creation). MarkPaid
// overwrites it with the final settlement reference.
func (r *OrderRepository) SetGatewayTradeNo(ctx context.Context, outTradeNo string, gatewayTradeNo string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE orders SET gateway_trade_no = $2
		 WHERE out_trade_no = $1 AND state = 'created'`,
		outTradeNo,
		gatewayTradeNo,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set gateway reference", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictOrderState, "order not in created state", nil)
	}
	return nil
}

// UpdateState applies an operator-driven transition (expired, failed,
// refunded). Refunds are only reachable from paid; expiry and failure
// only from created.
func (r *OrderRepository) UpdateState(ctx context.Context, outTradeNo string, state types.OrderState) error {
	var from types.OrderState
	switch state {
	case types.OrderStateRefunded:
		from = types.OrderStatePaid
	case types.OrderStateExpired, types.OrderStateFailed:
		from = types.OrderStateCreated
	default:
		return types.NewAppError(types.ErrCodeConflictOrderState, "unsupported order state transition", nil)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE orders SET state = $2 WHERE out_trade_no = $1 AND state = $3`,
		outTradeNo,
		state,
		from,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update order state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictOrderState, "order not in expected state", nil)
	}
	return nil
}

// ListByUser retrieves a user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*types.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query orders", err)
	}
	defer rows.Close()

	var results []*types.Order
	for rows.Next() {
		o, scanErr := scanOrder(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan order row", scanErr)
		}
		results = append(results, o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating order rows", err)
	}
	return results, nil
}
