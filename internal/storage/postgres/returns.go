package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/shoozy/storefront/internal/domain/returns"
)

var _ returns.Repository = (*ReturnRepository)(nil)

// ReturnRepository implements returns.Repository backed by PostgreSQL.
// Transient serialization failures surface as returns.ErrConflict so the
// workflow can retry them.
type ReturnRepository struct {
	db *DB
}

// NewReturnRepository returns a ReturnRepository using the given handle.
func NewReturnRepository(db *DB) *ReturnRepository {
	return &ReturnRepository{db: db}
}

// Create persists a request with its items, evidence images, and refund info.
func (r *ReturnRepository) Create(ctx context.Context, req *returns.Request) error {
	q := r.db.conn(ctx)

	err := q.QueryRow(ctx,
		`INSERT INTO return_requests (order_id, user_id, reason, note, status, refund_amount, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 RETURNING id`,
		req.OrderID, req.UserID, req.Reason, req.Note, string(req.Status), req.RefundAmount, req.CreatedAt,
	).Scan(&req.ID)
	if err != nil {
		return wrapConflict(err, "inserting return request")
	}

	for i := range req.Items {
		item := &req.Items[i]
		err := q.QueryRow(ctx,
			`INSERT INTO return_items (request_id, order_detail_id, quantity, note)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id`,
			req.ID, item.OrderDetailID, item.Quantity, item.Note,
		).Scan(&item.ID)
		if err != nil {
			return wrapConflict(err, "inserting return item")
		}
		for _, url := range item.ImageURLs {
			_, err := q.Exec(ctx,
				`INSERT INTO return_item_images (return_item_id, url) VALUES ($1, $2)`,
				item.ID, url,
			)
			if err != nil {
				return errors.Wrap(err, "inserting return item image")
			}
		}
	}

	_, err = q.Exec(ctx,
		`INSERT INTO refund_infos (request_id, method, bank_name, account_number, account_holder, wallet_provider, wallet_account)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		req.ID, string(req.Info.Method), req.Info.BankName, req.Info.AccountNumber,
		req.Info.AccountHolder, req.Info.WalletProvider, req.Info.WalletAccount,
	)
	if err != nil {
		return errors.Wrap(err, "inserting refund info")
	}
	return nil
}

// GetByID loads a request with its items, evidence images, and refund info.
func (r *ReturnRepository) GetByID(ctx context.Context, id int64) (*returns.Request, error) {
	q := r.db.conn(ctx)

	var (
		req    returns.Request
		status string
		method string
	)
	err := q.QueryRow(ctx,
		`SELECT r.id, r.order_id, r.user_id, r.reason, r.note, r.status, r.refund_amount,
		        r.created_at, r.updated_at,
		        i.method, i.bank_name, i.account_number, i.account_holder, i.wallet_provider, i.wallet_account
		 FROM return_requests r
		 JOIN refund_infos i ON i.request_id = r.id
		 WHERE r.id = $1`,
		id,
	).Scan(
		&req.ID, &req.OrderID, &req.UserID, &req.Reason, &req.Note, &status, &req.RefundAmount,
		&req.CreatedAt, &req.UpdatedAt,
		&method, &req.Info.BankName, &req.Info.AccountNumber, &req.Info.AccountHolder,
		&req.Info.WalletProvider, &req.Info.WalletAccount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, returns.ErrNotFound
		}
		return nil, errors.Wrapf(err, "loading return request %d", id)
	}
	req.Status = returns.Status(status)
	req.Info.Method = returns.Method(method)

	rows, err := q.Query(ctx,
		`SELECT i.id, i.order_detail_id, i.quantity, i.note,
		        COALESCE(array_agg(img.url) FILTER (WHERE img.url IS NOT NULL), '{}')
		 FROM return_items i
		 LEFT JOIN return_item_images img ON img.return_item_id = i.id
		 WHERE i.request_id = $1
		 GROUP BY i.id
		 ORDER BY i.id`,
		id,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "loading items of return request %d", id)
	}
	defer rows.Close()

	for rows.Next() {
		var item returns.Item
		if err := rows.Scan(&item.ID, &item.OrderDetailID, &item.Quantity, &item.Note, &item.ImageURLs); err != nil {
			return nil, errors.Wrap(err, "scanning return item")
		}
		req.Items = append(req.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating return items")
	}
	return &req, nil
}

// UpdateStatus moves a request to a new status.
func (r *ReturnRepository) UpdateStatus(ctx context.Context, id int64, status returns.Status) error {
	tag, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE return_requests SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return wrapConflict(err, "updating return request status")
	}
	if tag.RowsAffected() == 0 {
		return returns.ErrNotFound
	}
	return nil
}

// SetRefundAmount overrides the refund amount of a request.
func (r *ReturnRepository) SetRefundAmount(ctx context.Context, id int64, amount decimal.Decimal) error {
	tag, err := r.db.conn(ctx).Exec(ctx,
		`UPDATE return_requests SET refund_amount = $2, updated_at = now() WHERE id = $1`,
		id, amount,
	)
	if err != nil {
		return errors.Wrapf(err, "setting refund amount of return request %d", id)
	}
	if tag.RowsAffected() == 0 {
		return returns.ErrNotFound
	}
	return nil
}

// LockOrderDetails takes row locks on the given order lines, serializing
// concurrent return requests that claim the same lines. IDs are locked in
// ascending order so two requests can never deadlock on each other.
func (r *ReturnRepository) LockOrderDetails(ctx context.Context, detailIDs []int64) error {
	rows, err := r.db.conn(ctx).Query(ctx,
		`SELECT id FROM order_details WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		detailIDs,
	)
	if err != nil {
		return wrapConflict(err, "locking order lines")
	}
	rows.Close()
	return wrapConflict(rows.Err(), "locking order lines")
}

// ClaimedQuantities sums return quantities across all non-rejected requests
// per order line. Call it while holding the LockOrderDetails locks.
func (r *ReturnRepository) ClaimedQuantities(ctx context.Context, detailIDs []int64) (map[int64]int, error) {
	return r.sumQuantities(ctx, detailIDs,
		`SELECT i.order_detail_id, COALESCE(SUM(i.quantity), 0)
		 FROM return_items i
		 JOIN return_requests r ON r.id = i.request_id
		 WHERE i.order_detail_id = ANY($1) AND r.status <> 'REJECTED'
		 GROUP BY i.order_detail_id`)
}

// RefundedQuantities sums return quantities across refunded requests only.
func (r *ReturnRepository) RefundedQuantities(ctx context.Context, detailIDs []int64) (map[int64]int, error) {
	return r.sumQuantities(ctx, detailIDs,
		`SELECT i.order_detail_id, COALESCE(SUM(i.quantity), 0)
		 FROM return_items i
		 JOIN return_requests r ON r.id = i.request_id
		 WHERE i.order_detail_id = ANY($1) AND r.status = 'REFUNDED'
		 GROUP BY i.order_detail_id`)
}

func (r *ReturnRepository) sumQuantities(ctx context.Context, detailIDs []int64, query string) (map[int64]int, error) {
	rows, err := r.db.conn(ctx).Query(ctx, query, detailIDs)
	if err != nil {
		return nil, wrapConflict(err, "summing return quantities")
	}
	defer rows.Close()

	sums := make(map[int64]int, len(detailIDs))
	for rows.Next() {
		var (
			detailID int64
			qty      int
		)
		if err := rows.Scan(&detailID, &qty); err != nil {
			return nil, errors.Wrap(err, "scanning return quantity")
		}
		sums[detailID] = qty
	}
	return sums, rows.Err()
}

// OpenRequestCount counts PENDING and APPROVED requests for an order.
func (r *ReturnRepository) OpenRequestCount(ctx context.Context, orderID int64) (int, error) {
	var count int
	err := r.db.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM return_requests
		 WHERE order_id = $1 AND status IN ('PENDING', 'APPROVED')`,
		orderID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrapf(err, "counting open return requests for order %d", orderID)
	}
	return count, nil
}

// CreateRefundTransaction records the payout. The unique constraint on
// return_request_id enforces one refund per request; a violation surfaces as
// returns.ErrRefundAlreadyExecuted.
func (r *ReturnRepository) CreateRefundTransaction(ctx context.Context, tx *returns.Transaction) error {
	err := r.db.conn(ctx).QueryRow(ctx,
		`INSERT INTO refund_transactions (return_request_id, amount, method, reference_code, note, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		tx.RequestID, tx.Amount, string(tx.Method), tx.ReferenceCode, tx.Note, tx.CreatedBy, tx.CreatedAt,
	).Scan(&tx.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return returns.ErrRefundAlreadyExecuted
		}
		return errors.Wrapf(err, "inserting refund transaction for return request %d", tx.RequestID)
	}
	return nil
}

// wrapConflict maps transient serialization failures to returns.ErrConflict
// and wraps everything else.
func wrapConflict(err error, msg string) error {
	if err == nil {
		return nil
	}
	if isSerializationFailure(err) {
		return returns.ErrConflict
	}
	return errors.Wrap(err, msg)
}
