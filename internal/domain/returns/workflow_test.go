package returns

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shoozy/storefront/internal/domain/catalog"
	"github.com/shoozy/storefront/internal/domain/order"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

// --- Mock implementations ---

type memVariants struct {
	mu    sync.Mutex
	stock map[int64]int
}

func (m *memVariants) GetForUpdate(_ context.Context, id int64) (*catalog.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[id]; !ok {
		return nil, catalog.ErrVariantNotFound
	}
	return &catalog.Variant{ID: id, QuantityOnHand: m.stock[id]}, nil
}

func (m *memVariants) AdjustStock(_ context.Context, id int64, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[id]; !ok {
		return catalog.ErrVariantNotFound
	}
	m.stock[id] += delta
	return nil
}

type memOrders struct {
	mu       sync.Mutex
	byID     map[int64]*order.Order
	timeline []order.TimelineEntry
}

func (m *memOrders) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[o.ID] = o
	return nil
}

func (m *memOrders) GetByID(_ context.Context, id int64) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	out := *o
	out.Details = append([]order.Detail(nil), o.Details...)
	return &out, nil
}

func (m *memOrders) CodeExists(context.Context, string) (bool, error) { return false, nil }

func (m *memOrders) UpdateStatus(_ context.Context, id int64, status order.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	return nil
}

func (m *memOrders) AppendTimeline(_ context.Context, entry order.TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeline = append(m.timeline, entry)
	return nil
}

func (m *memOrders) UpdateDetailRefundStatus(_ context.Context, detailID int64, status order.RefundStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		for i := range o.Details {
			if o.Details[i].ID == detailID {
				o.Details[i].RefundStatus = status
				return nil
			}
		}
	}
	return order.ErrNotFound
}

func (m *memOrders) UpdateCustomerInfo(context.Context, int64, string, string, string, string) error {
	return nil
}

// memStore is an in-memory returns.Repository.
type memStore struct {
	mu           sync.Mutex
	nextID       int64
	byID         map[int64]*Request
	transactions map[int64]*Transaction
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[int64]*Request), transactions: make(map[int64]*Transaction)}
}

func (m *memStore) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	stored := *r
	stored.Items = append([]Item(nil), r.Items...)
	m.byID[r.ID] = &stored
	return nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	out.Items = append([]Item(nil), r.Items...)
	return &out, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id int64, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	return nil
}

func (m *memStore) SetRefundAmount(_ context.Context, id int64, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	r.RefundAmount = amount
	return nil
}

func (m *memStore) LockOrderDetails(context.Context, []int64) error { return nil }

func (m *memStore) ClaimedQuantities(_ context.Context, detailIDs []int64) (map[int64]int, error) {
	return m.sumWhere(detailIDs, func(s Status) bool { return s != StatusRejected }), nil
}

func (m *memStore) RefundedQuantities(_ context.Context, detailIDs []int64) (map[int64]int, error) {
	return m.sumWhere(detailIDs, func(s Status) bool { return s == StatusRefunded }), nil
}

func (m *memStore) sumWhere(detailIDs []int64, include func(Status) bool) map[int64]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[int64]bool, len(detailIDs))
	for _, id := range detailIDs {
		wanted[id] = true
	}
	sums := make(map[int64]int)
	for _, r := range m.byID {
		if !include(r.Status) {
			continue
		}
		for _, item := range r.Items {
			if wanted[item.OrderDetailID] {
				sums[item.OrderDetailID] += item.Quantity
			}
		}
	}
	return sums
}

func (m *memStore) OpenRequestCount(_ context.Context, orderID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.byID {
		if r.OrderID == orderID && (r.Status == StatusPending || r.Status == StatusApproved) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CreateRefundTransaction(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[tx.RequestID]; ok {
		return ErrRefundAlreadyExecuted
	}
	m.nextID++
	tx.ID = m.nextID
	m.transactions[tx.RequestID] = tx
	return nil
}

type passthroughTx struct{}

func (passthroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// lockingStore serializes claim validation the way the SQL store does: the
// row locks taken in LockOrderDetails are held until the transaction ends.
type lockingStore struct {
	*memStore
	claims sync.Mutex
}

type claimLockKey struct{}

func (s *lockingStore) LockOrderDetails(ctx context.Context, _ []int64) error {
	s.claims.Lock()
	if held, ok := ctx.Value(claimLockKey{}).(*bool); ok {
		*held = true
	}
	return nil
}

// lockReleasingTx pairs with lockingStore: the claim lock acquired inside fn
// is released when the transaction ends.
type lockReleasingTx struct {
	store *lockingStore
}

func (t lockReleasingTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	held := false
	err := fn(context.WithValue(ctx, claimLockKey{}, &held))
	if held {
		t.store.claims.Unlock()
	}
	return err
}

// --- Fixture ---

type workflowFixture struct {
	orders   *memOrders
	variants *memVariants
	store    *memStore
	wf       *Workflow
}

// newWorkflowFixture seeds one completed order: line 101 (variant 1, qty 2,
// line total 300000 after promotion) and line 102 (variant 2, qty 1, total
// 100000), with a 40000 order-level coupon discount.
func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()

	orders := &memOrders{byID: map[int64]*order.Order{
		1: {
			ID:             1,
			Code:           "HD260610001",
			UserID:         42,
			Status:         order.StatusCompleted,
			CouponDiscount: decimal.NewFromInt(40000),
			UpdatedAt:      testNow.Add(-48 * time.Hour),
			Details: []order.Detail{
				{ID: 101, VariantID: 1, Quantity: 2, FinalPrice: decimal.NewFromInt(300000), RefundStatus: order.RefundNone},
				{ID: 102, VariantID: 2, Quantity: 1, FinalPrice: decimal.NewFromInt(100000), RefundStatus: order.RefundNone},
			},
		},
	}}
	variants := &memVariants{stock: map[int64]int{1: 10, 2: 10}}
	store := newMemStore()

	wf := NewWorkflow(orders, variants, store, passthroughTx{},
		func() time.Time { return testNow }, zap.NewNop())
	return &workflowFixture{orders: orders, variants: variants, store: store, wf: wf}
}

func createRequest(items ...ItemRequest) CreateRequest {
	return CreateRequest{
		OrderID: 1,
		UserID:  42,
		Reason:  "wrong size",
		Items:   items,
		Info:    RefundInfo{Method: MethodCash},
	}
}

// --- Tests ---

func TestRefundInfoValidate(t *testing.T) {
	t.Run("cash needs nothing", func(t *testing.T) {
		require.NoError(t, RefundInfo{Method: MethodCash}.Validate())
	})

	t.Run("bank transfer names missing fields", func(t *testing.T) {
		err := RefundInfo{Method: MethodBankTransfer, BankName: "VCB", AccountHolder: "Jordan Tran"}.Validate()
		var incomplete *IncompleteRefundInfoError
		require.ErrorAs(t, err, &incomplete)
		assert.Equal(t, []string{"accountNumber"}, incomplete.Missing)
	})

	t.Run("ewallet needs provider and account", func(t *testing.T) {
		err := RefundInfo{Method: MethodEWallet}.Validate()
		var incomplete *IncompleteRefundInfoError
		require.ErrorAs(t, err, &incomplete)
		assert.Len(t, incomplete.Missing, 2)
	})

	t.Run("unknown method", func(t *testing.T) {
		err := RefundInfo{Method: "CHEQUE"}.Validate()
		var incomplete *IncompleteRefundInfoError
		require.ErrorAs(t, err, &incomplete)
	})
}

func TestCreate(t *testing.T) {
	t.Run("computes proportional refund and flags the order", func(t *testing.T) {
		f := newWorkflowFixture(t)

		r, err := f.wf.Create(context.Background(), createRequest(
			ItemRequest{OrderDetailID: 101, Quantity: 1},
			ItemRequest{OrderDetailID: 102, Quantity: 1},
		))
		require.NoError(t, err)
		assert.Equal(t, StatusPending, r.Status)

		// Line 101: coupon share 40000*300000/400000 = 30000, net 270000,
		// per unit 135000. Line 102: share 10000, net 90000 for one unit.
		assert.True(t, r.RefundAmount.Equal(decimal.NewFromInt(225000)),
			"refund %s", r.RefundAmount)

		o, err := f.orders.GetByID(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, order.StatusReturnRequested, o.Status)
		require.Len(t, f.orders.timeline, 1)
		assert.Equal(t, "RETURN_REQUESTED", f.orders.timeline[0].Type)
	})

	t.Run("flagged order accepts further requests", func(t *testing.T) {
		f := newWorkflowFixture(t)

		_, err := f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 101, Quantity: 1}))
		require.NoError(t, err)

		// The first request moved the order to RETURN_REQUESTED; a second
		// one against another line must still go through.
		second, err := f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 102, Quantity: 1}))
		require.NoError(t, err)
		assert.Equal(t, StatusPending, second.Status)

		o, err := f.orders.GetByID(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, order.StatusReturnRequested, o.Status)
		// The order is flagged once, not per request.
		require.Len(t, f.orders.timeline, 1)
	})

	t.Run("rejects invalid refund info before touching the order", func(t *testing.T) {
		f := newWorkflowFixture(t)
		req := createRequest(ItemRequest{OrderDetailID: 101, Quantity: 1})
		req.Info = RefundInfo{Method: MethodBankTransfer}

		_, err := f.wf.Create(context.Background(), req)
		var incomplete *IncompleteRefundInfoError
		require.ErrorAs(t, err, &incomplete)
		assert.Empty(t, f.store.byID)
	})

	t.Run("foreign order", func(t *testing.T) {
		f := newWorkflowFixture(t)
		req := createRequest(ItemRequest{OrderDetailID: 101, Quantity: 1})
		req.UserID = 7

		_, err := f.wf.Create(context.Background(), req)
		require.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("order not returnable", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.orders.byID[1].Status = order.StatusShipping

		_, err := f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 101, Quantity: 1}))
		require.ErrorIs(t, err, ErrOrderNotReturnable)
	})

	t.Run("window closed", func(t *testing.T) {
		f := newWorkflowFixture(t)
		f.orders.byID[1].UpdatedAt = testNow.Add(-ReturnWindow - time.Hour)

		_, err := f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 101, Quantity: 1}))
		require.ErrorIs(t, err, ErrReturnWindowClosed)
	})

	t.Run("duplicate lines", func(t *testing.T) {
		f := newWorkflowFixture(t)
		_, err := f.wf.Create(context.Background(), createRequest(
			ItemRequest{OrderDetailID: 101, Quantity: 1},
			ItemRequest{OrderDetailID: 101, Quantity: 1},
		))
		require.ErrorIs(t, err, ErrDuplicateLines)
	})

	t.Run("line outside the order", func(t *testing.T) {
		f := newWorkflowFixture(t)
		_, err := f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 999, Quantity: 1}))
		require.ErrorIs(t, err, ErrLineNotInOrder)
	})

	t.Run("over quantity", func(t *testing.T) {
		f := newWorkflowFixture(t)
		_, err := f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 101, Quantity: 3}))

		var over *OverReturnQuantityError
		require.ErrorAs(t, err, &over)
		assert.Equal(t, 3, over.Requested)
		assert.Equal(t, 2, over.Remaining)
	})

	t.Run("open claims reduce the remaining quantity", func(t *testing.T) {
		f := newWorkflowFixture(t)

		_, err := f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 101, Quantity: 1}))
		require.NoError(t, err)

		// One unit already claimed, so two more over-claim the line.
		_, err = f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 101, Quantity: 2}))
		var over *OverReturnQuantityError
		require.ErrorAs(t, err, &over)
		assert.Equal(t, 1, over.Remaining)

		// The last remaining unit is still claimable.
		_, err = f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 101, Quantity: 1}))
		require.NoError(t, err)
	})
}

func TestCreateConcurrentClaims(t *testing.T) {
	const attempts = 8

	orders := &memOrders{byID: map[int64]*order.Order{
		1: {
			ID:        1,
			Code:      "HD260610001",
			UserID:    42,
			Status:    order.StatusCompleted,
			UpdatedAt: testNow.Add(-48 * time.Hour),
			Details: []order.Detail{
				{ID: 101, VariantID: 1, Quantity: 2, FinalPrice: decimal.NewFromInt(300000), RefundStatus: order.RefundNone},
			},
		},
	}}
	store := &lockingStore{memStore: newMemStore()}
	wf := NewWorkflow(orders, &memVariants{stock: map[int64]int{1: 10}}, store,
		lockReleasingTx{store: store}, func() time.Time { return testNow }, zap.NewNop())

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		overClaims int
	)
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 101, Quantity: 1}))

			var over *OverReturnQuantityError
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &over):
				overClaims++
			default:
				t.Errorf("unexpected create error: %v", err)
			}
		}()
	}
	wg.Wait()

	// Line 101 sold two units, so exactly two single-unit claims may win.
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, attempts-2, overClaims)

	claimed, err := store.ClaimedQuantities(context.Background(), []int64{101})
	require.NoError(t, err)
	assert.Equal(t, 2, claimed[101], "claims must never exceed the purchased quantity")
}

func TestApprove(t *testing.T) {
	f := newWorkflowFixture(t)
	r, err := f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 102, Quantity: 1}))
	require.NoError(t, err)

	t.Run("positive amount overrides", func(t *testing.T) {
		require.NoError(t, f.wf.Approve(context.Background(), r.ID, decimal.NewFromInt(85000)))

		stored, err := f.wf.Get(context.Background(), r.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, stored.Status)
		assert.True(t, stored.RefundAmount.Equal(decimal.NewFromInt(85000)))
	})

	t.Run("approving twice is an invalid transition", func(t *testing.T) {
		err := f.wf.Approve(context.Background(), r.ID, decimal.Zero)
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
	})
}

func TestReject(t *testing.T) {
	t.Run("restores the order and releases claims", func(t *testing.T) {
		f := newWorkflowFixture(t)
		r, err := f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 101, Quantity: 2}))
		require.NoError(t, err)

		require.NoError(t, f.wf.Reject(context.Background(), r.ID, "no defect found"))

		stored, err := f.wf.Get(context.Background(), r.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, stored.Status)

		o, err := f.orders.GetByID(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCompleted, o.Status)

		// Rejected claims no longer count against the line.
		_, err = f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 101, Quantity: 2}))
		require.NoError(t, err)
	})

	t.Run("keeps the order flagged while other requests stay open", func(t *testing.T) {
		f := newWorkflowFixture(t)
		first, err := f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 101, Quantity: 1}))
		require.NoError(t, err)
		_, err = f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 102, Quantity: 1}))
		require.NoError(t, err)

		require.NoError(t, f.wf.Reject(context.Background(), first.ID, "partial reject"))

		o, err := f.orders.GetByID(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, order.StatusReturnRequested, o.Status)
	})

	t.Run("refunded request cannot be rejected", func(t *testing.T) {
		f := newWorkflowFixture(t)
		r := f.approvedRequest(t, ItemRequest{OrderDetailID: 102, Quantity: 1})
		_, err := f.wf.ExecuteRefund(context.Background(), r.ID, decimal.Zero, MethodCash, "", "", "staff-1")
		require.NoError(t, err)

		err = f.wf.Reject(context.Background(), r.ID, "too late")
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
	})
}

func (f *workflowFixture) approvedRequest(t *testing.T, items ...ItemRequest) *Request {
	t.Helper()
	r, err := f.wf.Create(context.Background(), createRequest(items...))
	require.NoError(t, err)
	require.NoError(t, f.wf.Approve(context.Background(), r.ID, decimal.Zero))
	return r
}

func TestExecuteRefund(t *testing.T) {
	t.Run("settles lines, restocks, and closes the order", func(t *testing.T) {
		f := newWorkflowFixture(t)
		r := f.approvedRequest(t,
			ItemRequest{OrderDetailID: 101, Quantity: 1},
			ItemRequest{OrderDetailID: 102, Quantity: 1},
		)

		tx, err := f.wf.ExecuteRefund(context.Background(), r.ID, decimal.Zero, MethodCash, "", "over the counter", "staff-1")
		require.NoError(t, err)

		// Zero amount falls back to the amount computed at creation.
		assert.True(t, tx.Amount.Equal(decimal.NewFromInt(225000)), "amount %s", tx.Amount)
		assert.True(t, strings.HasPrefix(tx.ReferenceCode, "CASH-"), "reference %s", tx.ReferenceCode)
		assert.Equal(t, "staff-1", tx.CreatedBy)

		o, err := f.orders.GetByID(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, order.StatusReturned, o.Status)
		// One of two units refunded on line 101, the only unit on line 102.
		assert.Equal(t, order.RefundPartial, o.Details[0].RefundStatus)
		assert.Equal(t, order.RefundFull, o.Details[1].RefundStatus)

		// Returned units go back on hand.
		assert.Equal(t, 11, f.variants.stock[1])
		assert.Equal(t, 11, f.variants.stock[2])
	})

	t.Run("explicit amount and reference win", func(t *testing.T) {
		f := newWorkflowFixture(t)
		r := f.approvedRequest(t, ItemRequest{OrderDetailID: 102, Quantity: 1})

		tx, err := f.wf.ExecuteRefund(context.Background(), r.ID,
			decimal.NewFromInt(80000), MethodBankTransfer, "FT2026-0615-001", "", "staff-2")
		require.NoError(t, err)
		assert.True(t, tx.Amount.Equal(decimal.NewFromInt(80000)))
		assert.Equal(t, "FT2026-0615-001", tx.ReferenceCode)
	})

	t.Run("pending request cannot be refunded", func(t *testing.T) {
		f := newWorkflowFixture(t)
		r, err := f.wf.Create(context.Background(), createRequest(ItemRequest{OrderDetailID: 102, Quantity: 1}))
		require.NoError(t, err)

		_, err = f.wf.ExecuteRefund(context.Background(), r.ID, decimal.Zero, MethodCash, "", "", "staff-1")
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
	})

	t.Run("refunding twice is an invalid transition", func(t *testing.T) {
		f := newWorkflowFixture(t)
		r := f.approvedRequest(t, ItemRequest{OrderDetailID: 102, Quantity: 1})

		_, err := f.wf.ExecuteRefund(context.Background(), r.ID, decimal.Zero, MethodCash, "", "", "staff-1")
		require.NoError(t, err)
		_, err = f.wf.ExecuteRefund(context.Background(), r.ID, decimal.Zero, MethodCash, "", "", "staff-1")
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
	})
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusApproved))
	assert.True(t, StatusPending.CanTransitionTo(StatusRejected))
	assert.True(t, StatusApproved.CanTransitionTo(StatusRefunded))

	assert.False(t, StatusPending.CanTransitionTo(StatusRefunded), "refund must not skip approval")
	assert.False(t, StatusApproved.CanTransitionTo(StatusRejected))
	assert.False(t, StatusRefunded.CanTransitionTo(StatusApproved))
	assert.False(t, StatusRejected.CanTransitionTo(StatusApproved))
}
