// Package returns implements the multi-stage return/refund workflow: return
// requests with itemized lines reconciled against the originating order, and
// the refund transaction recorded on execution.
package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the return request state machine. REFUNDED and REJECTED are
// terminal.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRefunded Status = "REFUNDED"
	StatusRejected Status = "REJECTED"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusRefunded},
}

// CanTransitionTo reports whether moving from s to target is allowed.
// Skipping a state (refunding a still-pending request) is not.
func (s Status) CanTransitionTo(target Status) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// InvalidTransitionError indicates an attempted return-status transition
// outside the allowed adjacency set.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid return transition %s -> %s", e.From, e.To)
}

// OverReturnQuantityError indicates a return line claiming more units than
// remain returnable on its order line.
type OverReturnQuantityError struct {
	OrderDetailID int64
	Requested     int
	Remaining     int
}

func (e *OverReturnQuantityError) Error() string {
	return fmt.Sprintf("return quantity %d exceeds remaining returnable %d on order line %d",
		e.Requested, e.Remaining, e.OrderDetailID)
}

var (
	// ErrNotFound is returned when a return request does not exist.
	ErrNotFound = errors.New("return request not found")
	// ErrOrderNotReturnable is returned when the order is not in a state that
	// permits returns.
	ErrOrderNotReturnable = errors.New("order is not in a returnable state")
	// ErrReturnWindowClosed is returned when the return window has elapsed.
	ErrReturnWindowClosed = errors.New("return window has closed")
	// ErrNotOwner is returned when the requesting user does not own the order.
	ErrNotOwner = errors.New("order does not belong to requesting user")
	// ErrDuplicateLines is returned when a request lists the same order line
	// more than once.
	ErrDuplicateLines = errors.New("return request lists duplicate order lines")
	// ErrLineNotInOrder is returned when a return line references an order
	// detail outside the target order.
	ErrLineNotInOrder = errors.New("return line does not belong to the order")
	// ErrRefundAlreadyExecuted guards the one-refund-per-request invariant.
	ErrRefundAlreadyExecuted = errors.New("refund already executed for this return request")
	// ErrConflict signals a transient serialization conflict; the workflow
	// retries it internally before surfacing.
	ErrConflict = errors.New("concurrent modification conflict")
)

// IncompleteRefundInfoError names the fields missing for the chosen payout
// method.
type IncompleteRefundInfoError struct {
	Method  Method
	Missing []string
}

func (e *IncompleteRefundInfoError) Error() string {
	return fmt.Sprintf("incomplete refund info for %s: missing %v", e.Method, e.Missing)
}

// Method is the customer-declared payout channel.
type Method string

const (
	MethodCash         Method = "CASH"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodEWallet      Method = "EWALLET"
)

// RefundInfo is the payout destination declared by the customer, with
// method-conditional fields. Exactly one per return request.
type RefundInfo struct {
	Method         Method
	BankName       string
	AccountNumber  string
	AccountHolder  string
	WalletProvider string
	WalletAccount  string
}

// Validate checks field completeness for the declared method: bank transfers
// need the full bank triple, e-wallets the provider and account, cash
// nothing.
func (i RefundInfo) Validate() error {
	var missing []string
	switch i.Method {
	case MethodBankTransfer:
		if i.BankName == "" {
			missing = append(missing, "bankName")
		}
		if i.AccountNumber == "" {
			missing = append(missing, "accountNumber")
		}
		if i.AccountHolder == "" {
			missing = append(missing, "accountHolder")
		}
	case MethodEWallet:
		if i.WalletProvider == "" {
			missing = append(missing, "walletProvider")
		}
		if i.WalletAccount == "" {
			missing = append(missing, "walletAccount")
		}
	case MethodCash:
		// nothing required
	default:
		return &IncompleteRefundInfoError{Method: i.Method, Missing: []string{"method"}}
	}
	if len(missing) > 0 {
		return &IncompleteRefundInfoError{Method: i.Method, Missing: missing}
	}
	return nil
}

// Item is one returned line: a reference to the original order detail, the
// quantity coming back, and optional evidence.
type Item struct {
	ID            int64
	OrderDetailID int64
	Quantity      int
	Note          string
	ImageURLs     []string
}

// Request is a customer-initiated return claim against one order.
type Request struct {
	ID           int64
	OrderID      int64
	UserID       int64
	Reason       string
	Note         string
	Status       Status
	RefundAmount decimal.Decimal
	Items        []Item
	Info         RefundInfo
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transaction records money returned to the customer. Exactly one per
// request, created only on refund execution.
type Transaction struct {
	ID            int64
	RequestID     int64
	Amount        decimal.Decimal
	Method        Method
	ReferenceCode string
	Note          string
	CreatedBy     string
	CreatedAt     time.Time
}

// Repository defines persistence for return requests. ClaimedQuantities must
// be called while holding the locks taken by LockOrderDetails so concurrent
// requests against the same line serialize; implementations map transient
// serialization failures to ErrConflict.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id int64) (*Request, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetRefundAmount(ctx context.Context, id int64, amount decimal.Decimal) error
	LockOrderDetails(ctx context.Context, detailIDs []int64) error
	// ClaimedQuantities sums return quantities across all non-rejected
	// requests per order detail.
	ClaimedQuantities(ctx context.Context, detailIDs []int64) (map[int64]int, error)
	// RefundedQuantities sums return quantities across refunded requests only.
	RefundedQuantities(ctx context.Context, detailIDs []int64) (map[int64]int, error)
	// OpenRequestCount counts PENDING and APPROVED requests for an order.
	OpenRequestCount(ctx context.Context, orderID int64) (int, error)
	CreateRefundTransaction(ctx context.Context, tx *Transaction) error
}
