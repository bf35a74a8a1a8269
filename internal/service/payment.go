package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kiwari-pos/engine/internal/apperr"
	"github.com/kiwari-pos/engine/internal/backend"
	"github.com/kiwari-pos/engine/internal/enum"
	"github.com/kiwari-pos/engine/internal/model"
	"github.com/kiwari-pos/engine/internal/money"
	"github.com/kiwari-pos/engine/internal/queue"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidPaymentMethod = fmt.Errorf("invalid payment_method: %w", apperr.ErrValidation)
	ErrInvalidAmount        = fmt.Errorf("amount must be >= 0: %w", apperr.ErrValidation)
	ErrBillNotDraft         = fmt.Errorf("bill is not open for payment: %w", apperr.ErrInvalidTransition)
)

// SubmitPayment records a payment on a Draft bill. Without an amount the
// bill's grand total, rounded to cents, is charged.
func (s *OrderService) SubmitPayment(ctx context.Context, actor Actor, billID, method string, amount decimal.NullDecimal) (Result, error) {
	if strings.TrimSpace(billID) == "" {
		return Result{}, ErrMissingID
	}
	if !enum.IsPaymentMethod(method) {
		return Result{}, fmt.Errorf("%q: %w", method, ErrInvalidPaymentMethod)
	}
	if amount.Valid && amount.Decimal.IsNegative() {
		return Result{}, ErrInvalidAmount
	}
	if len(s.pendingFor(billID)) > 0 {
		return Result{}, fmt.Errorf("bill %s has a queued payment: %w", billID, ErrBillNotDraft)
	}

	bill, err := s.bill(ctx, billID)
	if err != nil {
		return Result{}, err
	}
	if bill.PaymentStatus != model.PaymentDraft {
		return Result{}, fmt.Errorf("bill %s is %s: %w", billID, bill.PaymentStatus, ErrBillNotDraft)
	}

	charge := amount.Decimal
	if !amount.Valid {
		o, err := s.order(ctx, bill.OrderID)
		if err != nil {
			return Result{}, err
		}
		charge = money.ForBill(o, bill).Rounded().GrandTotal
	}

	m, err := queue.NewMutation(queue.KindRecordPayment, billID, backend.Payment{
		PaymentMode: method,
		Amount:      charge,
	})
	if err != nil {
		return Result{}, err
	}

	s.log.WithFields(logrus.Fields{
		"mutation_id": m.ID,
		"bill_id":     billID,
		"user_id":     actor.UserID,
		"amount":      charge.StringFixed(2),
	}).Debug("submitting payment")
	return s.submit(ctx, m)
}

// Totals runs the Money Engine over a bill and its order.
func (s *OrderService) Totals(ctx context.Context, billID string) (money.BillTotals, model.Bill, error) {
	bill, err := s.bill(ctx, billID)
	if err != nil {
		return money.BillTotals{}, model.Bill{}, err
	}
	o, err := s.order(ctx, bill.OrderID)
	if err != nil {
		return money.BillTotals{}, model.Bill{}, err
	}
	return money.ForBill(o, bill), bill, nil
}

func (s *OrderService) bill(ctx context.Context, id string) (model.Bill, error) {
	if b, ok := s.state.Snapshot().Bill(id); ok {
		return b, nil
	}
	b, err := s.backend.GetBill(ctx, id)
	if err != nil {
		return model.Bill{}, fmt.Errorf("load bill %s: %w", id, err)
	}
	s.state.MergeBill(b)
	return b, nil
}

func (s *OrderService) order(ctx context.Context, id string) (model.Order, error) {
	if o, ok := s.state.Snapshot().Order(id); ok {
		return o, nil
	}
	o, err := s.backend.GetOrder(ctx, id)
	if err != nil {
		return model.Order{}, fmt.Errorf("load order %s: %w", id, err)
	}
	s.state.MergeOrder(o)
	return o, nil
}
