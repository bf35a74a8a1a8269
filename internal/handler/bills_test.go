package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/engine/internal/handler"
	"github.com/kiwari-pos/engine/internal/logger"
	"github.com/kiwari-pos/engine/internal/model"
	"github.com/kiwari-pos/engine/internal/money"
	"github.com/kiwari-pos/engine/internal/service"
	"github.com/shopspring/decimal"
)

// --- Mock BillServicer ---

type mockBillService struct {
	payFn    func(ctx context.Context, actor service.Actor, billID, method string, amount decimal.NullDecimal) (service.Result, error)
	totalsFn func(ctx context.Context, billID string) (money.BillTotals, model.Bill, error)
}

func (m *mockBillService) SubmitPayment(ctx context.Context, actor service.Actor, billID, method string, amount decimal.NullDecimal) (service.Result, error) {
	return m.payFn(ctx, actor, billID, method, amount)
}

func (m *mockBillService) Totals(ctx context.Context, billID string) (money.BillTotals, model.Bill, error) {
	return m.totalsFn(ctx, billID)
}

type totalsBody struct {
	Lines      []money.LineTotals `json:"lines"`
	Totals     money.FixedTotals  `json:"totals"`
	ChangeDue  string             `json:"change_due"`
	BillID     string             `json:"bill_id"`
	PaymentDue bool               `json:"payment_due"`
}

func billRouter(svc *mockBillService) *chi.Mux {
	h := handler.NewBillHandler(svc, handler.Rates{
		Tax:           decimal.RequireFromString("0.18"),
		ServiceCharge: decimal.RequireFromString("0.05"),
	}, logger.Discard())
	return setupRouter("/bills", h.RegisterRoutes)
}

func TestPreview_WorkedExample(t *testing.T) {
	rr := doRequest(t, billRouter(&mockBillService{}), "POST", "/bills/preview", "CASHIER", map[string]interface{}{
		"items": []map[string]interface{}{{
			"id":            "i1",
			"unit_price":    "100",
			"quantity":      2,
			"line_discount": map[string]string{"mode": "PERCENTAGE", "value": "10"},
		}},
		"bill_discount":   map[string]string{"mode": "FIXED_AMOUNT", "value": "20"},
		"amount_received": "200",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}

	var resp totalsBody
	decodeBody(t, rr, &resp)
	if resp.Totals.GrandTotal != "188.80" {
		t.Errorf("grand total: got %s, want 188.80", resp.Totals.GrandTotal)
	}
	if resp.Totals.Tax != "28.80" || resp.Totals.TaxableBase != "160.00" {
		t.Errorf("tax %s base %s", resp.Totals.Tax, resp.Totals.TaxableBase)
	}
	if resp.ChangeDue != "11.20" {
		t.Errorf("change due: got %s, want 11.20", resp.ChangeDue)
	}
	if len(resp.Lines) != 1 || !resp.Lines[0].DiscountAmount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("lines: %+v", resp.Lines)
	}
}

func TestPreview_ServiceChargeOverride(t *testing.T) {
	rr := doRequest(t, billRouter(&mockBillService{}), "POST", "/bills/preview", "CASHIER", map[string]interface{}{
		"items":                  []map[string]interface{}{{"unit_price": "100", "quantity": 1}},
		"tax_rate":               "0",
		"service_charge_enabled": true,
	})
	var resp totalsBody
	decodeBody(t, rr, &resp)
	if resp.Totals.ServiceCharge != "5.00" || resp.Totals.GrandTotal != "105.00" {
		t.Errorf("totals: %+v", resp.Totals)
	}
}

func TestBillTotals(t *testing.T) {
	svc := &mockBillService{
		totalsFn: func(ctx context.Context, billID string) (money.BillTotals, model.Bill, error) {
			return money.BillTotals{GrandTotal: decimal.RequireFromString("99.995")}, model.Bill{ID: billID, PaymentStatus: model.PaymentDraft}, nil
		},
	}
	rr := doRequest(t, billRouter(svc), "GET", "/bills/B1/totals", "CASHIER", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var resp totalsBody
	decodeBody(t, rr, &resp)
	if resp.BillID != "B1" || !resp.PaymentDue || resp.Totals.GrandTotal != "100.00" {
		t.Errorf("response: %+v", resp)
	}
}

func TestPay(t *testing.T) {
	var gotAmount decimal.NullDecimal
	var gotMethod string
	svc := &mockBillService{
		payFn: func(ctx context.Context, actor service.Actor, billID, method string, amount decimal.NullDecimal) (service.Result, error) {
			gotAmount, gotMethod = amount, method
			return service.Result{Outcome: service.Applied, Bill: &model.Bill{ID: billID, PaymentStatus: model.PaymentPaid}}, nil
		},
	}
	router := billRouter(svc)

	rr := doRequest(t, router, "POST", "/bills/B1/pay", "CASHIER", map[string]string{"payment_method": "QRIS"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if gotAmount.Valid || gotMethod != "QRIS" {
		t.Errorf("amount %+v method %s", gotAmount, gotMethod)
	}

	rr = doRequest(t, router, "POST", "/bills/B1/pay", "CASHIER", map[string]string{"payment_method": "CASH", "amount": "150.50"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if !gotAmount.Valid || !gotAmount.Decimal.Equal(decimal.RequireFromString("150.5")) {
		t.Errorf("amount: %+v", gotAmount)
	}
}

func TestPay_BadRequests(t *testing.T) {
	router := billRouter(&mockBillService{})
	if rr := doRequest(t, router, "POST", "/bills/B1/pay", "CASHIER", map[string]string{}); rr.Code != http.StatusBadRequest {
		t.Errorf("missing method: got %d", rr.Code)
	}
	if rr := doRequest(t, router, "POST", "/bills/B1/pay", "CASHIER", map[string]string{"payment_method": "CASH", "amount": "lots"}); rr.Code != http.StatusBadRequest {
		t.Errorf("bad amount: got %d", rr.Code)
	}
}

func TestPay_AlreadyPaid(t *testing.T) {
	svc := &mockBillService{
		payFn: func(ctx context.Context, actor service.Actor, billID, method string, amount decimal.NullDecimal) (service.Result, error) {
			return service.Result{}, service.ErrBillNotDraft
		},
	}
	rr := doRequest(t, billRouter(svc), "POST", "/bills/B1/pay", "CASHIER", map[string]string{"payment_method": "CARD"})
	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d", rr.Code)
	}
}
