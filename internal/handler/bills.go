package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/engine/internal/model"
	"github.com/kiwari-pos/engine/internal/money"
	"github.com/kiwari-pos/engine/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BillServicer is the part of the service that reads and pays bills.
type BillServicer interface {
	SubmitPayment(ctx context.Context, actor service.Actor, billID, method string, amount decimal.NullDecimal) (service.Result, error)
	Totals(ctx context.Context, billID string) (money.BillTotals, model.Bill, error)
}

// Rates are the defaults applied to a preview that does not name its own.
type Rates struct {
	Tax                  decimal.Decimal
	ServiceCharge        decimal.Decimal
	ServiceChargeEnabled bool
}

// BillHandler serves totals and payments.
type BillHandler struct {
	svc   BillServicer
	rates Rates
	log   logrus.FieldLogger
}

func NewBillHandler(svc BillServicer, rates Rates, log logrus.FieldLogger) *BillHandler {
	return &BillHandler{svc: svc, rates: rates, log: log.WithField("handler", "bills")}
}

// RegisterRoutes registers bill endpoints. Expected to be mounted at /bills
func (h *BillHandler) RegisterRoutes(r chi.Router) {
	r.Post("/preview", h.Preview)
	r.Get("/{id}/totals", h.Totals)
	r.Post("/{id}/pay", h.Pay)
}

// --- Request / Response types ---

type previewRequest struct {
	Items                []model.OrderItem   `json:"items"`
	BillDiscount         model.Discount      `json:"bill_discount"`
	TaxRate              decimal.NullDecimal `json:"tax_rate"`
	ServiceChargeRate    decimal.NullDecimal `json:"service_charge_rate"`
	ServiceChargeEnabled *bool               `json:"service_charge_enabled"`
	AmountReceived       decimal.NullDecimal `json:"amount_received"`
}

type totalsResponse struct {
	Lines      []money.LineTotals `json:"lines"`
	Totals     money.FixedTotals  `json:"totals"`
	ChangeDue  string             `json:"change_due,omitempty"`
	BillID     string             `json:"bill_id,omitempty"`
	PaymentDue bool               `json:"payment_due,omitempty"`
}

type payRequest struct {
	PaymentMethod string `json:"payment_method"`
	Amount        string `json:"amount"`
}

func toTotalsResponse(t money.BillTotals) totalsResponse {
	rounded := t.Rounded()
	return totalsResponse{Lines: rounded.Lines, Totals: t.Fixed()}
}

// --- Handlers ---

// Preview handles POST /bills/preview: totals for a cart that is not an
// order yet.
func (h *BillHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	tax := h.rates.Tax
	if req.TaxRate.Valid {
		tax = req.TaxRate.Decimal
	}
	svcRate := h.rates.ServiceCharge
	if req.ServiceChargeRate.Valid {
		svcRate = req.ServiceChargeRate.Decimal
	}
	svcOn := h.rates.ServiceChargeEnabled
	if req.ServiceChargeEnabled != nil {
		svcOn = *req.ServiceChargeEnabled
	}

	totals := money.ComputeBill(req.Items, req.BillDiscount, tax, svcOn, svcRate)
	resp := toTotalsResponse(totals)
	if req.AmountReceived.Valid {
		resp.ChangeDue = money.ChangeDue(req.AmountReceived.Decimal, totals.Rounded().GrandTotal).StringFixed(2)
	}
	writeJSON(w, h.log, http.StatusOK, resp)
}

// Totals handles GET /bills/{id}/totals.
func (h *BillHandler) Totals(w http.ResponseWriter, r *http.Request) {
	totals, bill, err := h.svc.Totals(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	resp := toTotalsResponse(totals)
	resp.BillID = bill.ID
	resp.PaymentDue = bill.PaymentStatus == model.PaymentDraft
	writeJSON(w, h.log, http.StatusOK, resp)
}

// Pay handles POST /bills/{id}/pay. An empty amount charges the grand total.
func (h *BillHandler) Pay(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(r)
	if !ok {
		writeJSON(w, h.log, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.PaymentMethod == "" {
		writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "payment_method is required"})
		return
	}

	var amount decimal.NullDecimal
	if req.Amount != "" {
		d, err := decimal.NewFromString(req.Amount)
		if err != nil {
			writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "invalid amount"})
			return
		}
		amount = decimal.NewNullDecimal(d)
	}

	res, err := h.svc.SubmitPayment(r.Context(), who, chi.URLParam(r, "id"), req.PaymentMethod, amount)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeResult(w, h.log, http.StatusOK, res)
}
