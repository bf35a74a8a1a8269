package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/engine/internal/backend"
	"github.com/kiwari-pos/engine/internal/model"
	"github.com/kiwari-pos/engine/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OrderServicer is the part of the service that mutates orders.
type OrderServicer interface {
	SubmitStatusChange(ctx context.Context, actor service.Actor, orderID string, to model.OrderStatus, reason string) (service.Result, error)
	CreateOrder(ctx context.Context, actor service.Actor, req backend.NewOrder) (service.Result, error)
}

// OrderHandler handles order mutations.
type OrderHandler struct {
	svc OrderServicer
	log logrus.FieldLogger
}

func NewOrderHandler(svc OrderServicer, log logrus.FieldLogger) *OrderHandler {
	return &OrderHandler{svc: svc, log: log.WithField("handler", "orders")}
}

// RegisterRoutes registers order endpoints. Expected to be mounted at /orders
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Patch("/{id}/status", h.UpdateStatus)
}

// --- Request types ---

type createOrderItemRequest struct {
	MenuItemID   string         `json:"menu_item_id"`
	Name         string         `json:"name"`
	UnitPrice    string         `json:"unit_price"`
	Quantity     int32          `json:"quantity"`
	Notes        string         `json:"notes"`
	LineDiscount model.Discount `json:"line_discount"`
	Station      string         `json:"station"`
}

type createOrderRequest struct {
	TableID   *string                  `json:"table_id"`
	OrderType string                   `json:"order_type"`
	Station   string                   `json:"station"`
	Items     []createOrderItemRequest `json:"items"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// --- Handlers ---

// Create handles POST /orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(r)
	if !ok {
		writeJSON(w, h.log, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	items := make([]model.OrderItem, len(req.Items))
	for i, it := range req.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "invalid unit_price"})
			return
		}
		items[i] = model.OrderItem{
			MenuItemID:   it.MenuItemID,
			Name:         it.Name,
			UnitPrice:    price,
			Quantity:     it.Quantity,
			Notes:        it.Notes,
			LineDiscount: it.LineDiscount,
			Station:      it.Station,
		}
	}

	res, err := h.svc.CreateOrder(r.Context(), who, backend.NewOrder{
		TableID:   req.TableID,
		OrderType: req.OrderType,
		Station:   req.Station,
		Items:     items,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeResult(w, h.log, http.StatusCreated, res)
}

// UpdateStatus handles PATCH /orders/{id}/status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(r)
	if !ok {
		writeJSON(w, h.log, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Status == "" {
		writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}

	res, err := h.svc.SubmitStatusChange(r.Context(), who, chi.URLParam(r, "id"), model.OrderStatus(req.Status), req.Reason)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeResult(w, h.log, http.StatusOK, res)
}
