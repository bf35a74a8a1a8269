package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/engine/internal/apperr"
	"github.com/kiwari-pos/engine/internal/backend"
	"github.com/kiwari-pos/engine/internal/handler"
	"github.com/kiwari-pos/engine/internal/logger"
	"github.com/kiwari-pos/engine/internal/model"
	"github.com/kiwari-pos/engine/internal/order"
	"github.com/kiwari-pos/engine/internal/queue"
	"github.com/kiwari-pos/engine/internal/service"
)

// --- Mock OrderServicer ---

type mockOrderService struct {
	statusFn func(ctx context.Context, actor service.Actor, orderID string, to model.OrderStatus, reason string) (service.Result, error)
	createFn func(ctx context.Context, actor service.Actor, req backend.NewOrder) (service.Result, error)
}

func (m *mockOrderService) SubmitStatusChange(ctx context.Context, actor service.Actor, orderID string, to model.OrderStatus, reason string) (service.Result, error) {
	return m.statusFn(ctx, actor, orderID, to, reason)
}

func (m *mockOrderService) CreateOrder(ctx context.Context, actor service.Actor, req backend.NewOrder) (service.Result, error) {
	return m.createFn(ctx, actor, req)
}

func orderRouter(svc *mockOrderService) *chi.Mux {
	h := handler.NewOrderHandler(svc, logger.Discard())
	return setupRouter("/orders", h.RegisterRoutes)
}

func TestUpdateStatus_Outcomes(t *testing.T) {
	tests := []struct {
		name string
		res  service.Result
		err  error
		want int
	}{
		{"applied", service.Result{Outcome: service.Applied, Order: &model.Order{ID: "A", Status: model.OrderPreparing}}, nil, http.StatusOK},
		{"queued", service.Result{Outcome: service.Queued, Mutation: &queue.Mutation{Kind: queue.KindUpdateStatus}}, nil, http.StatusAccepted},
		{"skipped", service.Result{Outcome: service.Skipped}, nil, http.StatusNoContent},
		{"invalid transition", service.Result{}, &order.TransitionError{From: model.OrderPreparing, To: model.OrderPending}, http.StatusConflict},
		{"conflict", service.Result{}, apperr.ErrConflict, http.StatusConflict},
		{"role not allowed", service.Result{}, order.ErrRoleNotAllowed, http.StatusBadRequest},
		{"backend down", service.Result{}, apperr.ErrNetwork, http.StatusServiceUnavailable},
		{"upstream credentials", service.Result{}, backend.ErrUnauthorized, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockOrderService{
				statusFn: func(ctx context.Context, actor service.Actor, orderID string, to model.OrderStatus, reason string) (service.Result, error) {
					return tt.res, tt.err
				},
			}
			rr := doRequest(t, orderRouter(svc), "PATCH", "/orders/A/status", "KITCHEN", map[string]string{"status": "PREPARING"})
			if rr.Code != tt.want {
				t.Errorf("status: got %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestUpdateStatus_PassesActorAndReason(t *testing.T) {
	var gotActor service.Actor
	var gotID, gotReason string
	var gotTo model.OrderStatus
	svc := &mockOrderService{
		statusFn: func(ctx context.Context, actor service.Actor, orderID string, to model.OrderStatus, reason string) (service.Result, error) {
			gotActor, gotID, gotTo, gotReason = actor, orderID, to, reason
			return service.Result{Outcome: service.Applied}, nil
		},
	}

	rr := doRequest(t, orderRouter(svc), "PATCH", "/orders/ord-9/status", "CASHIER", map[string]string{
		"status": "VOIDED",
		"reason": "guest left",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if gotActor.Role != "CASHIER" || gotActor.UserID == "" {
		t.Errorf("actor: got %+v", gotActor)
	}
	if gotID != "ord-9" || gotTo != model.OrderVoided || gotReason != "guest left" {
		t.Errorf("got id=%s to=%s reason=%q", gotID, gotTo, gotReason)
	}
}

func TestUpdateStatus_BadRequests(t *testing.T) {
	svc := &mockOrderService{}
	router := orderRouter(svc)

	if rr := doRequest(t, router, "PATCH", "/orders/A/status", "KITCHEN", "{not json"); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid body: got %d", rr.Code)
	}
	if rr := doRequest(t, router, "PATCH", "/orders/A/status", "KITCHEN", map[string]string{}); rr.Code != http.StatusBadRequest {
		t.Errorf("missing status: got %d", rr.Code)
	}
	if rr := doRequest(t, router, "PATCH", "/orders/A/status", "", map[string]string{"status": "READY"}); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: got %d", rr.Code)
	}
}

func TestCreateOrder(t *testing.T) {
	var got backend.NewOrder
	svc := &mockOrderService{
		createFn: func(ctx context.Context, actor service.Actor, req backend.NewOrder) (service.Result, error) {
			got = req
			return service.Result{Outcome: service.Applied, Order: &model.Order{ID: "new-1", Status: model.OrderPending}}, nil
		},
	}

	rr := doRequest(t, orderRouter(svc), "POST", "/orders", "WAITER", map[string]interface{}{
		"table_id":   "T1",
		"order_type": "DINE_IN",
		"items": []map[string]interface{}{
			{"name": "Nasi Bakar", "unit_price": "25000.00", "quantity": 2, "station": "GRILL"},
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}

	var resp service.Result
	decodeBody(t, rr, &resp)
	if resp.Outcome != service.Applied || resp.Order == nil || resp.Order.ID != "new-1" {
		t.Errorf("response: %+v", resp)
	}
	if got.TableID == nil || *got.TableID != "T1" || len(got.Items) != 1 {
		t.Fatalf("request passed to service: %+v", got)
	}
	if got.Items[0].UnitPrice.String() != "25000" || got.Items[0].Quantity != 2 {
		t.Errorf("item: %+v", got.Items[0])
	}
}

func TestCreateOrder_InvalidPrice(t *testing.T) {
	svc := &mockOrderService{}
	rr := doRequest(t, orderRouter(svc), "POST", "/orders", "WAITER", map[string]interface{}{
		"items": []map[string]interface{}{{"unit_price": "abc", "quantity": 1}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", rr.Code)
	}
}

func TestCreateOrder_ValidationError(t *testing.T) {
	svc := &mockOrderService{
		createFn: func(ctx context.Context, actor service.Actor, req backend.NewOrder) (service.Result, error) {
			return service.Result{}, service.ErrEmptyItems
		},
	}
	rr := doRequest(t, orderRouter(svc), "POST", "/orders", "WAITER", map[string]interface{}{"items": []interface{}{}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", rr.Code)
	}
}
