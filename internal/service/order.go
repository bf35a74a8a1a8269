package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kiwari-pos/engine/internal/apperr"
	"github.com/kiwari-pos/engine/internal/backend"
	"github.com/kiwari-pos/engine/internal/enum"
	"github.com/kiwari-pos/engine/internal/guard"
	"github.com/kiwari-pos/engine/internal/model"
	"github.com/kiwari-pos/engine/internal/order"
	"github.com/kiwari-pos/engine/internal/queue"
	"github.com/kiwari-pos/engine/internal/reconcile"
	"github.com/sirupsen/logrus"
)

// Errors returned by the order service. All wrap apperr.ErrValidation.
var (
	ErrEmptyItems       = fmt.Errorf("items are required: %w", apperr.ErrValidation)
	ErrInvalidQuantity  = fmt.Errorf("quantity must be > 0: %w", apperr.ErrValidation)
	ErrInvalidPrice     = fmt.Errorf("unit_price must be >= 0: %w", apperr.ErrValidation)
	ErrInvalidOrderType = fmt.Errorf("invalid order_type: %w", apperr.ErrValidation)
	ErrTableRequired    = fmt.Errorf("table_id is required for DINE_IN orders: %w", apperr.ErrValidation)
	ErrMissingID        = fmt.Errorf("id is required: %w", apperr.ErrValidation)
)

// Backend is the subset of *backend.Client the service mutates through.
type Backend interface {
	GetOrder(ctx context.Context, id string) (model.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, req backend.StatusUpdate, idempotencyKey string) (model.Order, error)
	CreateOrder(ctx context.Context, req backend.NewOrder, idempotencyKey string) (model.Order, error)
	GetBill(ctx context.Context, id string) (model.Bill, error)
	PayBill(ctx context.Context, id string, req backend.Payment, idempotencyKey string) (model.Bill, error)
}

// State is the reconciled cache. Satisfied by *reconcile.Cache.
type State interface {
	Snapshot() reconcile.Snapshot
	MergeOrder(o model.Order)
	MergeBill(b model.Bill)
}

// Reconciler forces an immediate poll. Satisfied by *poller.Poller.
type Reconciler interface {
	Trigger()
}

// Outcome of a submitted mutation.
type Outcome string

const (
	Applied Outcome = "APPLIED"
	Skipped Outcome = "SKIPPED"
	Queued  Outcome = "QUEUED"
)

// Result of an entry point. Order or Bill is set when Applied; Mutation is
// set when Queued.
type Result struct {
	Outcome  Outcome         `json:"outcome"`
	Order    *model.Order    `json:"order,omitempty"`
	Bill     *model.Bill     `json:"bill,omitempty"`
	Mutation *queue.Mutation `json:"mutation,omitempty"`
}

// Actor is who asked for a mutation. Role drives state-machine checks.
type Actor struct {
	UserID string
	Role   string
}

// statusChange is the queued payload of an UPDATE_STATUS mutation.
type statusChange struct {
	From   model.OrderStatus `json:"from"`
	To     model.OrderStatus `json:"to"`
	Reason string            `json:"reason,omitempty"`
	Role   string            `json:"role"`
}

// OrderService owns every mutation the UI can make. Live submissions and
// queue replays go through the same dispatch.
type OrderService struct {
	backend Backend
	state   State
	queue   *queue.Queue
	guard   *guard.Guard
	recon   Reconciler
	log     logrus.FieldLogger
}

// NewOrderService creates the service and registers it as q's replayer.
// recon may be nil until the poller exists; see SetReconciler.
func NewOrderService(b Backend, state State, q *queue.Queue, g *guard.Guard, recon Reconciler, log logrus.FieldLogger) *OrderService {
	s := &OrderService{
		backend: b,
		state:   state,
		queue:   q,
		guard:   g,
		recon:   recon,
		log:     log.WithField("component", "service"),
	}
	q.SetReplayer(s)
	return s
}

func (s *OrderService) SetReconciler(r Reconciler) {
	s.recon = r
}

// SubmitStatusChange validates from -> to locally and sends it. A second
// call for the same order while the first is in flight is Skipped.
func (s *OrderService) SubmitStatusChange(ctx context.Context, actor Actor, orderID string, to model.OrderStatus, reason string) (Result, error) {
	if strings.TrimSpace(orderID) == "" {
		return Result{}, ErrMissingID
	}

	from, err := s.currentStatus(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	if err := order.Validate(from, to, actor.Role, reason); err != nil {
		return Result{}, err
	}

	m, err := queue.NewMutation(queue.KindUpdateStatus, orderID, statusChange{
		From:   from,
		To:     to,
		Reason: strings.TrimSpace(reason),
		Role:   actor.Role,
	})
	if err != nil {
		return Result{}, err
	}
	return s.submit(ctx, m)
}

// CreateOrder validates and sends a new order. Each call is its own
// mutation, so the guard never collapses two creates.
func (s *OrderService) CreateOrder(ctx context.Context, actor Actor, req backend.NewOrder) (Result, error) {
	if err := validateNewOrder(req); err != nil {
		return Result{}, err
	}

	m, err := queue.NewMutation(queue.KindCreateOrder, "", req)
	if err != nil {
		return Result{}, err
	}
	m.EntityID = m.ID.String()

	s.log.WithFields(logrus.Fields{
		"mutation_id": m.ID,
		"user_id":     actor.UserID,
		"items":       len(req.Items),
	}).Debug("creating order")
	return s.submit(ctx, m)
}

// currentStatus is the status the next transition starts from: the target
// of the newest queued change for the order, else the reconciled status.
func (s *OrderService) currentStatus(ctx context.Context, orderID string) (model.OrderStatus, error) {
	if pending := s.pendingFor(orderID); len(pending) > 0 {
		for i := len(pending) - 1; i >= 0; i-- {
			if pending[i].Kind != queue.KindUpdateStatus {
				continue
			}
			var p statusChange
			if err := decode(pending[i], &p); err == nil {
				return p.To, nil
			}
		}
	}

	o, err := s.order(ctx, orderID)
	if err != nil {
		return "", err
	}
	return o.Status, nil
}

func validateNewOrder(req backend.NewOrder) error {
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	switch req.OrderType {
	case "", enum.OrderTypeDineIn, enum.OrderTypeTakeaway:
	default:
		return fmt.Errorf("%q: %w", req.OrderType, ErrInvalidOrderType)
	}
	if req.OrderType == enum.OrderTypeDineIn && (req.TableID == nil || *req.TableID == "") {
		return ErrTableRequired
	}
	for i, it := range req.Items {
		if it.Quantity < 1 {
			return fmt.Errorf("item[%d]: %w", i, ErrInvalidQuantity)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("item[%d]: %w", i, ErrInvalidPrice)
		}
	}
	return nil
}

// isConflict reports whether err means local state is stale.
func isConflict(err error) bool {
	return errors.Is(err, apperr.ErrConflict)
}
