package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiwari-pos/engine/internal/apperr"
	"github.com/kiwari-pos/engine/internal/backend"
	"github.com/kiwari-pos/engine/internal/guard"
	"github.com/kiwari-pos/engine/internal/order"
	"github.com/kiwari-pos/engine/internal/queue"
	"github.com/sirupsen/logrus"
)

// submit is the live path: guard, dispatch, and queue on network failure.
// Work for an entity that already has queued mutations is queued behind
// them so it cannot overtake.
func (s *OrderService) submit(ctx context.Context, m queue.Mutation) (Result, error) {
	log := s.log.WithFields(logrus.Fields{
		"mutation_id": m.ID,
		"kind":        m.Kind,
		"entity_id":   m.EntityID,
	})

	if len(s.pendingFor(m.EntityID)) > 0 {
		if err := s.queue.Enqueue(ctx, m); err != nil {
			return Result{}, fmt.Errorf("queue %s behind pending work: %w", m.Kind, err)
		}
		log.Info("queued behind pending mutations")
		return Result{Outcome: Queued, Mutation: &m}, nil
	}

	key := entityKey(m)
	if !s.guard.TryAcquire(key) {
		log.Debug("entity busy, skipping")
		return Result{Outcome: Skipped}, nil
	}
	defer s.guard.Release(key)

	res, err := s.dispatch(ctx, m)
	if err == nil {
		res.Outcome = Applied
		return res, nil
	}
	if !apperr.Retryable(err) {
		return Result{}, err
	}

	m.RetryCount = 1
	m.LastError = err.Error()
	if qerr := s.queue.Enqueue(ctx, m); qerr != nil {
		return Result{}, fmt.Errorf("queue %s after %v: %w", m.Kind, err, qerr)
	}
	log.WithError(err).Warn("backend unreachable, mutation queued")
	return Result{Outcome: Queued, Mutation: &m}, nil
}

// Replay implements queue.Replayer. It takes the same guard as a live
// submission and returns queue.ErrBusy when the entity is taken.
func (s *OrderService) Replay(ctx context.Context, m queue.Mutation) error {
	key := entityKey(m)
	if !s.guard.TryAcquire(key) {
		return queue.ErrBusy
	}
	defer s.guard.Release(key)

	if m.Kind == queue.KindUpdateStatus {
		var p statusChange
		if err := decode(m, &p); err != nil {
			return err
		}
		if o, ok := s.state.Snapshot().Order(m.EntityID); ok {
			if err := order.Validate(o.Status, p.To, p.Role, p.Reason); err != nil {
				return err
			}
		}
	}

	_, err := s.dispatch(ctx, m)
	return err
}

// dispatch sends m to the backend and merges the confirmed entity into the
// cache. A conflict forces a reconciliation poll.
func (s *OrderService) dispatch(ctx context.Context, m queue.Mutation) (Result, error) {
	res, err := s.send(ctx, m)
	if err != nil {
		if isConflict(err) && s.recon != nil {
			s.recon.Trigger()
		}
		return Result{}, fmt.Errorf("%s %s: %w", m.Kind, m.EntityID, err)
	}
	return res, nil
}

func (s *OrderService) send(ctx context.Context, m queue.Mutation) (Result, error) {
	idem := m.ID.String()

	switch m.Kind {
	case queue.KindUpdateStatus:
		var p statusChange
		if err := decode(m, &p); err != nil {
			return Result{}, err
		}
		o, err := s.backend.UpdateOrderStatus(ctx, m.EntityID, backend.StatusUpdate{Status: p.To, Reason: p.Reason}, idem)
		if err != nil {
			return Result{}, err
		}
		s.state.MergeOrder(o)
		return Result{Order: &o}, nil

	case queue.KindCreateOrder:
		var p backend.NewOrder
		if err := decode(m, &p); err != nil {
			return Result{}, err
		}
		o, err := s.backend.CreateOrder(ctx, p, idem)
		if err != nil {
			return Result{}, err
		}
		s.state.MergeOrder(o)
		return Result{Order: &o}, nil

	case queue.KindRecordPayment:
		var p backend.Payment
		if err := decode(m, &p); err != nil {
			return Result{}, err
		}
		b, err := s.backend.PayBill(ctx, m.EntityID, p, idem)
		if err != nil {
			return Result{}, err
		}
		s.state.MergeBill(b)
		return Result{Bill: &b}, nil
	}
	return Result{}, fmt.Errorf("unknown mutation kind %q: %w", m.Kind, apperr.ErrValidation)
}

// RetryQueuedMutation makes one attempt at a queued mutation.
func (s *OrderService) RetryQueuedMutation(ctx context.Context, id uuid.UUID) (queue.Result, error) {
	return s.queue.Retry(ctx, id)
}

// RetryAll makes one attempt at every queued mutation in order.
func (s *OrderService) RetryAll(ctx context.Context) queue.Report {
	rep := s.queue.RetryAll(ctx)
	s.log.WithFields(logrus.Fields{
		"succeeded": rep.Succeeded,
		"failed":    rep.Failed,
		"skipped":   rep.Skipped,
		"dropped":   rep.Dropped,
	}).Info("retry pass finished")
	return rep
}

// DropQueuedMutation discards a queued mutation without sending it.
func (s *OrderService) DropQueuedMutation(ctx context.Context, id uuid.UUID) error {
	return s.queue.Dequeue(ctx, id)
}

// Pending lists queued mutations oldest first.
func (s *OrderService) Pending() []queue.Mutation {
	return s.queue.List()
}

func (s *OrderService) pendingFor(entityID string) []queue.Mutation {
	var out []queue.Mutation
	for _, m := range s.queue.List() {
		if m.EntityID == entityID {
			out = append(out, m)
		}
	}
	return out
}

func entityKey(m queue.Mutation) guard.Key {
	switch m.Kind {
	case queue.KindUpdateStatus:
		return guard.Order(m.EntityID)
	case queue.KindRecordPayment:
		return guard.Bill(m.EntityID)
	}
	return guard.Create(m.ID.String())
}

func decode(m queue.Mutation, v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", m.Kind, err, apperr.ErrValidation)
	}
	return nil
}
