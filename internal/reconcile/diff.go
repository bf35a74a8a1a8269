// Package reconcile turns successive full-collection fetches into change
// events and owns the engine's single reconciled cache.
package reconcile

import (
	"sort"

	"github.com/kiwari-pos/engine/internal/model"
)

// EventType classifies a reconciliation event.
type EventType string

const (
	Added         EventType = "order.added"
	StatusChanged EventType = "order.status_changed"
	Removed       EventType = "order.removed"
)

// Event is one difference between two snapshots.
type Event struct {
	Type    EventType         `json:"type"`
	OrderID string            `json:"order_id"`
	Order   *model.Order      `json:"order,omitempty"`
	From    model.OrderStatus `json:"from,omitempty"`
	To      model.OrderStatus `json:"to,omitempty"`
}

// Diff compares two order collections by id. Added and StatusChanged come
// first in id order, then Removed in id order. Orders present in both with
// the same status produce nothing.
func Diff(prev, next []model.Order) []Event {
	before := index(prev)
	after := index(next)

	ids := make([]string, 0, len(after))
	for id := range after {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var events []Event
	for _, id := range ids {
		o := after[id]
		old, seen := before[id]
		switch {
		case !seen:
			events = append(events, Event{Type: Added, OrderID: id, Order: &o, To: o.Status})
		case old.Status != o.Status:
			events = append(events, Event{Type: StatusChanged, OrderID: id, Order: &o, From: old.Status, To: o.Status})
		}
	}

	gone := make([]string, 0)
	for id := range before {
		if _, ok := after[id]; !ok {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	for _, id := range gone {
		events = append(events, Event{Type: Removed, OrderID: id, From: before[id].Status})
	}
	return events
}

func index(orders []model.Order) map[string]model.Order {
	m := make(map[string]model.Order, len(orders))
	for _, o := range orders {
		m[o.ID] = o
	}
	return m
}
