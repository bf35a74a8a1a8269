package order

import "github.com/kiwari-pos/engine/internal/model"

// tableStatusByOrder maps the driving order's status onto its table.
var tableStatusByOrder = map[model.OrderStatus]model.TableStatus{
	model.OrderPending:   model.TableOccupied,
	model.OrderPreparing: model.TableOccupied,
	model.OrderReady:     model.TableReady,
	model.OrderCompleted: model.TableServed,
}

// ProjectTables derives every table's status from the order set orders,
// given prev, the order set the previous projection was made from.
//
// Voided orders never touch a table. A table with any non-completed order is
// driven by the most recent such order. Otherwise the table is Served only
// when its most recent order was still active in prev and is Completed now;
// on the following pass the same order leaves the table Available.
func ProjectTables(tables []model.Table, prev, orders []model.Order) map[string]model.TableStatus {
	wasActive := make(map[string]bool)
	for _, o := range prev {
		if !o.Status.Terminal() {
			wasActive[o.ID] = true
		}
	}

	active := make(map[string]model.Order)
	latest := make(map[string]model.Order)

	for _, o := range orders {
		if o.TableID == nil || o.Status == model.OrderVoided {
			continue
		}
		tid := *o.TableID
		if cur, ok := latest[tid]; !ok || newer(o, cur) {
			latest[tid] = o
		}
		if o.Status.Terminal() {
			continue
		}
		if cur, ok := active[tid]; !ok || newer(o, cur) {
			active[tid] = o
		}
	}

	out := make(map[string]model.TableStatus, len(tables))
	for _, t := range tables {
		out[t.ID] = model.TableAvailable
		if o, ok := active[t.ID]; ok {
			out[t.ID] = tableStatusByOrder[o.Status]
			continue
		}
		if o, ok := latest[t.ID]; ok && o.Status == model.OrderCompleted && wasActive[o.ID] {
			out[t.ID] = model.TableServed
		}
	}
	return out
}

// newer orders by created_at, falling back to id so the result does not
// depend on the order the backend listed them in.
func newer(a, b model.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
