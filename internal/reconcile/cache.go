package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kiwari-pos/engine/internal/model"
	"github.com/kiwari-pos/engine/internal/order"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Source fetches authoritative collections. Satisfied by *backend.Client.
type Source interface {
	ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	ListTables(ctx context.Context) ([]model.Table, error)
	ListBills(ctx context.Context) ([]model.Bill, error)
}

// Snapshot is an immutable view of the last reconciled state.
type Snapshot struct {
	Orders      []model.Order                `json:"orders"`
	Tables      []model.Table                `json:"tables"`
	Bills       []model.Bill                 `json:"bills"`
	TableStatus map[string]model.TableStatus `json:"table_status"`
	FetchedAt   time.Time                    `json:"fetched_at"`
	Version     uint64                       `json:"version"`
}

// Order looks up an order by id.
func (s Snapshot) Order(id string) (model.Order, bool) {
	for _, o := range s.Orders {
		if o.ID == id {
			return o, true
		}
	}
	return model.Order{}, false
}

// Bill looks up a bill by id.
func (s Snapshot) Bill(id string) (model.Bill, bool) {
	for _, b := range s.Bills {
		if b.ID == id {
			return b, true
		}
	}
	return model.Bill{}, false
}

// Cache is the single reconciled copy of orders, tables and bills shared by
// every view. Consumers only ever receive copies.
type Cache struct {
	src   Source
	log   logrus.FieldLogger
	now   func() time.Time
	group singleflight.Group

	mu   sync.RWMutex
	snap Snapshot
}

// NewCache creates an empty cache over src.
func NewCache(src Source, log logrus.FieldLogger) *Cache {
	return &Cache{
		src:  src,
		log:  log.WithField("component", "cache"),
		now:  time.Now,
		snap: Snapshot{TableStatus: map[string]model.TableStatus{}},
	}
}

// Refresh refetches every collection. Concurrent calls share one fetch.
// On any error the previous snapshot is kept and the error returned.
func (c *Cache) Refresh(ctx context.Context) (Snapshot, error) {
	ch := c.group.DoChan("refresh", func() (any, error) {
		// Detached so one caller going away does not fail the others
		// waiting on the same fetch.
		return c.fetch(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return c.Snapshot(), res.Err
		}
		return res.Val.(Snapshot), nil
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

func (c *Cache) fetch(ctx context.Context) (Snapshot, error) {
	var (
		orders []model.Order
		tables []model.Table
		bills  []model.Bill
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		orders, err = c.src.ListOrders(gctx, "")
		if err != nil {
			return fmt.Errorf("fetch orders: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		tables, err = c.src.ListTables(gctx)
		if err != nil {
			return fmt.Errorf("fetch tables: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		bills, err = c.src.ListBills(gctx)
		if err != nil {
			return fmt.Errorf("fetch bills: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = Snapshot{
		Orders:      orders,
		Tables:      tables,
		Bills:       bills,
		TableStatus: order.ProjectTables(tables, c.snap.Orders, orders),
		FetchedAt:   c.now(),
		Version:     c.snap.Version + 1,
	}
	c.log.WithFields(logrus.Fields{
		"orders":  len(orders),
		"tables":  len(tables),
		"bills":   len(bills),
		"version": c.snap.Version,
	}).Debug("cache refreshed")
	return c.snap.clone(), nil
}

// Snapshot returns a copy of the current state.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.clone()
}

// MergeOrder applies a backend-confirmed order ahead of the next refresh.
func (c *Cache) MergeOrder(o model.Order) {
	o = cloneOrder(o)
	c.mu.Lock()
	defer c.mu.Unlock()

	orders := make([]model.Order, 0, len(c.snap.Orders)+1)
	replaced := false
	for _, cur := range c.snap.Orders {
		if cur.ID == o.ID {
			orders = append(orders, o)
			replaced = true
			continue
		}
		orders = append(orders, cur)
	}
	if !replaced {
		orders = append(orders, o)
	}
	c.snap.TableStatus = order.ProjectTables(c.snap.Tables, c.snap.Orders, orders)
	c.snap.Orders = orders
	c.snap.Version++
}

// MergeBill applies a backend-confirmed bill ahead of the next refresh.
func (c *Cache) MergeBill(b model.Bill) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bills := make([]model.Bill, 0, len(c.snap.Bills)+1)
	replaced := false
	for _, cur := range c.snap.Bills {
		if cur.ID == b.ID {
			bills = append(bills, b)
			replaced = true
			continue
		}
		bills = append(bills, cur)
	}
	if !replaced {
		bills = append(bills, b)
	}
	c.snap.Bills = bills
	c.snap.Version++
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Orders = make([]model.Order, len(s.Orders))
	for i, o := range s.Orders {
		out.Orders[i] = cloneOrder(o)
	}
	out.Tables = make([]model.Table, len(s.Tables))
	copy(out.Tables, s.Tables)
	out.Bills = make([]model.Bill, len(s.Bills))
	copy(out.Bills, s.Bills)
	out.TableStatus = make(map[string]model.TableStatus, len(s.TableStatus))
	for k, v := range s.TableStatus {
		out.TableStatus[k] = v
	}
	return out
}

// cloneOrder copies the parts of an order that share memory.
func cloneOrder(o model.Order) model.Order {
	if o.TableID != nil {
		id := *o.TableID
		o.TableID = &id
	}
	if o.Items != nil {
		items := make([]model.OrderItem, len(o.Items))
		copy(items, o.Items)
		o.Items = items
	}
	return o
}
