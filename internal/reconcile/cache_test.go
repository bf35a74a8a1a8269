package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiwari-pos/engine/internal/apperr"
	"github.com/kiwari-pos/engine/internal/logger"
	"github.com/kiwari-pos/engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	mu        sync.Mutex
	orders    []model.Order
	tables    []model.Table
	bills     []model.Bill
	ordersErr error
	calls     atomic.Int32
	block     chan struct{}
}

func (m *mockSource) ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	m.calls.Add(1)
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders, m.ordersErr
}

func (m *mockSource) ListTables(ctx context.Context) ([]model.Table, error) {
	return m.tables, nil
}

func (m *mockSource) ListBills(ctx context.Context) ([]model.Bill, error) {
	return m.bills, nil
}

func (m *mockSource) set(orders []model.Order, err error) {
	m.mu.Lock()
	m.orders, m.ordersErr = orders, err
	m.mu.Unlock()
}

func tableOrder(id, table string, s model.OrderStatus) model.Order {
	return model.Order{ID: id, TableID: &table, Status: s, CreatedAt: time.Now()}
}

func TestCache_RefreshProjectsTables(t *testing.T) {
	src := &mockSource{
		orders: []model.Order{tableOrder("a", "t1", model.OrderReady)},
		tables: []model.Table{{ID: "t1"}, {ID: "t2"}},
		bills:  []model.Bill{{ID: "b1", OrderID: "a"}},
	}
	c := NewCache(src, logger.Discard())

	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, model.TableReady, snap.TableStatus["t1"])
	assert.Equal(t, model.TableAvailable, snap.TableStatus["t2"])
	_, ok := snap.Bill("b1")
	assert.True(t, ok)
}

func TestCache_ServedClearsOnNextRefresh(t *testing.T) {
	src := &mockSource{orders: []model.Order{tableOrder("a", "t1", model.OrderReady)}, tables: []model.Table{{ID: "t1"}}}
	c := NewCache(src, logger.Discard())
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	src.set([]model.Order{tableOrder("a", "t1", model.OrderCompleted)}, nil)
	snap, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.TableServed, snap.TableStatus["t1"])

	snap, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.TableAvailable, snap.TableStatus["t1"])
}

func TestCache_FailedRefreshKeepsSnapshot(t *testing.T) {
	src := &mockSource{orders: []model.Order{tableOrder("a", "t1", model.OrderPending)}, tables: []model.Table{{ID: "t1"}}}
	c := NewCache(src, logger.Discard())
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	src.set(nil, apperr.ErrNetwork)
	snap, err := c.Refresh(context.Background())

	require.ErrorIs(t, err, apperr.ErrNetwork)
	require.Len(t, snap.Orders, 1)
	assert.Equal(t, uint64(1), c.Snapshot().Version)
	assert.Equal(t, model.TableOccupied, c.Snapshot().TableStatus["t1"])
}

func TestCache_ConcurrentRefreshesShareOneFetch(t *testing.T) {
	src := &mockSource{block: make(chan struct{})}
	c := NewCache(src, logger.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Refresh(context.Background())
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(src.block)
	wg.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
}

func TestCache_CallerCancelDoesNotAffectSnapshot(t *testing.T) {
	src := &mockSource{block: make(chan struct{}), orders: []model.Order{{ID: "a", Status: model.OrderPending}}}
	c := NewCache(src, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	require.True(t, errors.Is(<-done, context.Canceled))

	close(src.block)
	require.Eventually(t, func() bool { return c.Snapshot().Version == 1 }, time.Second, 5*time.Millisecond)
}

func TestCache_MergeOrder(t *testing.T) {
	src := &mockSource{
		orders: []model.Order{tableOrder("a", "t1", model.OrderPreparing)},
		tables: []model.Table{{ID: "t1"}},
	}
	c := NewCache(src, logger.Discard())
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	c.MergeOrder(tableOrder("a", "t1", model.OrderReady))
	c.MergeOrder(model.Order{ID: "z", Status: model.OrderPending})

	snap := c.Snapshot()
	require.Len(t, snap.Orders, 2)
	got, _ := snap.Order("a")
	assert.Equal(t, model.OrderReady, got.Status)
	assert.Equal(t, model.TableReady, snap.TableStatus["t1"])
}

func TestCache_MergeBill(t *testing.T) {
	c := NewCache(&mockSource{}, logger.Discard())

	c.MergeBill(model.Bill{ID: "b1", PaymentStatus: model.PaymentDraft})
	c.MergeBill(model.Bill{ID: "b1", PaymentStatus: model.PaymentPaid})

	snap := c.Snapshot()
	require.Len(t, snap.Bills, 1)
	assert.Equal(t, model.PaymentPaid, snap.Bills[0].PaymentStatus)
}

func TestCache_SnapshotIsACopy(t *testing.T) {
	src := &mockSource{orders: []model.Order{{ID: "a", Status: model.OrderPending}}, tables: []model.Table{{ID: "t1"}}}
	c := NewCache(src, logger.Discard())
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	snap := c.Snapshot()
	snap.Orders[0].Status = model.OrderVoided
	snap.TableStatus["t1"] = model.TableServed

	fresh := c.Snapshot()
	assert.Equal(t, model.OrderPending, fresh.Orders[0].Status)
	assert.Equal(t, model.TableAvailable, fresh.TableStatus["t1"])
}

func TestCache_SnapshotOrdersDoNotShareItems(t *testing.T) {
	o := tableOrder("a", "t1", model.OrderPending)
	o.Items = []model.OrderItem{{ID: "i1", Name: "Nasi Bakar", Quantity: 1}}
	src := &mockSource{orders: []model.Order{o}, tables: []model.Table{{ID: "t1"}}}
	c := NewCache(src, logger.Discard())
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	snap := c.Snapshot()
	snap.Orders[0].Items[0].Quantity = 9
	*snap.Orders[0].TableID = "t9"

	fresh := c.Snapshot()
	assert.Equal(t, int32(1), fresh.Orders[0].Items[0].Quantity)
	assert.Equal(t, "t1", *fresh.Orders[0].TableID)
	assert.Equal(t, model.TableOccupied, fresh.TableStatus["t1"])
}

func TestCache_MergeOrderCopiesInput(t *testing.T) {
	c := NewCache(&mockSource{}, logger.Discard())
	o := tableOrder("a", "t1", model.OrderPending)
	o.Items = []model.OrderItem{{ID: "i1", Quantity: 2}}

	c.MergeOrder(o)
	o.Items[0].Quantity = 5

	got, ok := c.Snapshot().Order("a")
	require.True(t, ok)
	assert.Equal(t, int32(2), got.Items[0].Quantity)
}
