// Package poller keeps each UI view's copy of the reconciled state fresh by
// refreshing the shared cache on a per-view interval and diffing the result
// against what the view last saw.
package poller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kiwari-pos/engine/internal/enum"
	"github.com/kiwari-pos/engine/internal/model"
	"github.com/kiwari-pos/engine/internal/reconcile"
	"github.com/sirupsen/logrus"
)

var (
	ErrStopped        = errors.New("poller stopped")
	ErrAlreadyMounted = errors.New("view already mounted")
	ErrNotMounted     = errors.New("view not mounted")
)

// View is a screen that wants periodic updates. A nil Filter keeps every
// order.
type View struct {
	Name     string
	Interval time.Duration
	Filter   func(model.Order) bool
}

// Refresher is satisfied by *reconcile.Cache.
type Refresher interface {
	Refresh(ctx context.Context) (reconcile.Snapshot, error)
}

// Batch is the outcome of one successful poll of a view. Initial is set on
// the first poll after mount, when every order shows up as Added.
type Batch struct {
	View     string
	Events   []reconcile.Event
	Snapshot reconcile.Snapshot
	Initial  bool
}

type Handler func(Batch)

type Poller struct {
	src    Refresher
	handle Handler
	log    logrus.FieldLogger

	mu      sync.Mutex
	views   map[string]*viewLoop
	stopped bool
	wg      sync.WaitGroup
}

type viewLoop struct {
	view    View
	cancel  context.CancelFunc
	trigger chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	orders  []model.Order
	snap    reconcile.Snapshot
	polled  bool
	stopped bool
}

func New(src Refresher, handle Handler, log logrus.FieldLogger) *Poller {
	return &Poller{
		src:    src,
		handle: handle,
		log:    log.WithField("component", "poller"),
		views:  make(map[string]*viewLoop),
	}
}

// Mount starts polling v. The first poll runs immediately.
func (p *Poller) Mount(v View) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if _, ok := p.views[v.Name]; ok {
		return ErrAlreadyMounted
	}
	if v.Interval <= 0 {
		v.Interval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := &viewLoop{
		view:    v,
		cancel:  cancel,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	p.views[v.Name] = loop

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(loop.done)
		p.run(ctx, loop)
	}()
	return nil
}

// Unmount stops polling the named view and waits for its loop to exit.
func (p *Poller) Unmount(name string) error {
	p.mu.Lock()
	loop, ok := p.views[name]
	if ok {
		delete(p.views, name)
	}
	p.mu.Unlock()

	if !ok {
		return ErrNotMounted
	}
	loop.halt()
	<-loop.done
	return nil
}

// Trigger asks every mounted view for an immediate poll. Requests made while
// one is already pending collapse into it.
func (p *Poller) Trigger() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, loop := range p.views {
		loop.poke()
	}
}

// TriggerView asks one view for an immediate poll.
func (p *Poller) TriggerView(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	loop, ok := p.views[name]
	if !ok {
		return ErrNotMounted
	}
	loop.poke()
	return nil
}

// Stop cancels every view and waits for the loops to exit. Results of fetches
// still in flight are discarded.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	loops := make([]*viewLoop, 0, len(p.views))
	for _, loop := range p.views {
		loops = append(loops, loop)
	}
	p.views = make(map[string]*viewLoop)
	p.mu.Unlock()

	for _, loop := range loops {
		loop.halt()
	}
	p.wg.Wait()
}

// Last returns the snapshot the named view last polled successfully.
func (p *Poller) Last(name string) (reconcile.Snapshot, bool) {
	p.mu.Lock()
	loop, ok := p.views[name]
	p.mu.Unlock()
	if !ok {
		return reconcile.Snapshot{}, false
	}

	loop.mu.Lock()
	defer loop.mu.Unlock()
	return loop.snap, loop.polled
}

// Views lists the mounted view names.
func (p *Poller) Views() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.views))
	for name := range p.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// run polls once on entry and then on every tick or trigger. Polls are
// sequential per view, so ticks that fire while one is in flight are dropped
// by the ticker and at most one trigger waits behind it.
func (p *Poller) run(ctx context.Context, loop *viewLoop) {
	ticker := time.NewTicker(loop.view.Interval)
	defer ticker.Stop()

	p.poll(ctx, loop)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-loop.trigger:
		}
		p.poll(ctx, loop)
	}
}

func (p *Poller) poll(ctx context.Context, loop *viewLoop) {
	log := p.log.WithField("view", loop.view.Name)

	snap, err := p.src.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Warn("poll failed, keeping last snapshot")
		}
		return
	}
	orders := filter(snap.Orders, loop.view.Filter)

	loop.mu.Lock()
	if loop.stopped || ctx.Err() != nil {
		loop.mu.Unlock()
		return
	}

	batch := Batch{
		View:     loop.view.Name,
		Events:   reconcile.Diff(loop.orders, orders),
		Snapshot: snap,
		Initial:  !loop.polled,
	}
	loop.orders = orders
	loop.snap = snap
	loop.polled = true
	loop.mu.Unlock()

	// handle runs without loop.mu. Polls of one view never overlap, so its
	// batches still arrive in order.
	if len(batch.Events) > 0 {
		log.WithField("events", len(batch.Events)).Debug("view changed")
	}
	if p.handle != nil {
		p.handle(batch)
	}
}

func (l *viewLoop) poke() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

func (l *viewLoop) halt() {
	l.cancel()
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
}

func filter(orders []model.Order, keep func(model.Order) bool) []model.Order {
	if keep == nil {
		return orders
	}
	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// DefaultViews returns the standard screens: badges and kitchen watch active
// orders, tables and dashboard watch everything.
func DefaultViews(badges, kitchen, tables, dashboard time.Duration) []View {
	return []View{
		{Name: enum.ViewBadges, Interval: badges, Filter: Active},
		{Name: enum.ViewKitchen, Interval: kitchen, Filter: Active},
		{Name: enum.ViewTables, Interval: tables},
		{Name: enum.ViewDashboard, Interval: dashboard},
	}
}

// Active keeps orders that are not Completed or Voided.
func Active(o model.Order) bool {
	return !o.Status.Terminal()
}
