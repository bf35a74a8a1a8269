// Package notify turns reconciliation batches into badge counters and alert
// signals and hands them to delivery sinks.
package notify

import (
	"maps"
	"sync"
	"time"

	"github.com/kiwari-pos/engine/internal/enum"
	"github.com/kiwari-pos/engine/internal/model"
	"github.com/kiwari-pos/engine/internal/poller"
	"github.com/kiwari-pos/engine/internal/reconcile"
	"github.com/sirupsen/logrus"
)

// Message types delivered to sinks.
const (
	TypeViewEvents = "view.events"
	TypeBadges     = "badges.updated"
	SignalNewOrder = "alert.new_order"
	SignalReady    = "alert.order_ready"
)

// Unassigned is the station bucket for orders with no station on the order
// or any of its items.
const Unassigned = "UNASSIGNED"

// Message is the envelope every sink receives.
type Message struct {
	Type    string    `json:"type"`
	View    string    `json:"view"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Sink delivers a message to everyone listening on room.
type Sink interface {
	Deliver(room string, msg Message) error
}

// Badges are the counters shown on navigation badges.
type Badges struct {
	Ready           int            `json:"ready"`
	ActiveByStation map[string]int `json:"active_by_station"`
	NewSinceAck     int            `json:"new_since_ack"`
	QueuePending    int            `json:"queue_pending"`
}

func (b Badges) equal(o Badges) bool {
	return b.Ready == o.Ready &&
		b.NewSinceAck == o.NewSinceAck &&
		b.QueuePending == o.QueuePending &&
		maps.Equal(b.ActiveByStation, o.ActiveByStation)
}

// Signal is an audible alert for one order.
type Signal struct {
	Type      string `json:"type"`
	OrderID   string `json:"order_id"`
	KOTNumber string `json:"kot_number,omitempty"`
}

// Emitter holds badge state and the audio opt-in. Alerts are only produced
// for batches of the alert view and only once the user has opted in; the
// first batch after a view mounts never alerts.
type Emitter struct {
	log       logrus.FieldLogger
	pending   func() int
	alertView string
	now       func() time.Time

	mu     sync.Mutex
	optIn  bool
	badges Badges
	unseen map[string]struct{}
	sinks  []Sink
}

// NewEmitter creates an emitter. pending reports the offline queue length
// and may be nil.
func NewEmitter(log logrus.FieldLogger, pending func() int, sinks ...Sink) *Emitter {
	return &Emitter{
		log:       log.WithField("component", "notify"),
		pending:   pending,
		alertView: enum.ViewKitchen,
		now:       time.Now,
		badges:    Badges{ActiveByStation: map[string]int{}},
		unseen:    make(map[string]struct{}),
		sinks:     sinks,
	}
}

// AddSink registers another delivery target.
func (e *Emitter) AddSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

func (e *Emitter) SetOptIn(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.optIn = on
}

func (e *Emitter) OptedIn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.optIn
}

// Badges returns the current counters with a live queue length.
func (e *Emitter) Badges() Badges {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.badges
	out.ActiveByStation = maps.Clone(e.badges.ActiveByStation)
	out.QueuePending = e.queueLen()
	return out
}

// Ack clears the new-orders counter.
func (e *Emitter) Ack() Badges {
	e.mu.Lock()
	clear(e.unseen)
	e.badges.NewSinceAck = 0
	e.mu.Unlock()
	return e.Badges()
}

// Handle is a poller.Handler.
func (e *Emitter) Handle(b poller.Batch) {
	e.Publish(b.View, b.Events, b.Snapshot, b.Initial)
}

// Publish updates badges from snap and fans the batch out to every sink.
// It returns the alert signals that were emitted.
func (e *Emitter) Publish(view string, events []reconcile.Event, snap reconcile.Snapshot, initial bool) []Signal {
	e.mu.Lock()

	var signals []Signal
	if view == e.alertView && !initial {
		for _, ev := range events {
			switch {
			case ev.Type == reconcile.Added:
				e.unseen[ev.OrderID] = struct{}{}
				if e.optIn {
					signals = append(signals, signal(SignalNewOrder, ev))
				}
			case ev.Type == reconcile.StatusChanged && ev.To == model.OrderReady:
				if e.optIn {
					signals = append(signals, signal(SignalReady, ev))
				}
			}
		}
	}

	badges := count(snap.Orders)
	for id := range e.unseen {
		if o, ok := snap.Order(id); !ok || o.Status.Terminal() {
			delete(e.unseen, id)
		}
	}
	badges.NewSinceAck = len(e.unseen)
	badges.QueuePending = e.queueLen()
	changed := !badges.equal(e.badges)
	e.badges = badges

	sinks := append([]Sink(nil), e.sinks...)
	e.mu.Unlock()

	at := e.now()
	if len(events) > 0 {
		e.deliver(sinks, view, Message{Type: TypeViewEvents, View: view, Payload: events, At: at})
	}
	if changed {
		e.deliver(sinks, enum.ViewBadges, Message{Type: TypeBadges, View: view, Payload: badges, At: at})
	}
	for _, s := range signals {
		e.deliver(sinks, enum.ViewBadges, Message{Type: s.Type, View: view, Payload: s, At: at})
	}
	return signals
}

func (e *Emitter) deliver(sinks []Sink, room string, msg Message) {
	for _, s := range sinks {
		if err := s.Deliver(room, msg); err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{
				"room": room,
				"type": msg.Type,
			}).Warn("notification delivery failed")
		}
	}
}

func (e *Emitter) queueLen() int {
	if e.pending == nil {
		return 0
	}
	return e.pending()
}

func signal(typ string, ev reconcile.Event) Signal {
	s := Signal{Type: typ, OrderID: ev.OrderID}
	if ev.Order != nil {
		s.KOTNumber = ev.Order.KOTNumber
	}
	return s
}

func count(orders []model.Order) Badges {
	b := Badges{ActiveByStation: map[string]int{}}
	for _, o := range orders {
		if o.Status.Terminal() {
			continue
		}
		if o.Status == model.OrderReady {
			b.Ready++
		}
		for _, st := range stations(o) {
			b.ActiveByStation[st]++
		}
	}
	return b
}

// stations lists the distinct stations an order touches.
func stations(o model.Order) []string {
	if o.Station != "" {
		return []string{o.Station}
	}
	var out []string
	seen := map[string]bool{}
	for _, it := range o.Items {
		if it.Station == "" || seen[it.Station] {
			continue
		}
		seen[it.Station] = true
		out = append(out, it.Station)
	}
	if len(out) == 0 {
		return []string{Unassigned}
	}
	return out
}
