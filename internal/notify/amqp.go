package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Exchange is the fanout exchange notifications are mirrored to.
const Exchange = "kiwari.notifications"

// ErrSinkBacklog is returned by Deliver when the publish buffer is full.
var ErrSinkBacklog = errors.New("amqp sink backlog full")

// Publisher is the subset of *amqp.Channel the sink needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type outbound struct {
	room string
	msg  amqp.Publishing
}

type unconfirmed struct {
	typ  string
	sent time.Time
}

// AMQPSink mirrors notifications to a RabbitMQ fanout exchange so other
// terminals and services can follow along. The room is used as routing key.
//
// Deliver only queues the message. Run publishes in the background and
// settles broker confirms by delivery tag, so a slow broker never holds up
// reconciliation.
type AMQPSink struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	pub     Publisher
	acks    <-chan amqp.Confirmation
	timeout time.Duration
	log     logrus.FieldLogger
	out     chan outbound

	mu      sync.Mutex
	nextTag uint64
	pending map[uint64]unconfirmed
}

// DialAMQP connects, declares the exchange and enables publisher confirms.
func DialAMQP(url string, log logrus.FieldLogger) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "fanout", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 64))

	s := NewAMQPSink(ch, acks, log)
	s.conn = conn
	s.ch = ch
	return s, nil
}

// NewAMQPSink wraps an existing publisher. acks may be nil when the channel
// is not in confirm mode.
func NewAMQPSink(pub Publisher, acks <-chan amqp.Confirmation, log logrus.FieldLogger) *AMQPSink {
	return &AMQPSink{
		pub:     pub,
		acks:    acks,
		timeout: 5 * time.Second,
		log:     log.WithField("component", "amqp"),
		out:     make(chan outbound, 256),
		pending: make(map[uint64]unconfirmed),
	}
}

// Deliver queues msg for publishing and returns at once.
func (s *AMQPSink) Deliver(room string, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	select {
	case s.out <- outbound{room: room, msg: amqp.Publishing{
		DeliveryMode: amqp.Transient,
		ContentType:  "application/json",
		Type:         msg.Type,
		Timestamp:    msg.At.UTC(),
		Body:         body,
	}}:
		return nil
	default:
		return ErrSinkBacklog
	}
}

// Run publishes queued messages until ctx is done.
func (s *AMQPSink) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if s.acks != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.confirmLoop(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case o := <-s.out:
			s.publish(ctx, o)
		}
	}
}

func (s *AMQPSink) publish(ctx context.Context, o outbound) {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// The broker numbers confirms from 1 in publish order on this channel.
	// The tag is reserved before publishing so a fast confirm finds it.
	var tag uint64
	if s.acks != nil {
		s.mu.Lock()
		tag = s.nextTag + 1
		s.pending[tag] = unconfirmed{typ: o.msg.Type, sent: time.Now()}
		s.mu.Unlock()
	}

	err := s.pub.PublishWithContext(pctx, Exchange, o.room, false, false, o.msg)
	if s.acks != nil {
		s.mu.Lock()
		if err != nil {
			delete(s.pending, tag)
		} else {
			s.nextTag = tag
		}
		s.mu.Unlock()
	}
	if err != nil {
		s.log.WithError(err).WithField("type", o.msg.Type).Warn("publish failed")
	}
}

func (s *AMQPSink) confirmLoop(ctx context.Context) {
	ticker := time.NewTicker(s.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case conf, ok := <-s.acks:
			if !ok {
				s.log.Warn("confirm channel closed")
				return
			}
			s.settle(conf)
		case now := <-ticker.C:
			s.expire(now)
		}
	}
}

// settle resolves the publish a confirm belongs to. Confirms for tags that
// already expired are ignored.
func (s *AMQPSink) settle(conf amqp.Confirmation) {
	s.mu.Lock()
	p, ok := s.pending[conf.DeliveryTag]
	delete(s.pending, conf.DeliveryTag)
	s.mu.Unlock()

	if !ok {
		s.log.WithField("tag", conf.DeliveryTag).Debug("late confirm ignored")
		return
	}
	if !conf.Ack {
		s.log.WithFields(logrus.Fields{"tag": conf.DeliveryTag, "type": p.typ}).Warn("publish nacked by broker")
	}
}

func (s *AMQPSink) expire(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tag, p := range s.pending {
		if now.Sub(p.sent) >= s.timeout {
			delete(s.pending, tag)
			s.log.WithFields(logrus.Fields{"tag": tag, "type": p.typ}).Warn("publish not confirmed in time")
		}
	}
}

// Unconfirmed reports how many publishes still wait for a confirm.
func (s *AMQPSink) Unconfirmed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *AMQPSink) Close() error {
	var errs []error
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	return errors.Join(errs...)
}
