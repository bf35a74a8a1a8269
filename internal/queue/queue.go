// Package queue is the offline mutation queue: an ordered, durable list of
// mutations the backend has not confirmed yet.
//
// Entries are replayed through the same dispatch path a live UI action
// uses. The queue never retries on its own; every Retry or RetryAll call is
// one attempt per entry.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/engine/internal/apperr"
	"github.com/kiwari-pos/engine/internal/guard"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned for an unknown mutation id.
	ErrNotFound = errors.New("queued mutation not found")
	// ErrBusy is returned by a Replayer when the target entity already has
	// a mutation in flight. The attempt is skipped and not counted.
	ErrBusy = errors.New("entity busy")
)

// Kind of a queued mutation.
type Kind string

const (
	KindCreateOrder   Kind = "CREATE_ORDER"
	KindUpdateStatus  Kind = "UPDATE_STATUS"
	KindRecordPayment Kind = "RECORD_PAYMENT"
)

// Mutation is one unconfirmed intent. Payload is opaque to the queue.
type Mutation struct {
	ID         uuid.UUID       `json:"id"`
	Kind       Kind            `json:"kind"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
}

// NewMutation builds a mutation with a fresh id and JSON payload.
func NewMutation(kind Kind, entityID string, payload any) (Mutation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Mutation{}, fmt.Errorf("encode %s payload: %v: %w", kind, err, apperr.ErrValidation)
	}
	return Mutation{
		ID:        uuid.New(),
		Kind:      kind,
		EntityID:  entityID,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Replayer re-submits a mutation through the normal entry point.
type Replayer interface {
	Replay(ctx context.Context, m Mutation) error
}

// Outcome of a single retry attempt.
type Outcome string

const (
	Succeeded Outcome = "SUCCEEDED"
	Failed    Outcome = "FAILED"
	Skipped   Outcome = "SKIPPED"
	Dropped   Outcome = "DROPPED"
)

// Result describes what a retry did to one entry.
type Result struct {
	ID      uuid.UUID `json:"id"`
	Outcome Outcome   `json:"outcome"`
	Entry   *Mutation `json:"entry,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Report summarises a RetryAll pass.
type Report struct {
	Results   []Result `json:"results"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Dropped   int      `json:"dropped"`
}

// Queue is safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	entries   []Mutation
	store     Store
	namespace string
	replayer  Replayer
	guard     *guard.Guard
	log       logrus.FieldLogger
}

// Open loads the persisted queue for namespace from store.
func Open(ctx context.Context, store Store, namespace string, g *guard.Guard, log logrus.FieldLogger) (*Queue, error) {
	q := &Queue{
		store:     store,
		namespace: namespace,
		guard:     g,
		log:       log.WithField("component", "queue"),
	}

	data, err := store.Load(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("load queue %s: %w", namespace, err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &q.entries); err != nil {
			return nil, fmt.Errorf("decode queue %s: %w", namespace, err)
		}
	}
	return q, nil
}

// SetReplayer wires the dispatch path used by Retry. It is set after
// construction because the service that replays also owns the queue.
func (q *Queue) SetReplayer(r Replayer) {
	q.mu.Lock()
	q.replayer = r
	q.mu.Unlock()
}

// Enqueue appends m and persists the queue.
func (q *Queue) Enqueue(ctx context.Context, m Mutation) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexOf(m.ID) >= 0 {
		return nil
	}
	q.entries = append(q.entries, m)
	if err := q.persist(ctx); err != nil {
		q.entries = q.entries[:len(q.entries)-1]
		return err
	}
	q.log.WithFields(logrus.Fields{"mutation_id": m.ID, "kind": m.Kind, "entity_id": m.EntityID}).Info("mutation queued")
	return nil
}

// Dequeue removes the entry with id.
func (q *Queue) Dequeue(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(ctx, id)
}

// List returns a copy of the queue in order.
func (q *Queue) List() []Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Mutation, len(q.entries))
	copy(out, q.entries)
	return out
}

// Get returns the entry with id.
func (q *Queue) Get(id uuid.UUID) (Mutation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.indexOf(id); i >= 0 {
		return q.entries[i], true
	}
	return Mutation{}, false
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Retry makes one attempt to replay the entry with id.
//
// On success the entry is removed. A retryable failure increments
// RetryCount, records LastError and keeps the entry; the error is absorbed
// and reported through Result. Validation, invalid-transition and conflict
// failures remove the entry and are returned, since resending cannot fix
// them. If the entry is already being retried the call is skipped.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID) (Result, error) {
	m, ok := q.Get(id)
	if !ok {
		return Result{ID: id}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	key := guard.Mutation(id.String())
	if !q.guard.TryAcquire(key) {
		return Result{ID: id, Outcome: Skipped}, nil
	}
	defer q.guard.Release(key)

	q.mu.Lock()
	replayer := q.replayer
	q.mu.Unlock()
	if replayer == nil {
		return Result{ID: id}, errors.New("queue has no replayer")
	}

	err := replayer.Replay(ctx, m)
	return q.settle(ctx, m, err)
}

// RetryAll makes one attempt per entry in queue order. Once an entry for an
// entity fails, later entries for the same entity are skipped for the rest
// of the pass so they cannot overtake it.
func (q *Queue) RetryAll(ctx context.Context) Report {
	var rep Report
	blocked := make(map[string]bool)

	for _, m := range q.List() {
		if ctx.Err() != nil {
			break
		}
		if m.EntityID != "" && blocked[m.EntityID] {
			rep.add(Result{ID: m.ID, Outcome: Skipped})
			continue
		}

		res, err := q.Retry(ctx, m.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil && res.Outcome == "" {
			res.Outcome = Failed
			res.Error = err.Error()
		}
		if res.Outcome == Failed && m.EntityID != "" {
			blocked[m.EntityID] = true
		}
		rep.add(res)
	}
	return rep
}

// settle applies the result of a replay to the stored entry as one
// read-modify-write step.
func (q *Queue) settle(ctx context.Context, m Mutation, replayErr error) (Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	fields := logrus.Fields{"mutation_id": m.ID, "kind": m.Kind, "entity_id": m.EntityID}
	i := q.indexOf(m.ID)

	switch {
	case replayErr == nil:
		if i >= 0 {
			if err := q.removeLocked(ctx, m.ID); err != nil {
				return Result{ID: m.ID}, err
			}
		}
		q.log.WithFields(fields).Info("queued mutation confirmed")
		return Result{ID: m.ID, Outcome: Succeeded}, nil

	case errors.Is(replayErr, ErrBusy):
		return Result{ID: m.ID, Outcome: Skipped}, nil

	case terminal(replayErr):
		if i >= 0 {
			if err := q.removeLocked(ctx, m.ID); err != nil {
				return Result{ID: m.ID}, err
			}
		}
		q.log.WithFields(fields).WithError(replayErr).Warn("queued mutation dropped")
		return Result{ID: m.ID, Outcome: Dropped, Error: replayErr.Error()}, replayErr
	}

	if i < 0 {
		// Dequeued by someone else while we were replaying.
		return Result{ID: m.ID, Outcome: Failed, Error: replayErr.Error()}, nil
	}

	prev := q.entries[i]
	q.entries[i].RetryCount++
	q.entries[i].LastError = replayErr.Error()
	if err := q.persist(ctx); err != nil {
		q.entries[i] = prev
		return Result{ID: m.ID}, err
	}

	entry := q.entries[i]
	q.log.WithFields(fields).WithField("retry_count", entry.RetryCount).WithError(replayErr).Warn("queued mutation still failing")
	return Result{ID: m.ID, Outcome: Failed, Entry: &entry, Error: replayErr.Error()}, nil
}

func (q *Queue) removeLocked(ctx context.Context, id uuid.UUID) error {
	i := q.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	prev := q.entries
	next := make([]Mutation, 0, len(q.entries)-1)
	next = append(next, q.entries[:i]...)
	next = append(next, q.entries[i+1:]...)
	q.entries = next
	if err := q.persist(ctx); err != nil {
		q.entries = prev
		return err
	}
	return nil
}

func (q *Queue) indexOf(id uuid.UUID) int {
	for i := range q.entries {
		if q.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// persist writes the whole list. Callers hold q.mu.
func (q *Queue) persist(ctx context.Context) error {
	entries := q.entries
	if entries == nil {
		entries = []Mutation{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.store.Save(ctx, q.namespace, data); err != nil {
		return fmt.Errorf("save queue %s: %w", q.namespace, err)
	}
	return nil
}

// terminal errors will not succeed on resend.
func terminal(err error) bool {
	return errors.Is(err, apperr.ErrValidation) ||
		errors.Is(err, apperr.ErrInvalidTransition) ||
		errors.Is(err, apperr.ErrConflict)
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case Succeeded:
		r.Succeeded++
	case Failed:
		r.Failed++
	case Skipped:
		r.Skipped++
	case Dropped:
		r.Dropped++
	}
}
