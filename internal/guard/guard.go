// Package guard tracks in-flight mutations per entity so a double click can
// never send two status changes for the same order at once.
//
// The guard is local to one engine instance. Races between different
// clients are settled by the backend's own transition checks.
package guard

import (
	"sort"
	"sync"
)

// Kind of entity a mutation targets.
type Kind string

const (
	KindOrder    Kind = "order"
	KindBill     Kind = "bill"
	KindMutation Kind = "mutation"
	KindCreate   Kind = "create"
)

// Key identifies one entity.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string { return string(k.Kind) + ":" + k.ID }

// Order returns the key for an order.
func Order(id string) Key { return Key{Kind: KindOrder, ID: id} }

// Bill returns the key for a bill.
func Bill(id string) Key { return Key{Kind: KindBill, ID: id} }

// Create returns the key for an order that does not exist yet, keyed by the
// id of the mutation creating it.
func Create(mutationID string) Key { return Key{Kind: KindCreate, ID: mutationID} }

// Mutation returns the key for a queued mutation.
func Mutation(id string) Key { return Key{Kind: KindMutation, ID: id} }

// Guard is a set of in-flight keys. The zero value is not usable; use New.
type Guard struct {
	mu       sync.Mutex
	inFlight map[Key]struct{}
}

// New creates an empty Guard.
func New() *Guard {
	return &Guard{inFlight: make(map[Key]struct{})}
}

// TryAcquire marks k as in flight. It returns false if k already was.
func (g *Guard) TryAcquire(k Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[k]; busy {
		return false
	}
	g.inFlight[k] = struct{}{}
	return true
}

// Release clears k. Releasing a key that is not held is a no-op.
func (g *Guard) Release(k Key) {
	g.mu.Lock()
	delete(g.inFlight, k)
	g.mu.Unlock()
}

// Do runs fn while holding k. If k is already held, fn is not run and
// Do returns (false, nil). The key is released however fn returns,
// including by panic.
func (g *Guard) Do(k Key, fn func() error) (ran bool, err error) {
	if !g.TryAcquire(k) {
		return false, nil
	}
	defer g.Release(k)
	return true, fn()
}

// InFlight reports whether k is currently held.
func (g *Guard) InFlight(k Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inFlight[k]
	return busy
}

// Keys returns the held keys in a stable order.
func (g *Guard) Keys() []Key {
	g.mu.Lock()
	keys := make([]Key, 0, len(g.inFlight))
	for k := range g.inFlight {
		keys = append(keys, k)
	}
	g.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
