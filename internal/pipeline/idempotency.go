package pipeline

import (
	"container/heap"
	"sync"
	"time"

	"amarktai_core/internal/domain"
	"amarktai_core/pkg/quant"
)

// pendingTTL bounds how long an idempotency key is remembered. Clients
// retrying the same logical order do so within seconds; 24 hours is
// generous and keeps the arena from growing without bound.
const pendingTTL = 24 * time.Hour

// idemArena is the in-memory idempotency store. Register-if-absent is a
// single operation under one lock so two concurrent submissions with the
// same key cannot both pass the gate.
type idemArena struct {
	mu      sync.Mutex
	orders  map[string]*domain.PendingOrder
	expiry  expiryHeap
	ttl     time.Duration
	clock   func() time.Time
}

func newIdemArena(ttl time.Duration) *idemArena {
	if ttl <= 0 {
		ttl = pendingTTL
	}
	return &idemArena{
		orders: make(map[string]*domain.PendingOrder),
		ttl:    ttl,
		clock:  time.Now,
	}
}

// register records a new pending order for the key. If the key is already
// known and unexpired it returns the existing record and false.
func (a *idemArena) register(intent *domain.OrderIntent) (*domain.PendingOrder, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock()
	a.expire(now)

	if existing, ok := a.orders[intent.IdempotencyKey]; ok {
		return existing, false
	}

	p := &domain.PendingOrder{
		IdempotencyKey: intent.IdempotencyKey,
		BotID:          intent.BotID,
		IntentHash:     intent.Hash(),
		Status:         domain.PendingOpen,
		CreatedAt:      quant.FromTime(now),
	}
	a.orders[p.IdempotencyKey] = p
	heap.Push(&a.expiry, expiryEntry{key: p.IdempotencyKey, at: now.Add(a.ttl)})
	return p, true
}

// resolve moves a pending order to a terminal status. A fatal submission
// leaves the record pending so the retry path stays blocked until an
// operator reconciles against the venue.
func (a *idemArena) resolve(key string, status domain.PendingStatus, fillID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.orders[key]
	if !ok {
		return
	}
	p.Status = status
	p.FillID = fillID
}

// lookup returns the pending record for a key, if still remembered.
func (a *idemArena) lookup(key string) (*domain.PendingOrder, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expire(a.clock())
	p, ok := a.orders[key]
	return p, ok
}

// expire drops records past their TTL. Called under a.mu.
func (a *idemArena) expire(now time.Time) {
	for a.expiry.Len() > 0 && !a.expiry[0].at.After(now) {
		e := heap.Pop(&a.expiry).(expiryEntry)
		delete(a.orders, e.key)
	}
}

type expiryEntry struct {
	key string
	at  time.Time
}

type expiryHeap []expiryEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)         { *h = append(*h, x.(expiryEntry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
