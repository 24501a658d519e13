// Package registry tracks live connections and the symbols each one watches.
//
// All methods are safe for concurrent use. Iteration (ForEach, Snapshot,
// SnapshotInterests) works on copies taken under the read lock, so callers may
// mutate the registry while a broadcast is walking it.
package registry

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/price-broadcast/pkg/models"
)

var (
	// ErrNotReady is returned by Conn.Send when the connection is closing or closed.
	ErrNotReady = errors.New("connection not ready")
	// ErrSlowConsumer is returned by Conn.Send when the outbound buffer is full.
	ErrSlowConsumer = errors.New("outbound buffer full")
)

// Conn is the transport handle of one client connection.
type Conn interface {
	ID() string
	// Ready reports whether Send can accept frames.
	Ready() bool
	// Send enqueues a frame without blocking.
	Send(frame []byte) error
	Close()
}

// SubscriberID identifies a registered connection.
type SubscriberID uint64

// Subscriber is a point-in-time copy of a registry entry.
type Subscriber struct {
	ID        SubscriberID
	Conn      Conn
	Interests []string
}

type entry struct {
	conn      Conn
	interests map[string]struct{}
}

type Registry struct {
	mu     sync.RWMutex
	nextID SubscriberID
	byID   map[SubscriberID]*entry
	byConn map[Conn]SubscriberID
	logger *zap.Logger
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		byID:   make(map[SubscriberID]*entry),
		byConn: make(map[Conn]SubscriberID),
		logger: logger.With(zap.String("component", "registry")),
	}
}

// Register adds conn with an empty interest set. Registering a handle that is
// already present returns its existing ID and false.
func (r *Registry) Register(conn Conn) (SubscriberID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byConn[conn]; ok {
		r.logger.Warn("Duplicate registration ignored",
			zap.String("conn_id", conn.ID()), zap.Uint64("subscriber_id", uint64(id)))
		return id, false
	}

	r.nextID++
	id := r.nextID
	r.byID[id] = &entry{conn: conn, interests: make(map[string]struct{})}
	r.byConn[conn] = id
	return id, true
}

// AddInterest normalizes symbol and adds it to the subscriber's set.
// Returns true only if the set changed.
func (r *Registry) AddInterest(id SubscriberID, symbol string) bool {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		r.logger.Debug("AddInterest on unknown subscriber", zap.Uint64("subscriber_id", uint64(id)))
		return false
	}
	if _, exists := e.interests[symbol]; exists {
		return false
	}
	e.interests[symbol] = struct{}{}
	return true
}

// RemoveInterest drops symbol from the subscriber's set.
// Returns true only if the set changed.
func (r *Registry) RemoveInterest(id SubscriberID, symbol string) bool {
	symbol = models.NormalizeSymbol(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return false
	}
	if _, exists := e.interests[symbol]; !exists {
		r.logger.Debug("RemoveInterest for symbol not watched",
			zap.Uint64("subscriber_id", uint64(id)), zap.String("symbol", symbol))
		return false
	}
	delete(e.interests, symbol)
	return true
}

// RemoveAll clears every interest of the subscriber and returns how many were removed.
func (r *Registry) RemoveAll(id SubscriberID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return 0
	}
	n := len(e.interests)
	e.interests = make(map[string]struct{})
	return n
}

// Remove deletes the subscriber. Removing an absent subscriber is a no-op.
func (r *Registry) Remove(id SubscriberID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byConn, e.conn)
	return true
}

// Lookup returns the ID registered for conn.
func (r *Registry) Lookup(conn Conn) (SubscriberID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[conn]
	return id, ok
}

// Interests returns a sorted copy of the subscriber's symbols.
func (r *Registry) Interests(id SubscriberID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	if !ok {
		return nil
	}
	return sortedKeys(e.interests)
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// SnapshotInterests returns the sorted union of all subscribers' symbols.
func (r *Registry) SnapshotInterests() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	union := make(map[string]struct{})
	for _, e := range r.byID {
		for sym := range e.interests {
			union[sym] = struct{}{}
		}
	}
	return sortedKeys(union)
}

// Snapshot returns a copy of every subscriber, ordered by ID.
func (r *Registry) Snapshot() []Subscriber {
	r.mu.RLock()
	subs := make([]Subscriber, 0, len(r.byID))
	for id, e := range r.byID {
		subs = append(subs, Subscriber{ID: id, Conn: e.conn, Interests: sortedKeys(e.interests)})
	}
	r.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs
}

// ForEach calls fn for every subscriber in a snapshot taken before the first call.
// fn may call back into the registry.
func (r *Registry) ForEach(fn func(Subscriber)) {
	for _, s := range r.Snapshot() {
		fn(s)
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
