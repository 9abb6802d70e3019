// Package trigger implements the per-collection write-notification fan-out
// of spec §4.F's SetTrigger/UnsetTrigger/NotifyTrigger operations. It is
// grounded on the teacher's pkg/events.Broker: the same
// subscribe/unsubscribe/buffered-channel broadcast shape, generalized from
// a single global event stream keyed by EventType to one subscription per
// connection that can narrow its interest to specific collections.
package trigger

import "sync"

// subscriberBuffer is the number of pending notifications a slow
// subscriber can fall behind by before further notifications for it are
// dropped, mirroring the teacher's per-subscriber channel buffer.
const subscriberBuffer = 50

// Subscription is one connection's trigger feed. Notify sends a
// collection name on Events; a full buffer drops the notification rather
// than blocking the committing transaction.
type Subscription struct {
	Events chan string

	mu        sync.Mutex
	all       bool
	interests map[string]bool
}

// Registry tracks every live subscription and which collections each one
// watches.
type Registry struct {
	mu   sync.RWMutex
	subs map[*Subscription]bool
}

// NewRegistry creates an empty trigger registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[*Subscription]bool)}
}

// Subscribe creates a new, initially uninterested subscription.
func (r *Registry) Subscribe() *Subscription {
	sub := &Subscription{Events: make(chan string, subscriberBuffer), interests: make(map[string]bool)}
	r.mu.Lock()
	r.subs[sub] = true
	r.mu.Unlock()
	return sub
}

// Unsubscribe removes sub from the registry and closes its channel.
func (r *Registry) Unsubscribe(sub *Subscription) {
	r.mu.Lock()
	delete(r.subs, sub)
	r.mu.Unlock()
	close(sub.Events)
}

// Set registers sub's interest in collection. An empty collection name
// means every collection (a wildcard trigger).
func (r *Registry) Set(sub *Subscription, collection string) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if collection == "" {
		sub.all = true
		return
	}
	sub.interests[collection] = true
}

// Unset removes sub's interest in collection.
func (r *Registry) Unset(sub *Subscription, collection string) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if collection == "" {
		sub.all = false
		return
	}
	delete(sub.interests, collection)
}

// Notify broadcasts a write to collection to every interested
// subscription, non-blocking: a subscriber whose buffer is full misses
// this notification rather than stalling the caller (spec §4.F names no
// delivery guarantee for trigger notifications).
func (r *Registry) Notify(collection string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for sub := range r.subs {
		sub.mu.Lock()
		interested := sub.all || sub.interests[collection]
		sub.mu.Unlock()
		if !interested {
			continue
		}
		select {
		case sub.Events <- collection:
		default:
		}
	}
}
