package mailbox

import (
	"slices"
	"sync"
	"sync/atomic"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
)

// Router maps topics to kinds. Lookups are lock-free; updates copy the
// table, so a lookup in progress never sees a half-built map.
type Router struct {
	mu    sync.Mutex // serializes writers
	table atomic.Pointer[map[string]Kind]
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	r := &Router{}
	empty := map[string]Kind{}
	r.table.Store(&empty)
	return r
}

// Route maps topic to kind. Routing a topic again to the same kind is a
// no-op; routing it to a different kind fails.
func (r *Router) Route(topic string, kind Kind) error {
	if topic == "" || !kind.Valid() {
		return apperrors.NewValidationError("invalid route").WithField("topic").WithValue(topic)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.table.Load()
	if existing, ok := cur[topic]; ok {
		if existing == kind {
			return nil
		}
		return apperrors.NewValidationError("topic already routed to " + existing.String()).
			WithField("topic").WithValue(topic)
	}
	next := make(map[string]Kind, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[topic] = kind
	r.table.Store(&next)
	return nil
}

// Remove drops the route for topic.
func (r *Router) Remove(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.table.Load()
	if _, ok := cur[topic]; !ok {
		return
	}
	next := make(map[string]Kind, len(cur))
	for k, v := range cur {
		if k != topic {
			next[k] = v
		}
	}
	r.table.Store(&next)
}

// Lookup returns the kind routed for topic.
func (r *Router) Lookup(topic string) (Kind, bool) {
	k, ok := (*r.table.Load())[topic]
	return k, ok
}

// Topics returns the routed topics, sorted.
func (r *Router) Topics() []string {
	cur := *r.table.Load()
	out := make([]string, 0, len(cur))
	for k := range cur {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
