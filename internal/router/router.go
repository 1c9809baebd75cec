package router

import (
	"sort"
	"sync"
)

// Handler receives messages for a topic. Handlers must not block for long;
// they typically enqueue the message for the owning worker.
type Handler func(Message)

// Router maps exact topics to handlers. Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]map[string]Handler
}

// New creates an empty Router.
func New() *Router {
	return &Router{handlers: make(map[string]map[string]Handler)}
}

// Register adds handler under owner for topic. Registering the same owner
// twice for a topic replaces the earlier handler.
func (r *Router) Register(topic, owner string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byOwner, ok := r.handlers[topic]
	if !ok {
		byOwner = make(map[string]Handler)
		r.handlers[topic] = byOwner
	}
	byOwner[owner] = h
}

// Unregister removes every handler owned by owner.
func (r *Router) Unregister(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for topic, byOwner := range r.handlers {
		delete(byOwner, owner)
		if len(byOwner) == 0 {
			delete(r.handlers, topic)
		}
	}
}

// Dispatch delivers msg to every handler registered for its topic, in
// owner order. Returns the number of handlers called.
func (r *Router) Dispatch(msg Message) int {
	r.mu.RLock()
	byOwner := r.handlers[msg.Topic]
	owners := make([]string, 0, len(byOwner))
	for o := range byOwner {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	hs := make([]Handler, 0, len(owners))
	for _, o := range owners {
		hs = append(hs, byOwner[o])
	}
	r.mu.RUnlock()

	for _, h := range hs {
		h(msg)
	}
	return len(hs)
}

// Topics returns all registered topics, sorted.
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
