package rabbitmq

import (
	"reflect"
	"sort"
	"sync"
)

// Binding records a bind that the server acknowledged. It is re-issued when
// its owner's channel reopens after a reconnect.
type Binding struct {
	Source      string
	Destination string
	RoutingKey  string
	Arguments   Table
}

func (b Binding) matches(o Binding) bool {
	if b.Source != o.Source || b.RoutingKey != o.RoutingKey {
		return false
	}
	if len(b.Arguments) == 0 && len(o.Arguments) == 0 {
		return true
	}
	return reflect.DeepEqual(b.Arguments, o.Arguments)
}

// Registry is the connection's view of declared queues and exchanges and of
// the bindings made through them. Reads are safe from any goroutine; writes
// happen on the event loop.
type Registry struct {
	mu        sync.RWMutex
	queues    map[string]*Queue
	exchanges map[string]*Exchange
	bindings  map[*channel][]Binding
	binds     map[string]int
}

func newRegistry() *Registry {
	return &Registry{
		queues:    make(map[string]*Queue),
		exchanges: make(map[string]*Exchange),
		bindings:  make(map[*channel][]Binding),
		binds:     make(map[string]int),
	}
}

// Queue returns the queue registered under name.
func (r *Registry) Queue(name string) (*Queue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[name]
	return q, ok
}

// Exchange returns the exchange registered under name.
func (r *Registry) Exchange(name string) (*Exchange, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.exchanges[name]
	return ex, ok
}

// Queues returns the registered queue names in sorted order.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.queues)
}

// Exchanges returns the registered exchange names in sorted order.
func (r *Registry) Exchanges() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.exchanges)
}

// BindCount reports how many live bindings use exchange as their source.
func (r *Registry) BindCount(exchange string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.binds[exchange]
}

// Bindings returns every recorded binding.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Binding
	for _, bs := range r.bindings {
		out = append(out, bs...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Destination != out[j].Destination {
			return out[i].Destination < out[j].Destination
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].RoutingKey < out[j].RoutingKey
	})
	return out
}

func (r *Registry) addQueue(name string, q *Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[name] = q
}

// renameQueue moves q to the name the server assigned it.
func (r *Registry) renameQueue(q *Queue, from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queues[from] == q {
		delete(r.queues, from)
	}
	r.queues[to] = q
	for i := range r.bindings[q.ch] {
		r.bindings[q.ch][i].Destination = to
	}
}

func (r *Registry) removeQueue(name string, q *Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queues[name] == q {
		delete(r.queues, name)
	}
}

func (r *Registry) addExchange(name string, ex *Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges[name] = ex
}

func (r *Registry) removeExchange(name string, ex *Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exchanges[name] == ex {
		delete(r.exchanges, name)
	}
}

// recordBinding remembers b for owner once the server confirmed it.
func (r *Registry) recordBinding(owner *channel, b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.bindings[owner] {
		if existing.matches(b) {
			return
		}
	}
	r.bindings[owner] = append(r.bindings[owner], b)
	r.binds[b.Source]++
}

// forgetBinding drops b after a successful unbind.
func (r *Registry) forgetBinding(owner *channel, b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bs := r.bindings[owner]
	for i, existing := range bs {
		if !existing.matches(b) {
			continue
		}
		r.bindings[owner] = append(bs[:i:i], bs[i+1:]...)
		r.release(existing.Source)
		return
	}
}

// bindingsOf returns a copy of owner's recorded bindings.
func (r *Registry) bindingsOf(owner *channel) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Binding(nil), r.bindings[owner]...)
}

// dropOwner forgets every binding made through owner.
func (r *Registry) dropOwner(owner *channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bindings[owner] {
		r.release(b.Source)
	}
	delete(r.bindings, owner)
}

func (r *Registry) release(source string) {
	if r.binds[source] <= 1 {
		delete(r.binds, source)
		return
	}
	r.binds[source]--
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
