// internal/binding/object.go
package binding

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ErrUnknownProperty is returned for properties an Object does not declare.
var ErrUnknownProperty = errors.New("unknown property")

// Object is a set of named properties whose changes can be observed.
type Object struct {
	mu    sync.RWMutex
	props map[string]any
	subs  map[string]map[uint64]func(any)
	next  uint64
}

// NewObject declares the given properties with their initial values.
func NewObject(props map[string]any) *Object {
	o := &Object{
		props: make(map[string]any, len(props)),
		subs:  make(map[string]map[uint64]func(any)),
	}
	for k, v := range props {
		o.props[k] = v
	}
	return o
}

// Has reports whether prop is declared.
func (o *Object) Has(prop string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.props[prop]
	return ok
}

// Get returns the current value of prop.
func (o *Object) Get(prop string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.props[prop]
	return v, ok
}

// Set updates prop and notifies subscribers. Setting a value equal to the
// current one is a no-op and notifies nobody.
func (o *Object) Set(prop string, value any) error {
	o.mu.Lock()
	cur, ok := o.props[prop]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w %q", ErrUnknownProperty, prop)
	}
	if reflect.DeepEqual(cur, value) {
		o.mu.Unlock()
		return nil
	}
	o.props[prop] = value

	ids := make([]uint64, 0, len(o.subs[prop]))
	for id := range o.subs[prop] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(any), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.subs[prop][id])
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
	return nil
}

// Subscribe calls fn with the new value every time prop changes, in
// subscription order, until the returned Subscription is closed.
func (o *Object) Subscribe(prop string, fn func(value any)) (*Subscription, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.props[prop]; !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProperty, prop)
	}
	o.next++
	id := o.next
	if o.subs[prop] == nil {
		o.subs[prop] = make(map[uint64]func(any))
	}
	o.subs[prop][id] = fn

	return &Subscription{cancel: func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.subs[prop], id)
	}}, nil
}

// Subscribers returns how many subscriptions prop has.
func (o *Object) Subscribers(prop string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs[prop])
}

// Subscription is a handle on one Subscribe call.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}
