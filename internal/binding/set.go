// internal/binding/set.go
package binding

import (
	"errors"
	"fmt"
	"sync"
)

// Flags alter how a binding propagates values.
type Flags uint8

const (
	// Bidirectional also propagates target changes back to the source.
	Bidirectional Flags = 1 << iota
)

// TransformFunc converts a value on its way across a binding. Returning false
// drops the update.
type TransformFunc func(value any) (any, bool)

// Options configure a single binding. The target is always synchronized with
// the source when the binding connects.
type Options struct {
	Flags Flags
	// To transforms source values before they reach the target.
	To TransformFunc
	// From transforms target values on their way back for Bidirectional
	// bindings.
	From TransformFunc
}

// Binding is the handle returned by Set.Bind.
type Binding struct {
	sourceProp string
	target     *Object
	targetProp string
	opts       Options
	subs       []*Subscription
}

// Set holds bindings declared against a source that can be swapped at any
// time. Bindings connect when a source is set and disconnect when it is
// replaced, unbound or released. Subscriber callbacks must not call back into
// the same Set.
type Set struct {
	mu       sync.Mutex
	source   *Object
	bindings []*Binding
	released bool
}

// NewSet creates an empty binding set with no source.
func NewSet() *Set {
	return &Set{}
}

// Source returns the current source, or nil.
func (s *Set) Source() *Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Bind declares a binding from sourceProp on the set's source to targetProp
// on target. If a source is already set the binding connects immediately.
func (s *Set) Bind(sourceProp string, target *Object, targetProp string, opts Options) (*Binding, error) {
	if sourceProp == "" || targetProp == "" {
		return nil, errors.New("binding properties cannot be empty")
	}
	if target == nil {
		return nil, errors.New("binding target cannot be nil")
	}
	if !target.Has(targetProp) {
		return nil, fmt.Errorf("target: %w %q", ErrUnknownProperty, targetProp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, errors.New("binding set released")
	}
	if s.source != nil && !s.source.Has(sourceProp) {
		return nil, fmt.Errorf("source: %w %q", ErrUnknownProperty, sourceProp)
	}

	b := &Binding{sourceProp: sourceProp, target: target, targetProp: targetProp, opts: opts}
	s.bindings = append(s.bindings, b)
	if s.source != nil {
		if err := connect(b, s.source); err != nil {
			s.bindings = s.bindings[:len(s.bindings)-1]
			return nil, err
		}
	}
	return b, nil
}

// SetSource disconnects every binding from the old source and connects it to
// src. A nil src only disconnects. A source lacking any bound property is
// rejected and the previous source stays connected.
func (s *Set) SetSource(src *Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return errors.New("binding set released")
	}
	if src == s.source {
		return nil
	}
	if src != nil {
		for _, b := range s.bindings {
			if !src.Has(b.sourceProp) {
				return fmt.Errorf("source: %w %q", ErrUnknownProperty, b.sourceProp)
			}
		}
	}

	for _, b := range s.bindings {
		disconnect(b)
	}
	s.source = src
	if src == nil {
		return nil
	}
	for _, b := range s.bindings {
		if err := connect(b, src); err != nil {
			return err
		}
	}
	return nil
}

// Unbind disconnects and forgets b. It reports whether b belonged to the set.
func (s *Set) Unbind(b *Binding) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.bindings {
		if cur == b {
			disconnect(b)
			s.bindings = append(s.bindings[:i], s.bindings[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of declared bindings.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bindings)
}

// Release disconnects everything and drops the source. The set cannot be
// used afterwards.
func (s *Set) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		disconnect(b)
	}
	s.bindings = nil
	s.source = nil
	s.released = true
}

func connect(b *Binding, src *Object) error {
	forward := func(v any) {
		if b.opts.To != nil {
			var ok bool
			if v, ok = b.opts.To(v); !ok {
				return
			}
		}
		_ = b.target.Set(b.targetProp, v)
	}

	sub, err := src.Subscribe(b.sourceProp, forward)
	if err != nil {
		return err
	}
	b.subs = append(b.subs, sub)

	if b.opts.Flags&Bidirectional != 0 {
		back, err := b.target.Subscribe(b.targetProp, func(v any) {
			if b.opts.From != nil {
				var ok bool
				if v, ok = b.opts.From(v); !ok {
					return
				}
			}
			_ = src.Set(b.sourceProp, v)
		})
		if err != nil {
			disconnect(b)
			return err
		}
		b.subs = append(b.subs, back)
	}

	if v, ok := src.Get(b.sourceProp); ok {
		forward(v)
	}
	return nil
}

func disconnect(b *Binding) {
	for _, sub := range b.subs {
		sub.Close()
	}
	b.subs = nil
}
