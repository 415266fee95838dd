package fixture

import (
	"context"
	"fmt"
	"sync"
)

// Context is the append-only mapping from fixture name to resolved value that
// is threaded through providers, the test body and the after-all hooks.
//
// Providers receive a snapshot holding exactly the fixtures registered before
// them, so a provider that keeps running past its timeout can never observe
// values resolved afterwards.
type Context struct {
	mu     sync.RWMutex
	names  []string
	values map[string]any
}

func newContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Value returns the value bound to name.
func (c *Context) Value(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	return v, ok
}

func (c *Context) Has(name string) bool {
	_, ok := c.Value(name)
	return ok
}

// Names returns the bound names in resolution order.
func (c *Context) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.names...)
}

func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// AsMap returns a copy of the context suitable for templating.
func (c *Context) AsMap() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := make(map[string]any, len(c.values))
	for k, v := range c.values {
		m[k] = v
	}
	return m
}

func (c *Context) bind(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.values[name]; exists {
		panic(fmt.Sprintf("fixture %q bound twice", name))
	}
	c.names = append(c.names, name)
	c.values[name] = value
}

func (c *Context) snapshot() *Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := &Context{
		names:  append([]string(nil), c.names...),
		values: make(map[string]any, len(c.values)),
	}
	for k, v := range c.values {
		s.values[k] = v
	}
	return s
}

// Get returns the value bound to name as a T.
func Get[T any](c *Context, name string) (T, bool) {
	var zero T
	v, ok := c.Value(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// MustGet is Get that panics when name is missing or has another type.
func MustGet[T any](c *Context, name string) T {
	v, ok := c.Value(name)
	if !ok {
		panic(fmt.Sprintf("fixture %q is not available", name))
	}
	t, ok := v.(T)
	if !ok {
		panic(fmt.Sprintf("fixture %q is %T, not %T", name, v, t))
	}
	return t
}

// Key is a typed handle to a fixture registered with Define.
type Key[T any] struct {
	name string
}

// Define registers a typed provider on r and returns a handle that reads the
// value back with its static type:
//
//	a := fixture.Define(reg, "a", func(context.Context, *fixture.Context) (int, error) { return 1, nil })
//	b := fixture.Define(reg, "b", func(_ context.Context, c *fixture.Context) (int, error) {
//		return a.Get(c) + 1, nil
//	})
func Define[T any](r *Registry, name string, provider func(ctx context.Context, c *Context) (T, error), opts ...Option) Key[T] {
	r.Fixture(name, func(ctx context.Context, c *Context) (any, error) {
		return provider(ctx, c)
	}, opts...)
	return Key[T]{name: name}
}

// KeyOf returns a typed handle for a fixture registered without Define.
func KeyOf[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) Name() string { return k.name }

// Get returns the value, or the zero T when the fixture is not in c.
func (k Key[T]) Get(c *Context) T {
	v, _ := Get[T](c, k.name)
	return v
}

func (k Key[T]) Lookup(c *Context) (T, bool) {
	return Get[T](c, k.name)
}

func (k Key[T]) Must(c *Context) T {
	return MustGet[T](c, k.name)
}
