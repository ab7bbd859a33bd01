package naming

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrEmptyName = errors.New("naming: empty name")
	ErrNameBound = errors.New("naming: name already bound")
	ErrNotFound  = errors.New("naming: name not bound")
)

// Context is the directory the registry publishes references into.
type Context interface {
	Bind(name string, obj interface{}) error
	// Unbind removes name; unbinding an unbound name succeeds.
	Unbind(name string) error
	Lookup(ctx context.Context, name string) (interface{}, error)
}

type Option func(c *MemoryContext)

func WithLogger(logger *zap.Logger) Option {
	return func(c *MemoryContext) {
		c.logger = logger
	}
}

func WithFactory(kind Kind, f ObjectFactory) Option {
	return func(c *MemoryContext) {
		c.factories[kind] = f
	}
}

// MemoryContext is a flat, in-process Context.
// References are resolved on Lookup through the factory registered for their Kind.
type MemoryContext struct {
	bindings  map[string]interface{}
	factories map[Kind]ObjectFactory
	rwM       sync.RWMutex
	logger    *zap.Logger
}

func NewMemoryContext(options ...Option) *MemoryContext {
	c := MemoryContext{
		bindings:  make(map[string]interface{}),
		factories: make(map[Kind]ObjectFactory),
		logger:    zap.NewNop(),
	}

	for _, op := range options {
		op(&c)
	}

	return &c
}

func (c *MemoryContext) RegisterFactory(kind Kind, f ObjectFactory) {
	c.rwM.Lock()
	defer c.rwM.Unlock()
	c.factories[kind] = f
}

func (c *MemoryContext) Bind(name string, obj interface{}) error {
	if name == "" {
		return ErrEmptyName
	}

	c.rwM.Lock()
	defer c.rwM.Unlock()

	if _, ok := c.bindings[name]; ok {
		return fmt.Errorf("%w: %s", ErrNameBound, name)
	}
	c.bindings[name] = obj
	c.logger.Debug("naming :: bind", zap.String("name", name))
	return nil
}

func (c *MemoryContext) Unbind(name string) error {
	if name == "" {
		return ErrEmptyName
	}

	c.rwM.Lock()
	defer c.rwM.Unlock()

	if _, ok := c.bindings[name]; ok {
		delete(c.bindings, name)
		c.logger.Debug("naming :: unbind", zap.String("name", name))
	}
	return nil
}

func (c *MemoryContext) Lookup(ctx context.Context, name string) (interface{}, error) {
	if name == "" {
		return nil, ErrEmptyName
	}

	c.rwM.RLock()
	obj, ok := c.bindings[name]
	var f ObjectFactory
	ref, isRef := obj.(*Reference)
	if isRef {
		f = c.factories[ref.Kind]
	}
	c.rwM.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if !isRef || f == nil {
		return obj, nil
	}

	// factories may look other names up, so they run outside the lock
	instance, err := f.GetObjectInstance(ctx, ref, name, c)
	if err != nil {
		return nil, fmt.Errorf("naming: resolve %s: %w", name, err)
	}
	return instance, nil
}

// Names returns the bound names, sorted.
func (c *MemoryContext) Names() []string {
	c.rwM.RLock()
	defer c.rwM.RUnlock()

	names := make([]string, 0, len(c.bindings))
	for n := range c.bindings {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *MemoryContext) Len() int {
	c.rwM.RLock()
	defer c.rwM.RUnlock()
	return len(c.bindings)
}
