package processor

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"cmdflow/internal/domain"
)

// Handler performs the work of one command type.
type Handler[C domain.Command] interface {
	Handle(ctx context.Context, cmd C) error
}

type HandlerFunc[C domain.Command] func(ctx context.Context, cmd C) error

func (f HandlerFunc[C]) Handle(ctx context.Context, cmd C) error { return f(ctx, cmd) }

type invoker func(ctx context.Context, cmd domain.Command) error

// Registry maps command types to handler factories. It is built at startup
// and read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]invoker
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]invoker)}
}

// Register binds C to handlers built by factory. A new handler is built for
// every processed command.
func Register[C domain.Command](r *Registry, factory func() Handler[C]) error {
	key := TypeKey[C]()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[key]; ok {
		return fmt.Errorf("handler for command type %q already registered", key)
	}
	r.handlers[key] = func(ctx context.Context, cmd domain.Command) error {
		typed, ok := cmd.(C)
		if !ok {
			return &domain.HandlerNotFoundError{CommandType: key, GoType: fmt.Sprintf("%T", cmd)}
		}
		return factory().Handle(ctx, typed)
	}
	return nil
}

func RegisterFunc[C domain.Command](r *Registry, fn func(ctx context.Context, cmd C) error) error {
	return Register[C](r, func() Handler[C] { return HandlerFunc[C](fn) })
}

func MustRegister[C domain.Command](r *Registry, factory func() Handler[C]) {
	if err := Register(r, factory); err != nil {
		panic(err)
	}
}

// Types lists the registered command types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}

func (r *Registry) lookup(key string) (invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[key]
	return h, ok
}

// TypeKey returns the discriminator of C without needing an instance.
func TypeKey[C domain.Command]() string {
	return Zero[C]().CommandType()
}

// Zero returns a usable empty C, allocating when C is a pointer type.
func Zero[C domain.Command]() C {
	t := reflect.TypeOf((*C)(nil)).Elem()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(C)
	}
	var zero C
	return zero
}
