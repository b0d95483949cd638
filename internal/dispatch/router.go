package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Handler is the capability every event handler implements.
type Handler interface {
	Handle(ctx context.Context, ectx *Context) error
}

// Factory constructs a fresh handler inside a delivery's scope. Handlers are
// instantiated per dispatch, never shared across deliveries.
type Factory func() Handler

type entry struct {
	event   string // "*" matches every event
	action  string // "" or "*" matches every action
	name    string
	factory Factory
}

// Router maps (event, action) patterns to handler factories and invokes all
// matches for a delivery. Handlers run sequentially; one handler's failure is
// isolated from the rest, but cancellation aborts the remainder immediately.
type Router struct {
	mu      sync.RWMutex
	entries []entry

	// OnHandlerFailure, when set, observes isolated handler errors (metrics).
	OnHandlerFailure func(handlerName string, err error)
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Register binds a handler factory to an event/action pattern.
// Patterns are case-insensitive. The compound form "event.*" is shorthand for
// (event, "*"). Re-registering an identical (pattern, name) pair is a no-op.
func (r *Router) Register(event, action, name string, factory Factory) error {
	ev := strings.ToLower(strings.TrimSpace(event))
	act := strings.ToLower(strings.TrimSpace(action))
	if ev == "" {
		return errors.New("dispatch: event pattern is empty")
	}
	if name == "" {
		return errors.New("dispatch: handler name is empty")
	}
	if factory == nil {
		return fmt.Errorf("dispatch: nil factory for handler %q", name)
	}

	if ev != "*" && strings.HasSuffix(ev, ".*") {
		act = "*"
		ev = strings.TrimSuffix(ev, ".*")
		if ev == "" {
			return fmt.Errorf("dispatch: invalid pattern %q", event)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.event == ev && e.action == act && e.name == name {
			return nil
		}
	}
	r.entries = append(r.entries, entry{event: ev, action: act, name: name, factory: factory})
	return nil
}

// Dispatch invokes every handler matching the delivery's event and action, in
// registration order. Handler errors and panics are isolated, logged and
// reported to OnHandlerFailure; a cancellation signal propagates immediately
// and aborts the remaining invocations.
func (r *Router) Dispatch(ctx context.Context, ectx *Context) error {
	ev := strings.ToLower(ectx.Delivery.EventName)
	act := strings.ToLower(ectx.Delivery.Action)

	r.mu.RLock()
	var matched []entry
	for _, e := range r.entries {
		if e.matches(ev, act) {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()

	if len(matched) == 0 {
		ectx.Log.Debug("no handlers matched", "action", act)
		return nil
	}

	for _, e := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.invoke(ctx, e, ectx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			ectx.Log.Error("handler failed", "handler", e.name, "error", err)
			if r.OnHandlerFailure != nil {
				r.OnHandlerFailure(e.name, err)
			}
		}
	}
	return nil
}

func (r *Router) invoke(ctx context.Context, e entry, ectx *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler %s panicked: %v", e.name, rec)
		}
	}()

	h := e.factory()
	if h == nil {
		return fmt.Errorf("factory for handler %s returned nil", e.name)
	}
	return h.Handle(ctx, ectx)
}

func (e entry) matches(event, action string) bool {
	if e.event == "*" {
		return true
	}
	if e.event != event {
		return false
	}
	return e.action == "" || e.action == "*" || e.action == action
}
