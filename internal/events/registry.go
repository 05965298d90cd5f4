// Package events dispatches queued lifecycle notifications to listeners in
// the serving process.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/blackwell-systems/addonsync/internal/addon"
)

// ErrListenerNotFound is returned when a listener ref resolves to nothing.
var ErrListenerNotFound = errors.New("listener not found")

// Built-in listener refs.
const (
	LogListenerRef     = "log"
	WebhookListenerPfx = "webhook:"
)

// Listener reacts to one lifecycle event. rec is the current record, or a
// stub carrying only kind, ID and name when the record no longer exists.
type Listener func(ctx context.Context, kind addon.EventKind, rec *addon.Record) error

// Registry resolves listener refs and holds topic subscriptions.
type Registry struct {
	mu          sync.RWMutex
	listeners   map[string]Listener
	subscribers map[string][]Listener

	logger *zap.Logger
	client *resty.Client
}

// NewRegistry creates a Registry. The client is used by webhook listeners;
// nil creates a default one.
func NewRegistry(logger *zap.Logger, client *resty.Client) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = resty.New()
	}
	return &Registry{
		listeners:   make(map[string]Listener),
		subscribers: make(map[string][]Listener),
		logger:      logger,
		client:      client,
	}
}

// Register binds ref to l, replacing any earlier binding. Registered refs
// take precedence over the built-ins.
func (r *Registry) Register(ref string, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[ref] = l
}

// Alias makes name resolve to whatever target resolves to at dispatch time.
func (r *Registry) Alias(name, target string) {
	r.Register(name, func(ctx context.Context, kind addon.EventKind, rec *addon.Record) error {
		l, err := r.Resolve(target)
		if err != nil {
			return fmt.Errorf("alias %s: %w", name, err)
		}
		return l(ctx, kind, rec)
	})
}

// Subscribe adds l to topic. A topic is either a package channel
// (addon.Channel) or a bare event kind.
func (r *Registry) Subscribe(topic string, l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[topic] = append(r.subscribers[topic], l)
}

// Subscribers returns the listeners subscribed to topic in subscription order.
func (r *Registry) Subscribers(topic string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Listener(nil), r.subscribers[topic]...)
}

// Resolve returns the listener for ref.
func (r *Registry) Resolve(ref string) (Listener, error) {
	r.mu.RLock()
	l, ok := r.listeners[ref]
	r.mu.RUnlock()
	if ok {
		return l, nil
	}

	switch {
	case ref == LogListenerRef:
		return LogListener(r.logger), nil
	case strings.HasPrefix(ref, WebhookListenerPfx):
		url := strings.TrimPrefix(ref, WebhookListenerPfx)
		if url == "" {
			return nil, fmt.Errorf("%w: webhook ref %q has no URL", ErrListenerNotFound, ref)
		}
		return WebhookListener(r.client, url), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrListenerNotFound, ref)
}

// LogListener writes each event to logger.
func LogListener(logger *zap.Logger) Listener {
	return func(_ context.Context, kind addon.EventKind, rec *addon.Record) error {
		logger.Info("package event",
			zap.String("event_kind", string(kind)),
			zap.String("kind", string(rec.Kind)),
			zap.String("package", rec.Name),
			zap.Int64("package_id", rec.ID),
			zap.String("status", string(rec.Status)),
			zap.String("current_version", rec.CurrentVersion),
		)
		return nil
	}
}
