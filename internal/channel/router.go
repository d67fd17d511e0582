// Package channel owns the adapter registry and outbound routing with
// preferred-then-fallback delivery.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"aide/internal/domain"
)

// Delivery reports where an outbound message actually landed.
type Delivery struct {
	Channel  string
	Fallback bool // true when a non-preferred channel was used
}

// Router tracks live channel adapters. Registration happens at startup
// under exclusive access; after that the router is read-mostly and safe
// for concurrent sends.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]domain.Adapter
	order    []string // fixed fallback priority
	logger   *slog.Logger
}

func NewRouter(order []string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		adapters: make(map[string]domain.Adapter),
		order:    order,
		logger:   logger,
	}
}

// Register adds an adapter. Startup-only.
func (r *Router) Register(a domain.Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("channel already registered: %s", name)
	}
	r.adapters[name] = a
	return nil
}

// StartAll launches every configured adapter. Each adapter starts on its
// own goroutine and failures are isolated: one adapter failing to start
// never prevents the others from running.
func (r *Router) StartAll(ctx context.Context, msgBus domain.MessageBus) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, a := range r.adapters {
		if !a.Configured() {
			r.logger.Info("channel not configured, skipping", "channel", name)
			continue
		}
		go func(name string, a domain.Adapter) {
			r.logger.Info("starting channel", "channel", name)
			if err := a.Start(ctx, msgBus); err != nil {
				r.logger.Error("channel failed", "channel", name, "error", err)
			}
		}(name, a)
	}
}

// StopAll stops every adapter, collecting errors without aborting early.
func (r *Router) StopAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []string
	for name, a := range r.adapters {
		if err := a.Stop(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("channel shutdown errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendToChannel delivers via one named channel. An unknown name fails fast
// with ErrUnknownChannel before any network call.
func (r *Router) SendToChannel(ctx context.Context, channelName, recipient, text string) error {
	r.mu.RLock()
	a, ok := r.adapters[channelName]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownChannel, channelName)
	}
	if !a.Configured() {
		return fmt.Errorf("channel %s is not configured", channelName)
	}
	return a.Send(ctx, recipient, text)
}

// SendToPreferred tries the preferred channel first, then the remaining
// configured adapters in the fixed priority order. It reports which
// channel actually accepted the message; when every adapter refuses it
// returns ErrNoChannelAvailable.
func (r *Router) SendToPreferred(ctx context.Context, preferred, recipient, text string) (Delivery, error) {
	if err := r.trySend(ctx, preferred, recipient, text); err == nil {
		return Delivery{Channel: preferred}, nil
	} else {
		r.logger.Warn("preferred channel failed, trying fallbacks",
			"channel", preferred, "error", err)
	}

	for _, name := range r.order {
		if name == preferred {
			continue
		}
		if err := r.trySend(ctx, name, recipient, text); err == nil {
			r.logger.Info("delivered via fallback channel", "channel", name)
			return Delivery{Channel: name, Fallback: true}, nil
		}
	}
	return Delivery{}, domain.ErrNoChannelAvailable
}

func (r *Router) trySend(ctx context.Context, name, recipient, text string) error {
	r.mu.RLock()
	a, ok := r.adapters[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownChannel, name)
	}
	if !a.Configured() {
		return fmt.Errorf("channel %s is not configured", name)
	}
	return a.Send(ctx, recipient, text)
}
