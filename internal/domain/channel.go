package domain

import "context"

// Adapter is a channel transport (Telegram, Discord, Slack). The router
// exclusively owns the adapter registry; the pipeline and heartbeat use
// adapters read-only for outbound delivery.
type Adapter interface {
	Name() string
	// Configured reports whether the adapter has the credentials it needs.
	// Evaluated at send time, not cached.
	Configured() bool
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, recipient, text string) error
}
