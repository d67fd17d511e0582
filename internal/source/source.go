// Package source provides read-only context sources for the heartbeat:
// each source produces a short text snapshot of some external state.
package source

import "context"

// Source is one read-only context feed. A failing source contributes
// nothing to a heartbeat tick; it never aborts it.
type Source interface {
	Name() string
	Snapshot(ctx context.Context) (string, error)
}
