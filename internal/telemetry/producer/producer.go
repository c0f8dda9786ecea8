// Package producer defines the interface for publishing verification events
// to the audit stream (e.g. Kafka).
package producer

import (
	"context"

	"membercard-engine/internal/telemetry"
)

// Producer publishes verification events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, event *telemetry.Event) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
