package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"membercard-engine/internal/audit/domain"
	"membercard-engine/internal/audit/repository"
	"membercard-engine/internal/telemetry"
)

// Logger appends verification events to the audit log and fans them out to
// the telemetry stream. Recording is best-effort: a failed write is logged
// and never propagated, so audit trouble cannot fail a verification.
type Logger struct {
	events  repository.Repository
	emitter telemetry.EventEmitter
	source  string
	now     func() time.Time
}

// NewLogger returns an audit logger. emitter may be nil to disable the
// telemetry fan-out. source names the component recording events
// (e.g. "issuance", "reverify").
func NewLogger(events repository.Repository, emitter telemetry.EventEmitter, source string) *Logger {
	return &Logger{
		events:  events,
		emitter: emitter,
		source:  source,
		now:     time.Now,
	}
}

// Record writes a verification event. cardID may be empty when the outcome
// predates card resolution.
func (l *Logger) Record(ctx context.Context, eventRef, cardID, result string, contextJSON []byte, rawPayload string) {
	e := &domain.VerificationEvent{
		ID:         uuid.NewString(),
		EventRef:   eventRef,
		CardID:     cardID,
		Result:     result,
		Context:    contextJSON,
		RawPayload: rawPayload,
		VerifiedAt: l.now(),
	}
	if l.events != nil {
		if err := l.events.Append(ctx, e); err != nil {
			log.Printf("audit: append event %s: %v", eventRef, err)
		}
	}
	telemetry.EmitAsync(l.emitter, ctx, &telemetry.Event{
		EventRef:   eventRef,
		CardID:     cardID,
		Result:     result,
		Context:    string(contextJSON),
		Source:     l.source,
		OccurredAt: e.VerifiedAt,
	})
}
