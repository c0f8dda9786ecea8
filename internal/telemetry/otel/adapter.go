package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"membercard-engine/internal/telemetry"
)

// NewEventEmitter returns an EventEmitter that sends verification events as
// OTel log records via the given LoggerProvider. If provider is nil, returns
// a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger("membercard.verification")}
}

// logSink is the slice of otellog.Logger the emitter needs. Tests substitute
// a capturing implementation.
type logSink interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitterWithLogger returns an emitter backed by the given log sink.
// Used by tests to capture emitted records.
func NewEventEmitterWithLogger(logger logSink) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.Event) error { return nil }

type otelEmitter struct {
	logger logSink
}

// Emit converts the event to an OTel log record and emits it. Best-effort;
// errors are logged by the caller.
func (e *otelEmitter) Emit(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.OccurredAt.IsZero() {
		rec.SetTimestamp(event.OccurredAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	if body, err := json.Marshal(event); err == nil {
		rec.SetBody(otellog.BytesValue(body))
	}
	if event.EventRef != "" {
		rec.AddAttributes(otellog.String("event_ref", event.EventRef))
	}
	if event.CardID != "" {
		rec.AddAttributes(otellog.String("card_id", event.CardID))
	}
	if event.IssuerID != "" {
		rec.AddAttributes(otellog.String("issuer_id", event.IssuerID))
	}
	if event.MemberID != "" {
		rec.AddAttributes(otellog.String("member_id", event.MemberID))
	}
	if event.Result != "" {
		rec.AddAttributes(otellog.String("result", event.Result))
	}
	if event.Source != "" {
		rec.AddAttributes(otellog.String("source", event.Source))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
