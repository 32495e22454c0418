package observability

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const sourceTracerName = "casenotify/source"

type contextKey string

const (
	eventActionKey   contextKey = "observability.event_action"
	eventChannelKey  contextKey = "observability.event_channel"
	eventResourceKey contextKey = "observability.event_resource"
	requestIDKey     contextKey = "observability.request_id"
	routeKey         contextKey = "observability.route"
)

// Span is the application-level tracing span contract.
type Span interface {
	End()
	RecordError(error)
}

type otelSpan struct {
	inner     trace.Span
	system    string
	operation string
	start     time.Time
	failed    bool
}

// StartSourceSpan starts a client span for one external data-source call. The
// span also feeds the per-source fetch metrics when it ends.
func StartSourceSpan(ctx context.Context, system, operation string) (context.Context, Span) {
	system = strings.TrimSpace(system)
	if system == "" {
		system = "unknown"
	}
	operation = strings.TrimSpace(operation)
	attrs := []attribute.KeyValue{
		attribute.String("peer.service", system),
		attribute.String("casenotify.operation", operation),
	}
	if action, ok := eventDiscriminatorFromContext(ctx, eventActionKey); ok {
		attrs = append(attrs, attribute.String("casenotify.event_action", action))
	}
	if channel, ok := eventDiscriminatorFromContext(ctx, eventChannelKey); ok {
		attrs = append(attrs, attribute.String("casenotify.event_channel", channel))
	}
	if resource, ok := eventDiscriminatorFromContext(ctx, eventResourceKey); ok {
		attrs = append(attrs, attribute.String("casenotify.event_resource", resource))
	}

	ctx, span := otel.Tracer(sourceTracerName).Start(ctx, "source."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	return ctx, &otelSpan{
		inner:     span,
		system:    system,
		operation: operation,
		start:     time.Now(),
	}
}

// WithEventIdentity enriches context and the current span with the event's
// discriminators so every downstream source call carries them.
func WithEventIdentity(ctx context.Context, action, channel, resource string) context.Context {
	action = strings.TrimSpace(action)
	channel = strings.TrimSpace(channel)
	resource = strings.TrimSpace(resource)
	if action != "" {
		ctx = context.WithValue(ctx, eventActionKey, action)
	}
	if channel != "" {
		ctx = context.WithValue(ctx, eventChannelKey, channel)
	}
	if resource != "" {
		ctx = context.WithValue(ctx, eventResourceKey, resource)
	}
	setSpanEventAttributes(ctx, action, channel, resource)
	return ctx
}

// WithRequestMetadata enriches context and current span with request metadata.
func WithRequestMetadata(ctx context.Context, requestID, route string) context.Context {
	requestID = strings.TrimSpace(requestID)
	route = strings.TrimSpace(route)
	if requestID != "" {
		ctx = context.WithValue(ctx, requestIDKey, requestID)
	}
	if route != "" {
		ctx = context.WithValue(ctx, routeKey, route)
	}
	setSpanRequestAttributes(ctx, requestID, route)
	return ctx
}

// RequestIDFromContext extracts request id.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(requestIDKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

// RouteFromContext extracts normalized route path.
func RouteFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(routeKey).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func eventDiscriminatorFromContext(ctx context.Context, key contextKey) (string, bool) {
	value, ok := ctx.Value(key).(string)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func setSpanEventAttributes(ctx context.Context, action, channel, resource string) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 3)
	if action != "" {
		attrs = append(attrs, attribute.String("casenotify.event_action", action))
	}
	if channel != "" {
		attrs = append(attrs, attribute.String("casenotify.event_channel", channel))
	}
	if resource != "" {
		attrs = append(attrs, attribute.String("casenotify.event_resource", resource))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

func setSpanRequestAttributes(ctx context.Context, requestID, route string) {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 2)
	if requestID != "" {
		attrs = append(attrs, attribute.String("request.id", requestID))
	}
	if route != "" {
		attrs = append(attrs, attribute.String("http.route", route))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

func (s *otelSpan) End() {
	if s.inner != nil {
		s.inner.End()
	}

	inst := sourceFetchInstruments()
	opts := metric.WithAttributes(
		attribute.String("peer.service", s.system),
		attribute.String("casenotify.operation", s.operation),
		attribute.Bool("error", s.failed),
	)
	ctx := context.Background()
	if inst.fetches != nil {
		inst.fetches.Add(ctx, 1, opts)
	}
	if inst.duration != nil {
		inst.duration.Record(ctx, time.Since(s.start).Seconds(), opts)
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.failed = true
	if s.inner == nil {
		return
	}
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}
