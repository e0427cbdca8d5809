package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Semantic convention attributes for provisioning telemetry.
var (
	AttrTenantID       = attribute.Key("halyard.tenant.id")
	AttrDestinationID  = attribute.Key("halyard.destination.id")
	AttrEventID        = attribute.Key("halyard.event.id")
	AttrDeliveryID     = attribute.Key("halyard.delivery.id")
	AttrOperation      = attribute.Key("halyard.scim.operation")
	AttrDeliveryStatus = attribute.Key("halyard.delivery.status")
	AttrHTTPStatus     = attribute.Key("halyard.scim.http_status")
	AttrRetryCount     = attribute.Key("halyard.delivery.retry_count")
)

// DeliveryAttempt creates attributes for one delivery attempt.
func DeliveryAttempt(deliveryID, destinationID, eventID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDeliveryID.String(deliveryID),
		AttrDestinationID.String(destinationID),
		AttrEventID.String(eventID),
	}
}

// DeliveryOutcome creates attributes for a settled delivery.
func DeliveryOutcome(status string, httpStatus, retryCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDeliveryStatus.String(status),
		AttrHTTPStatus.Int(httpStatus),
		AttrRetryCount.Int(retryCount),
	}
}

// SpanFromContext returns the span recording in ctx, so callers outside
// this package can annotate it without importing the trace API.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent attaches a named event to the span in ctx, if any.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus settles the span in ctx: a non-nil err records it and marks
// the span errored, nil marks it OK.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
