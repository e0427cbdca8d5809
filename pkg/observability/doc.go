// Package observability provides OpenTelemetry tracing and metrics for
// halyard.
//
// # Provider
//
// Initialize a provider at application startup:
//
//	obs, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "halyard",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//		Enabled:      true,
//	})
//	defer obs.Shutdown(ctx)
//
// Track an operation end to end:
//
//	ctx, done := obs.TrackOperation(ctx, "scim.delivery.attempt",
//		observability.DeliveryAttempt(deliveryID, destinationID, eventID)...)
//	err := attempt(ctx)
//	done(err)
//
// Create spans manually:
//
//	ctx, span := obs.StartSpan(ctx, "operation_name")
//	defer span.End()
//
// # Destination health
//
// DeliveryHealthTracker grades destinations on a rolling window of settled
// attempts:
//
//	health := observability.NewDeliveryHealthTracker(observability.DefaultHealthTarget())
//	health.Record(observability.DeliveryObservation{DestinationID: id, Latency: d, Success: ok})
//	standing := health.Health(id)
package observability
