package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/halyard/pkg/provisioning"
)

// DeliverySource is the slice of the delivery store the exporter sweeps.
// The concrete stores in pkg/store satisfy it.
type DeliverySource interface {
	// ListTerminalBefore returns SUCCESS/FAILED deliveries completed before
	// cutoff, oldest first, up to limit.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*provisioning.Delivery, error)
	// DeleteByIDs removes delivery records that have been archived.
	DeleteByIDs(ctx context.Context, ids []string) error
}

const defaultSweepBatch = 500

// Exporter enforces the delivery retention policy. Each sweep serializes
// terminal deliveries older than the retention window to RFC 8785 canonical
// JSON, writes them to the blob store, and prunes them from the hot store.
// With a nil blob store the sweep prunes without exporting.
//
// Canonical form means the same delivery record always produces the same
// blob ref, so a sweep interrupted between export and prune re-exports to
// the identical blob on the next pass.
type Exporter struct {
	deliveries DeliverySource
	blobs      BlobStore
	retention  time.Duration
	batchSize  int
	logger     *slog.Logger
	now        func() time.Time
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithBatchSize caps how many deliveries one sweep processes.
func WithBatchSize(n int) ExporterOption {
	return func(e *Exporter) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithExporterClock overrides the wall clock. Tests use this to age
// deliveries without sleeping.
func WithExporterClock(now func() time.Time) ExporterOption {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExporter creates a retention exporter. blobs may be nil for
// prune-only retention.
func NewExporter(deliveries DeliverySource, blobs BlobStore, retention time.Duration, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		deliveries: deliveries,
		blobs:      blobs,
		retention:  retention,
		batchSize:  defaultSweepBatch,
		logger:     slog.Default().With("component", "retention_exporter"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sweep archives and prunes one batch of expired deliveries. It returns how
// many were pruned. A delivery whose export fails stays in the hot store and
// is retried on the next sweep.
func (e *Exporter) Sweep(ctx context.Context) (int, error) {
	cutoff := e.now().UTC().Add(-e.retention)

	batch, err := e.deliveries.ListTerminalBefore(ctx, cutoff, e.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired deliveries: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	pruned := make([]string, 0, len(batch))
	var exportErr error
	for _, d := range batch {
		if e.blobs != nil {
			ref, err := e.export(ctx, d)
			if err != nil {
				e.logger.WarnContext(ctx, "delivery export failed",
					"delivery_id", d.ID, "error", err)
				if exportErr == nil {
					exportErr = err
				}
				continue
			}
			e.logger.DebugContext(ctx, "delivery archived",
				"delivery_id", d.ID, "blob_ref", ref)
		}
		pruned = append(pruned, d.ID)
	}

	if len(pruned) > 0 {
		if err := e.deliveries.DeleteByIDs(ctx, pruned); err != nil {
			return 0, fmt.Errorf("failed to prune archived deliveries: %w", err)
		}
	}

	if exportErr != nil {
		return len(pruned), fmt.Errorf("failed to export %d of %d expired deliveries: %w",
			len(batch)-len(pruned), len(batch), exportErr)
	}
	return len(pruned), nil
}

func (e *Exporter) export(ctx context.Context, d *provisioning.Delivery) (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal delivery %s: %w", d.ID, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize delivery %s: %w", d.ID, err)
	}
	ref, err := e.blobs.Put(ctx, canonical)
	if err != nil {
		return "", fmt.Errorf("failed to store delivery %s: %w", d.ID, err)
	}
	return ref, nil
}

// Run sweeps on the given interval until ctx is cancelled.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) {
	e.logger.InfoContext(ctx, "retention exporter started",
		"retention", e.retention, "interval", interval, "archive", e.blobs != nil)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("retention exporter stopped")
			return
		case <-ticker.C:
			n, err := e.Sweep(ctx)
			if err != nil {
				e.logger.ErrorContext(ctx, "retention sweep failed", "error", err)
				continue
			}
			if n > 0 {
				e.logger.InfoContext(ctx, "retention sweep completed", "pruned", n)
			}
		}
	}
}
