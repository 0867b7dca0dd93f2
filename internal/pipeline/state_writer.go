package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/logging"
	"fleet-monitor/asset-tracking/internal/metrics"
)

type LiveStateWriter interface {
	UpdateLiveState(ctx context.Context, fix domain.LocationFix) error
}

// StateWriter mirrors stored fixes into the live-state cache.
type StateWriter struct {
	ch    <-chan domain.LocationFix
	cache LiveStateWriter
	stale StaleMarker
	log   zerolog.Logger
}

func NewStateWriter(ch <-chan domain.LocationFix, cache LiveStateWriter) *StateWriter {
	return &StateWriter{ch: ch, cache: cache, log: logging.Component("state-writer")}
}

func (w *StateWriter) Run(ctx context.Context) {
	batch := make([]domain.LocationFix, 0, 100)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case fix, ok := <-w.ch:
			if !ok {
				w.flushBatch(ctx, batch)
				return
			}
			batch = append(batch, fix)
			if len(batch) >= 100 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// ctx is done; give the final flush its own deadline
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			w.flushBatch(flushCtx, batch)
			cancel()
			return
		}
	}
}

func (w *StateWriter) flushBatch(ctx context.Context, batch []domain.LocationFix) {
	for _, fix := range batch {
		if err := w.cache.UpdateLiveState(ctx, fix); err != nil {
			metrics.StateWriteFailures.Inc()
			w.log.Warn().Err(err).Str("asset_id", fix.AssetID).Msg("live state update failed")
			if w.stale != nil {
				w.stale.MarkStale(fix.AssetID)
			}
		}
	}
}
