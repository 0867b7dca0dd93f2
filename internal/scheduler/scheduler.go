// Package scheduler runs the periodic zone-exit and staleness sweeps over
// every asset and records the resulting alerts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fleet-monitor/asset-tracking/internal/alerting"
	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/geo"
	"fleet-monitor/asset-tracking/internal/logging"
	"fleet-monitor/asset-tracking/internal/metrics"
)

const (
	SweepZoneExit = "zone_exit"
	SweepStale    = "stale_data"
)

type Store interface {
	ListAssets(ctx context.Context) ([]domain.Asset, error)
	LatestFix(ctx context.Context, assetID string) (domain.LocationFix, error)
	ZonesForAsset(ctx context.Context, assetID string) ([]domain.GeoZone, error)
	InsertAlerts(ctx context.Context, alerts []domain.GeoAlert) error
}

type DedupPolicy interface {
	Admit(ctx context.Context, assetID string, kind domain.AlertKind) bool
	Resolve(ctx context.Context, assetID string, kind domain.AlertKind) error
	Release(ctx context.Context, assetID string, kind domain.AlertKind) error
}

// AlertNotifier receives alerts after they are committed.
type AlertNotifier interface {
	NotifyAlerts(alerts []domain.GeoAlert)
}

type Config struct {
	Interval       time.Duration
	StaleThreshold time.Duration
}

type Scheduler struct {
	store     Store
	policy    DedupPolicy
	notifier  AlertNotifier
	interval  time.Duration
	threshold time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// SweepResult counts what one sweep did with each asset.
type SweepResult struct {
	Assets     int
	Skipped    int
	Failed     int
	Suppressed int
	Alerts     []domain.GeoAlert
}

func New(store Store, policy DedupPolicy, notifier AlertNotifier, cfg Config) *Scheduler {
	return &Scheduler{
		store:     store,
		policy:    policy,
		notifier:  notifier,
		interval:  cfg.Interval,
		threshold: cfg.StaleThreshold,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logging.Component("scheduler"),
	}
}

// Serve runs one pass immediately and then one per interval until ctx ends.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Dur("stale_threshold", s.threshold).Msg("alert scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			s.log.Info().Msg("alert scheduler stopped")
			return ctx.Err()
		}
	}
}

func (s *Scheduler) String() string { return "alert-scheduler" }

// RunOnce runs both sweeps. A failed sweep is logged and does not stop the
// other one; the next wake starts fresh.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.now()

	for _, sweep := range []struct {
		name string
		fn   func(context.Context, time.Time) (SweepResult, error)
	}{
		{SweepZoneExit, s.SweepZoneExits},
		{SweepStale, s.SweepStale},
	} {
		start := time.Now()
		res, err := sweep.fn(ctx, now)
		metrics.RecordSweep(sweep.name, time.Since(start), err)

		ev := s.log.Info()
		if err != nil {
			ev = s.log.Error().Err(err)
		}
		ev.Str("sweep", sweep.name).
			Int("assets", res.Assets).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Int("suppressed", res.Suppressed).
			Int("alerts", len(res.Alerts)).
			Msg("sweep finished")
	}
}

// SweepZoneExits raises a zone_exit alert for every asset whose latest fix is
// outside all of its zones. Assets that never reported are skipped.
func (s *Scheduler) SweepZoneExits(ctx context.Context, now time.Time) (SweepResult, error) {
	assets, err := s.store.ListAssets(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list assets: %w", err)
	}

	res := SweepResult{Assets: len(assets)}
	var pending []domain.GeoAlert

	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			s.release(pending)
			return res, err
		}

		fix, err := s.store.LatestFix(ctx, a.ID)
		if errors.Is(err, domain.ErrNoLocation) {
			res.Skipped++
			continue
		}
		if err != nil {
			res.Failed++
			s.log.Warn().Err(err).Str("asset_id", a.ID).Msg("zone sweep: latest fix lookup failed")
			continue
		}

		zones, err := s.store.ZonesForAsset(ctx, a.ID)
		if err != nil {
			res.Failed++
			s.log.Warn().Err(err).Str("asset_id", a.ID).Msg("zone sweep: zone lookup failed")
			continue
		}

		if geo.IsContained(fix, zones) {
			s.resolve(ctx, a.ID, domain.AlertZoneExit)
			continue
		}
		if !s.policy.Admit(ctx, a.ID, domain.AlertZoneExit) {
			res.Suppressed++
			continue
		}
		pending = append(pending, alerting.ZoneExit(fix, now))
	}

	return s.commit(ctx, res, pending)
}

// SweepStale raises a stale_data alert for every asset whose latest fix is
// older than the threshold, including assets that never reported.
func (s *Scheduler) SweepStale(ctx context.Context, now time.Time) (SweepResult, error) {
	assets, err := s.store.ListAssets(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list assets: %w", err)
	}

	res := SweepResult{Assets: len(assets)}
	var pending []domain.GeoAlert

	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			s.release(pending)
			return res, err
		}

		var coord *domain.Coordinate
		fix, err := s.store.LatestFix(ctx, a.ID)
		switch {
		case errors.Is(err, domain.ErrNoLocation):
			coord = s.zoneCentroid(ctx, a.ID)
		case err != nil:
			res.Failed++
			s.log.Warn().Err(err).Str("asset_id", a.ID).Msg("stale sweep: latest fix lookup failed")
			continue
		default:
			if !geo.IsStale(fix.Timestamp, now, s.threshold) {
				s.resolve(ctx, a.ID, domain.AlertStaleData)
				continue
			}
			c := fix.Coordinate()
			coord = &c
		}

		if !s.policy.Admit(ctx, a.ID, domain.AlertStaleData) {
			res.Suppressed++
			continue
		}
		pending = append(pending, alerting.Stale(a.ID, coord, s.threshold, now))
	}

	return s.commit(ctx, res, pending)
}

// zoneCentroid stands in for the position of an asset that never reported.
func (s *Scheduler) zoneCentroid(ctx context.Context, assetID string) *domain.Coordinate {
	zones, err := s.store.ZonesForAsset(ctx, assetID)
	if err != nil {
		s.log.Debug().Err(err).Str("asset_id", assetID).Msg("stale sweep: no zone centroid")
		return nil
	}
	for _, z := range zones {
		if c, ok := geo.Centroid(z); ok {
			return &c
		}
	}
	return nil
}

// commit writes the sweep's alerts in one batch. On failure every admission
// made by this sweep is released so the next sweep can raise them again.
func (s *Scheduler) commit(ctx context.Context, res SweepResult, pending []domain.GeoAlert) (SweepResult, error) {
	if len(pending) == 0 {
		return res, nil
	}

	if err := s.store.InsertAlerts(ctx, pending); err != nil {
		s.release(pending)
		return res, fmt.Errorf("commit %d alerts: %w", len(pending), err)
	}

	for _, a := range pending {
		metrics.AlertsRaised.WithLabelValues(string(a.Kind)).Inc()
	}
	if s.notifier != nil {
		s.notifier.NotifyAlerts(pending)
	}
	res.Alerts = pending
	return res, nil
}

func (s *Scheduler) release(pending []domain.GeoAlert) {
	// the sweep context may already be canceled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, a := range pending {
		if err := s.policy.Release(ctx, a.AssetID, a.Kind); err != nil {
			s.log.Warn().Err(err).Str("asset_id", a.AssetID).Str("kind", string(a.Kind)).Msg("dedup release failed")
		}
	}
}

func (s *Scheduler) resolve(ctx context.Context, assetID string, kind domain.AlertKind) {
	if err := s.policy.Resolve(ctx, assetID, kind); err != nil {
		s.log.Warn().Err(err).Str("asset_id", assetID).Str("kind", string(kind)).Msg("dedup resolve failed")
	}
}
