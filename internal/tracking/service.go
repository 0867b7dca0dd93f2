// Package tracking implements the request-facing operations: asset
// administration, fix ingestion and reads, geofence creation, on-demand
// containment checks and alert listing.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fleet-monitor/asset-tracking/internal/alerting"
	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/geo"
	"fleet-monitor/asset-tracking/internal/metrics"
	"fleet-monitor/asset-tracking/internal/store"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// Dispatcher hands stored fixes and committed alerts to the background
// pipeline. Both calls must not block.
type Dispatcher interface {
	DispatchFix(fix domain.LocationFix)
	NotifyAlerts(alerts []domain.GeoAlert)
}

type Service struct {
	store    store.Store
	dispatch Dispatcher
	now      func() time.Time
}

type Option func(*Service)

func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatch = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAsset stores a new asset, assigning a random id when none is given.
func (s *Service) CreateAsset(ctx context.Context, a *domain.Asset) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return s.store.CreateAsset(ctx, a)
}

func (s *Service) GetAsset(ctx context.Context, id string) (domain.Asset, error) {
	return s.store.GetAsset(ctx, id)
}

func (s *Service) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	return s.store.ListAssets(ctx)
}

// IngestFix validates and stores a fix. A zero timestamp means "now".
func (s *Service) IngestFix(ctx context.Context, fix *domain.LocationFix) error {
	if err := geo.ValidateCoordinate(fix.Latitude, fix.Longitude); err != nil {
		return err
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = s.now()
	} else {
		fix.Timestamp = fix.Timestamp.UTC()
	}
	if len(fix.AdditionalData) == 0 {
		fix.AdditionalData = []byte("{}")
	}

	if err := s.store.InsertFix(ctx, fix); err != nil {
		return err
	}
	metrics.FixesReceived.Inc()

	if s.dispatch != nil {
		s.dispatch.DispatchFix(*fix)
	}
	return nil
}

func (s *Service) LatestFix(ctx context.Context, assetID string) (domain.LocationFix, error) {
	if _, err := s.store.GetAsset(ctx, assetID); err != nil {
		return domain.LocationFix{}, err
	}
	return s.store.LatestFix(ctx, assetID)
}

// History clamps the limit to [1, MaxHistoryLimit], defaulting to
// DefaultHistoryLimit.
func (s *Service) History(ctx context.Context, q domain.HistoryQuery) ([]domain.LocationFix, error) {
	if _, err := s.store.GetAsset(ctx, q.AssetID); err != nil {
		return nil, err
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return nil, fmt.Errorf("%w: end_time before start_time", ErrInvalidRange)
	}
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultHistoryLimit
	case q.Limit > MaxHistoryLimit:
		q.Limit = MaxHistoryLimit
	}
	return s.store.History(ctx, q)
}

var ErrInvalidRange = errors.New("invalid time range")

// CreateZone closes the (lon, lat) vertex list into a ring and stores it.
func (s *Service) CreateZone(ctx context.Context, assetID, name string, vertices [][2]float64) (domain.GeoZone, error) {
	ring, err := geo.ClosedRing(vertices)
	if err != nil {
		return domain.GeoZone{}, err
	}
	zone := domain.GeoZone{AssetID: assetID, Name: name, Boundary: ring}
	if err := s.store.CreateZone(ctx, &zone); err != nil {
		return domain.GeoZone{}, err
	}
	return zone, nil
}

func (s *Service) Zones(ctx context.Context, assetID string) ([]domain.GeoZone, error) {
	if _, err := s.store.GetAsset(ctx, assetID); err != nil {
		return nil, err
	}
	return s.store.ZonesForAsset(ctx, assetID)
}

type CheckResult struct {
	AssetID   string             `json:"asset_id"`
	Contained bool               `json:"in_zone"`
	Fix       domain.LocationFix `json:"fix"`
	Alert     *domain.GeoAlert   `json:"alert,omitempty"`
}

// CheckContainment evaluates the asset's current latest fix against its
// zones. When the asset is outside, a zone_exit alert is written right away
// regardless of the sweep dedup policy. It returns domain.ErrNoLocation when
// the asset never reported.
func (s *Service) CheckContainment(ctx context.Context, assetID string) (CheckResult, error) {
	if _, err := s.store.GetAsset(ctx, assetID); err != nil {
		return CheckResult{}, err
	}
	fix, err := s.store.LatestFix(ctx, assetID)
	if err != nil {
		return CheckResult{}, err
	}
	zones, err := s.store.ZonesForAsset(ctx, assetID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("zones for %s: %w", assetID, err)
	}

	res := CheckResult{AssetID: assetID, Fix: fix, Contained: geo.IsContained(fix, zones)}
	if res.Contained {
		return res, nil
	}

	alerts := []domain.GeoAlert{alerting.ZoneExit(fix, s.now())}
	if err := s.store.InsertAlerts(ctx, alerts); err != nil {
		return CheckResult{}, fmt.Errorf("record zone exit for %s: %w", assetID, err)
	}
	metrics.AlertsRaised.WithLabelValues(string(domain.AlertZoneExit)).Inc()
	if s.dispatch != nil {
		s.dispatch.NotifyAlerts(alerts)
	}
	res.Alert = &alerts[0]
	return res, nil
}

func (s *Service) Alerts(ctx context.Context, assetID string) ([]domain.GeoAlert, error) {
	if _, err := s.store.GetAsset(ctx, assetID); err != nil {
		return nil, err
	}
	return s.store.AlertsForAsset(ctx, assetID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
