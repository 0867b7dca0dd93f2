package pipeline

import (
	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/metrics"
)

// StaleMarker is told about fixes that were stored but never reached the
// live-state cache.
type StaleMarker interface {
	MarkStale(assetID string)
}

// Dispatcher hands stored fixes and committed alerts to the background
// writers. Sends never block: a full channel drops the item and counts it.
type Dispatcher struct {
	StateChan chan domain.LocationFix
	AlertChan chan domain.GeoAlert

	// Stale, when set, is marked for every fix that misses the cache.
	Stale StaleMarker
}

func NewDispatcher(stateSize, alertSize int) *Dispatcher {
	return &Dispatcher{
		StateChan: make(chan domain.LocationFix, stateSize),
		AlertChan: make(chan domain.GeoAlert, alertSize),
	}
}

func (d *Dispatcher) DispatchFix(fix domain.LocationFix) {
	select {
	case d.StateChan <- fix:
	default:
		metrics.StateChannelDrops.Inc()
		if d.Stale != nil {
			d.Stale.MarkStale(fix.AssetID)
		}
	}
}

func (d *Dispatcher) NotifyAlerts(alerts []domain.GeoAlert) {
	for _, a := range alerts {
		select {
		case d.AlertChan <- a:
		default:
			metrics.AlertChannelDrops.Inc()
		}
	}
}
