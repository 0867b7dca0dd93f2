package domain

import "time"

type AlertKind string

const (
	AlertZoneExit  AlertKind = "zone_exit"
	AlertStaleData AlertKind = "stale_data"
)

func (k AlertKind) Valid() bool {
	switch k {
	case AlertZoneExit, AlertStaleData:
		return true
	default:
		return false
	}
}

// GeoAlert is append-only. Coordinate is the triggering fix, a zone centroid
// when the asset never reported, or nil when neither is known.
type GeoAlert struct {
	ID          int64       `json:"id"`
	AssetID     string      `json:"asset_id"`
	Kind        AlertKind   `json:"alert_type"`
	Message     string      `json:"message"`
	Coordinate  *Coordinate `json:"coordinate,omitempty"`
	TriggeredAt time.Time   `json:"triggered_at"`
	Resolved    bool        `json:"resolved"`
}
