package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// GeoZone is a closed polygon owned by an asset. Boundary vertices are
// (longitude, latitude) pairs; the last vertex connects back to the first.
type GeoZone struct {
	ID        int64     `json:"id"`
	AssetID   string    `json:"asset_id"`
	Name      string    `json:"name"`
	Boundary  orb.Ring  `json:"coordinates"`
	CreatedAt time.Time `json:"created_at"`
}
