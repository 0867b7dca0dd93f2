package domain

import (
	"encoding/json"
	"time"
)

type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationFix is one reported position of an asset. Fixes are immutable once
// stored; the latest fix of an asset is the one with the greatest Timestamp.
type LocationFix struct {
	ID             int64           `json:"id"`
	AssetID        string          `json:"asset_id"`
	Latitude       float64         `json:"latitude"`
	Longitude      float64         `json:"longitude"`
	Timestamp      time.Time       `json:"timestamp"`
	AdditionalData json.RawMessage `json:"additional_data,omitempty"`
}

func (f LocationFix) Coordinate() Coordinate {
	return Coordinate{Latitude: f.Latitude, Longitude: f.Longitude}
}

// HistoryQuery selects fixes of one asset, newest first. Zero Start/End leave
// that side of the range open and a zero Limit returns every matching fix.
type HistoryQuery struct {
	AssetID string
	Start   time.Time
	End     time.Time
	Limit   int
}
