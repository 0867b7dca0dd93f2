package domain

import "time"

type AssetStatus string

const (
	AssetActive   AssetStatus = "active"
	AssetInactive AssetStatus = "inactive"
)

type Asset struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	AssetType   string      `json:"asset_type"`
	UniqueID    string      `json:"unique_id"`
	Description string      `json:"description,omitempty"`
	Status      AssetStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}
