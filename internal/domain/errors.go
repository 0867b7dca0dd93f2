package domain

import "errors"

var (
	ErrNoLocation      = errors.New("no location available")
	ErrAssetNotFound   = errors.New("asset not found")
	ErrAssetExists     = errors.New("asset already exists")
	ErrInvalidLocation = errors.New("invalid latitude or longitude")
	ErrInvalidZone     = errors.New("invalid geofence polygon")
)
