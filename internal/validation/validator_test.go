package validation

import (
	"errors"
	"strings"
	"testing"
)

type sampleRequest struct {
	AssetID   string      `json:"asset_id" validate:"required,max=64"`
	Latitude  *float64    `json:"latitude" validate:"required,latitude"`
	Longitude *float64    `json:"longitude" validate:"required,longitude"`
	Ring      [][]float64 `json:"coordinates" validate:"omitempty,min=3,dive,len=2"`
}

func ptr(f float64) *float64 { return &f }

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		req       sampleRequest
		wantField string
	}{
		{"valid", sampleRequest{AssetID: "a1", Latitude: ptr(10), Longitude: ptr(20)}, ""},
		{"zero coordinates are valid", sampleRequest{AssetID: "a1", Latitude: ptr(0), Longitude: ptr(0)}, ""},
		{"missing asset", sampleRequest{Latitude: ptr(10), Longitude: ptr(20)}, "asset_id"},
		{"missing latitude", sampleRequest{AssetID: "a1", Longitude: ptr(20)}, "latitude"},
		{"latitude out of range", sampleRequest{AssetID: "a1", Latitude: ptr(91), Longitude: ptr(20)}, "latitude"},
		{"longitude out of range", sampleRequest{AssetID: "a1", Latitude: ptr(1), Longitude: ptr(-181)}, "longitude"},
		{"short ring", sampleRequest{AssetID: "a1", Latitude: ptr(1), Longitude: ptr(1), Ring: [][]float64{{0, 0}, {1, 1}}}, "coordinates"},
		{"bad vertex", sampleRequest{AssetID: "a1", Latitude: ptr(1), Longitude: ptr(1), Ring: [][]float64{{0, 0}, {1, 1}, {2}}}, "coordinates[2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.req)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateStruct() error = %v", err)
				}
				return
			}
			var ve *RequestValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("ValidateStruct() error = %v, want *RequestValidationError", err)
			}
			if ve.Fields[0].Field != tt.wantField {
				t.Errorf("field = %q, want %q", ve.Fields[0].Field, tt.wantField)
			}
			if !strings.Contains(ve.Error(), tt.wantField) {
				t.Errorf("message %q does not name %q", ve.Error(), tt.wantField)
			}
		})
	}
}
