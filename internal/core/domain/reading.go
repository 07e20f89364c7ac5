package domain

import "time"

// Reading is one telemetry sample taken from the station table.
type Reading struct {
	StationID   string    `json:"station_id"`
	StationName string    `json:"station_name"`
	Height      float64   `json:"height"`
	HeightUnit  string    `json:"height_unit"`
	Flow        float64   `json:"flow"`
	FlowUnit    string    `json:"flow_unit"`
	ObservedAt  time.Time `json:"observed_at"`
	SourceURL   string    `json:"source_url"`
}
