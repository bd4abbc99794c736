package models

// VehiclePosition is the published, normalized form of one vehicle report.
// Instances are created fresh each poll cycle and never mutated after
// publication, so readers can hold them without copying.
type VehiclePosition struct {
	ID        string   `json:"id"`
	RouteID   string   `json:"routeId"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Bearing   float64  `json:"bearing"`
	SpeedKPH  *float64 `json:"speedKph,omitempty"`
	UpdatedAt string   `json:"updatedAt"`
	Progress  *float64 `json:"progress,omitempty"`
}
