package models

// Coordinate is a WGS84 point in degrees. Lon/Lat ordering follows GeoJSON.
type Coordinate struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}
