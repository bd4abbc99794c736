package models

// GeoJSON envelope types for the vehicle snapshot endpoint.

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type       string          `json:"type"`
	Geometry   PointGeometry   `json:"geometry"`
	Properties VehiclePosition `json:"properties"`
}

type PointGeometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewVehicleFeatureCollection wraps a vehicle list as a GeoJSON
// FeatureCollection of points.
func NewVehicleFeatureCollection(vehicles []VehiclePosition) FeatureCollection {
	features := make([]Feature, 0, len(vehicles))
	for _, v := range vehicles {
		features = append(features, Feature{
			Type: "Feature",
			Geometry: PointGeometry{
				Type:        "Point",
				Coordinates: [2]float64{v.Longitude, v.Latitude},
			},
			Properties: v,
		})
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}
