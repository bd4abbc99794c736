package models

// Route is a published transit route with its display metadata and the
// operator supplied shape geometry, pre-resolved to WGS84 coordinates.
type Route struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Mode  string       `json:"mode"`
	Color string       `json:"color"`
	Shape []Coordinate `json:"shape"`
}

// Stop is a stop served by a route.
type Stop struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	RouteID   string  `json:"routeId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
