package models

// FeedDiagnostic records the outcome of the last poll attempt against one
// configured feed URL. The slice ordering in a Snapshot follows configured
// feed order.
type FeedDiagnostic struct {
	URL        string `json:"url"`
	OK         bool   `json:"ok"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	// Entities is nil when the payload was never decoded, which is how a
	// transport failure is told apart from a feed that decoded to zero rows.
	Entities *int   `json:"entities,omitempty"`
	Error    string `json:"error,omitempty"`
	At       string `json:"at"`
}

// Snapshot is the currently published vehicle set plus the diagnostics from
// the poll cycle that produced it. Exactly one snapshot is current at any
// instant; swaps are whole-value replacements.
type Snapshot struct {
	Vehicles    []VehiclePosition `json:"vehicles"`
	Diagnostics []FeedDiagnostic  `json:"feeds"`
}

// Status is the operator-visible aggregate, readable independently of the
// vehicle data.
type Status struct {
	RealtimeEnabled bool             `json:"realtimeEnabled"`
	LastFetchAt     string           `json:"lastFetchAt,omitempty"`
	LastFetchError  string           `json:"lastFetchError,omitempty"`
	VehiclesCount   int              `json:"vehiclesCount"`
	RoutesCount     int              `json:"routesCount"`
	StopsCount      int              `json:"stopsCount"`
	Feeds           []FeedDiagnostic `json:"feeds"`
}
