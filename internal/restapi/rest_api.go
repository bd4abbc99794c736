package restapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"transitscope.dev/internal/app"
)

// RestAPI wires the HTTP surface over the shared application state.
type RestAPI struct {
	*app.Application
}

// NewRestAPI creates a new RestAPI instance.
func NewRestAPI(app *app.Application) *RestAPI {
	return &RestAPI{Application: app}
}

// Routes builds the full handler tree with request logging applied.
func (api *RestAPI) Routes() http.Handler {
	router := httprouter.New()

	router.HandlerFunc(http.MethodGet, "/health", api.healthHandler)
	router.HandlerFunc(http.MethodGet, "/api/status", api.statusHandler)
	router.HandlerFunc(http.MethodGet, "/api/routes", api.routesHandler)
	router.HandlerFunc(http.MethodGet, "/api/routes/:id", api.routeHandler)
	router.HandlerFunc(http.MethodGet, "/api/stops", api.stopsHandler)
	router.HandlerFunc(http.MethodGet, "/api/vehicles", api.vehiclesHandler)
	router.HandlerFunc(http.MethodGet, "/api/vehicles.geojson", api.vehiclesGeoJSONHandler)
	router.HandlerFunc(http.MethodGet, "/live", api.liveHandler)

	if api.Metrics != nil {
		router.Handler(http.MethodGet, "/metrics", api.Metrics.Handler())
	}

	return NewRequestLoggingMiddleware(api.Logger)(router)
}
