package restapi

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"transitscope.dev/internal/models"
)

func (api *RestAPI) healthHandler(w http.ResponseWriter, r *http.Request) {
	api.sendJSON(w, r, map[string]string{"status": "ok", "env": api.Config.Env})
}

func (api *RestAPI) statusHandler(w http.ResponseWriter, r *http.Request) {
	api.sendJSON(w, r, api.Cache.Status())
}

func (api *RestAPI) routesHandler(w http.ResponseWriter, r *http.Request) {
	routes := api.Static.Routes
	if routes == nil {
		routes = []models.Route{}
	}
	api.sendJSON(w, r, routes)
}

func (api *RestAPI) routeHandler(w http.ResponseWriter, r *http.Request) {
	id := httprouter.ParamsFromContext(r.Context()).ByName("id")
	for _, route := range api.Static.Routes {
		if route.ID == id {
			api.sendJSON(w, r, route)
			return
		}
	}
	api.sendNotFound(w, r, "route not found")
}

func (api *RestAPI) stopsHandler(w http.ResponseWriter, r *http.Request) {
	routeFilter := r.URL.Query().Get("route")
	stops := make([]models.Stop, 0, len(api.Static.Stops))
	for _, stop := range api.Static.Stops {
		if routeFilter != "" && stop.RouteID != routeFilter {
			continue
		}
		stops = append(stops, stop)
	}
	api.sendJSON(w, r, stops)
}

func (api *RestAPI) vehiclesHandler(w http.ResponseWriter, r *http.Request) {
	snap := api.Cache.Get()
	if routeFilter := r.URL.Query().Get("route"); routeFilter != "" {
		filtered := make([]models.VehiclePosition, 0, len(snap.Vehicles))
		for _, v := range snap.Vehicles {
			if v.RouteID == routeFilter {
				filtered = append(filtered, v)
			}
		}
		snap.Vehicles = filtered
	}
	if snap.Vehicles == nil {
		snap.Vehicles = []models.VehiclePosition{}
	}
	api.sendJSON(w, r, snap)
}

func (api *RestAPI) vehiclesGeoJSONHandler(w http.ResponseWriter, r *http.Request) {
	api.sendJSON(w, r, models.NewVehicleFeatureCollection(api.Cache.Get().Vehicles))
}
