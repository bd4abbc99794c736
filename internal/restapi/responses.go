package restapi

import (
	"encoding/json"
	"net/http"

	"transitscope.dev/internal/logging"
)

func (api *RestAPI) sendJSON(w http.ResponseWriter, r *http.Request, payload any) {
	setJSONResponseType(&w)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		api.serverErrorResponse(w, r, err)
	}
}

func (api *RestAPI) sendNotFound(w http.ResponseWriter, _ *http.Request, message string) {
	setJSONResponseType(&w)
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (api *RestAPI) serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	logging.LogError(logging.FromContext(r.Context()), "request failed", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func setJSONResponseType(w *http.ResponseWriter) {
	(*w).Header().Set("Content-Type", "application/json")
}
