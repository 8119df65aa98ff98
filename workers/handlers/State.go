package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

func (a *API) State(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, &APIStateResponse{
		Status: "ok",
	}, http.StatusOK)
}

// HealthCheck also verifies the store is reachable.
func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.Ping(); err != nil {
		a.Logger.Warn("health check failed", zap.Error(err))
		responseJSON(w, &APIStateResponse{
			Status:  "error",
			Message: "store unavailable",
		}, http.StatusServiceUnavailable)
		return
	}
	responseJSON(w, &APIStateResponse{
		Status: "ok",
	}, http.StatusOK)
}
