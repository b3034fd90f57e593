// Package api exposes the read-side REST surface next to the websocket
// gateway: chat history, summaries and presence for bootstrapping
// clients, plus operator endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatrelay/pkg/api/handlers"
	"chatrelay/pkg/store"
)

// Deps carries the live components the REST handlers read from.
type Deps = handlers.Deps

// Router assembles the versioned REST router. The websocket endpoint
// and /metrics are mounted by the app, not here.
func Router(deps Deps) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyz).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterChats(v1, deps)
	handlers.RegisterPresence(v1, deps)
	handlers.RegisterAdmin(v1, deps)
	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !store.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
