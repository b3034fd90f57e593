package handlers

import (
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"chatrelay/pkg/store"
	"chatrelay/pkg/utils"
)

// RegisterAdmin mounts operator endpoints. Deployments expose these on
// an internal listener or gate them at the fronting proxy.
func RegisterAdmin(r *mux.Router, deps Deps) {
	admin := r.PathPrefix("/admin").Subrouter()

	admin.HandleFunc("/stats", func(w http.ResponseWriter, req *http.Request) {
		st := store.GetStats()
		_ = utils.JSONWrite(w, http.StatusOK, struct {
			Store       store.Stats `json:"store"`
			OnlineUsers int         `json:"online_users"`
			ActiveCalls int         `json:"active_calls"`
		}{Store: st, OnlineUsers: deps.Registry.OnlineCount(), ActiveCalls: deps.Relay.ActiveCount()})
	}).Methods(http.MethodGet)

	admin.HandleFunc("/keys", func(w http.ResponseWriter, req *http.Request) {
		// prefixes arrive URL-encoded, "mailbox%3Au1%3A"
		prefix, err := url.QueryUnescape(req.URL.Query().Get("prefix"))
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid prefix")
			return
		}
		keys, err := store.ListKeys(prefix)
		if err != nil {
			utils.JSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, struct {
			Prefix string   `json:"prefix"`
			Keys   []string `json:"keys"`
		}{Prefix: prefix, Keys: keys})
	}).Methods(http.MethodGet)
}
