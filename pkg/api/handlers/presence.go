package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatrelay/pkg/models"
	"chatrelay/pkg/utils"
)

// RegisterPresence mounts the presence lookup route.
func RegisterPresence(r *mux.Router, deps Deps) {
	r.HandleFunc("/users/{userID}/presence", func(w http.ResponseWriter, req *http.Request) {
		userID := mux.Vars(req)["userID"]
		online, lastSeen := deps.Registry.Presence(userID)
		out := models.UserPresence{UserID: userID, Online: online}
		if !lastSeen.IsZero() {
			out.LastSeen = lastSeen.Unix()
		}
		_ = utils.JSONWrite(w, http.StatusOK, out)
	}).Methods(http.MethodGet)
}
