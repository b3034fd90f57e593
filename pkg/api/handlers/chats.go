// Package handlers holds the REST route groups. Each Register function
// mounts one resource family on the versioned subrouter.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/call"
	"chatrelay/pkg/models"
	"chatrelay/pkg/presence"
	"chatrelay/pkg/store"
	"chatrelay/pkg/utils"
)

// Deps carries the live components the handlers read from.
type Deps struct {
	Registry *presence.Registry
	Relay    *call.Relay
}

// RegisterChats mounts chat history and summary routes.
func RegisterChats(r *mux.Router, deps Deps) {
	r.HandleFunc("/chats/{chatID}/messages", listChatMessages).Methods(http.MethodGet)
	r.HandleFunc("/users/{userID}/chats", listUserChats).Methods(http.MethodGet)
}

// listChatMessages handles GET /v1/chats/{chatID}/messages. Optional
// "limit" returns only the newest n messages. When the caller is
// identified, messages they deleted for themselves are hidden, same as
// the websocket history; anonymous requests get the unfiltered
// operator view.
func listChatMessages(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chatID"]

	limit := 0
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		n, err := strconv.Atoi(limStr)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var (
		msgs []models.Message
		err  error
	)
	if limit > 0 {
		msgs, err = store.ListChatMessages(chatID, limit)
	} else {
		msgs, err = store.ListChatMessages(chatID)
	}
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if userID := auth.UserIDFromContext(r.Context()); userID != "" {
		out := msgs[:0]
		for _, m := range msgs {
			if m.DeletedForUser(userID) && !m.DeletedForEveryone() {
				continue
			}
			out = append(out, m)
		}
		msgs = out
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ChatID   string           `json:"chat_id"`
		Messages []models.Message `json:"messages"`
	}{ChatID: chatID, Messages: msgs})
}

// listUserChats handles GET /v1/users/{userID}/chats and returns the
// user's chat summaries, newest activity first.
func listUserChats(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	sums, err := store.ListSummaries(userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sums == nil {
		sums = []models.ChatSummary{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		UserID string               `json:"user_id"`
		Chats  []models.ChatSummary `json:"chats"`
	}{UserID: userID, Chats: sums})
}
