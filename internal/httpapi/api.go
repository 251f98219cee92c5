// Package httpapi exposes the REST collaborators of the messaging core:
// paginated history, directory snapshots, and fallback send/reaction/delete
// paths that mirror the WebSocket events. History endpoints return
// newest-first; clients reverse for oldest-first display.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/converse/messaging/internal/metrics"
	"github.com/converse/messaging/internal/presence"
	"github.com/converse/messaging/internal/protocol"
	"github.com/converse/messaging/internal/router"
	"github.com/converse/messaging/internal/store"
)

// DefaultPageSize is the number of messages returned when the caller does
// not specify take. Hard-capped to MaxPageSize.
const (
	DefaultPageSize = 30
	MaxPageSize     = 100
)

// API bundles the handlers with their collaborators.
type API struct {
	store    *store.Store
	router   *router.Router
	presence *presence.Store
}

// New creates the REST API over the given collaborators.
func New(st *store.Store, rt *router.Router, pr *presence.Store) *API {
	return &API{store: st, router: rt, presence: pr}
}

// Routes builds the HTTP router with all endpoints registered.
func (a *API) Routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/rooms/{roomID}/messages", a.handleRoomHistory).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}/messages", a.handleRoomSend).Methods(http.MethodPost)
	r.HandleFunc("/dm/{userA}/{userB}/messages", a.handleDirectHistory).Methods(http.MethodGet)
	r.HandleFunc("/dm", a.handleDirectSend).Methods(http.MethodPost)
	r.HandleFunc("/users/{userID}/rooms", a.handleUserRooms).Methods(http.MethodGet)
	r.HandleFunc("/users/{userID}/conversations", a.handleDirectConversations).Methods(http.MethodGet)
	r.HandleFunc("/reactions/toggle", a.handleReactionToggle).Methods(http.MethodPost)
	r.HandleFunc("/messages/{kind}/{id}", a.handleMessageDelete).Methods(http.MethodDelete)
	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

type historyResponse struct {
	Messages []protocol.Message `json:"messages"` // newest first
	HasMore  bool               `json:"has_more"`
}

func (a *API) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]
	skip, take := pageParams(r)

	exists, err := a.store.RoomExists(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "room_not_found", errors.New("room not found"))
		return
	}

	msgs, err := a.store.ListRoomMessages(r.Context(), roomID, skip, take)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Messages: msgs,
		HasMore:  len(msgs) == take,
	})
}

func (a *API) handleDirectHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	skip, take := pageParams(r)

	msgs, err := a.store.ListDirectMessages(r.Context(), vars["userA"], vars["userB"], skip, take)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Messages: msgs,
		HasMore:  len(msgs) == take,
	})
}

// ---------------------------------------------------------------------------
// Fallback send paths (same semantics and fan-out as the socket events)
// ---------------------------------------------------------------------------

type sendRequest struct {
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	RecipientID string `json:"recipient_id"` // dm only
	Content     string `json:"content"`
	TempID      string `json:"temp_id"`
}

func (a *API) handleRoomSend(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomID"]

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err)
		return
	}

	msg, err := a.router.SendGroup(r.Context(), req.SenderID, req.SenderName, roomID, req.Content, req.TempID)
	if err != nil {
		writeRouterError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) handleDirectSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err)
		return
	}

	msg, err := a.router.SendDirect(r.Context(), req.SenderID, req.SenderName, req.RecipientID, req.Content, req.TempID)
	if err != nil {
		writeRouterError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ---------------------------------------------------------------------------
// Directory snapshots
// ---------------------------------------------------------------------------

func (a *API) handleUserRooms(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	rooms, err := a.store.UserRooms(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

type directConversationEntry struct {
	store.DirectConversation
	IsOnline bool  `json:"is_online"`
	LastSeen int64 `json:"last_seen,omitempty"`
}

func (a *API) handleDirectConversations(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	convs, err := a.store.DirectConversations(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}

	entries := make([]directConversationEntry, len(convs))
	peers := make([]string, len(convs))
	for i, c := range convs {
		entries[i] = directConversationEntry{DirectConversation: c}
		peers[i] = c.PeerID
	}

	// Presence is best effort: a Redis outage degrades to offline flags,
	// not a failed snapshot.
	if statuses, err := a.presence.GetMany(r.Context(), peers); err == nil {
		for i := range entries {
			st := statuses[entries[i].PeerID]
			entries[i].IsOnline = st.Online
			entries[i].LastSeen = st.LastSeen
		}
	} else {
		log.Printf("[httpapi] presence lookup failed for %s: %v", userID, err)
	}

	writeJSON(w, http.StatusOK, entries)
}

// ---------------------------------------------------------------------------
// Reactions and deletes
// ---------------------------------------------------------------------------

type reactionToggleRequest struct {
	UserID          string `json:"user_id"`
	Emoji           string `json:"emoji"`
	GroupMessageID  int64  `json:"group_message_id,omitempty"`
	DirectMessageID int64  `json:"direct_message_id,omitempty"`
}

func (a *API) handleReactionToggle(w http.ResponseWriter, r *http.Request) {
	var req reactionToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", err)
		return
	}

	kind, messageID := reactionTarget(req.GroupMessageID, req.DirectMessageID)
	set, err := a.router.ToggleReaction(r.Context(), req.UserID, req.Emoji, kind, messageID)
	if err != nil {
		writeRouterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reactions": set})
}

func (a *API) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_id", err)
		return
	}
	userID := r.URL.Query().Get("userId")

	if err := a.router.Delete(r.Context(), userID, vars["kind"], id); err != nil {
		writeRouterError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Health and helpers
// ---------------------------------------------------------------------------

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.store.DB().PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// reactionTarget resolves which message table a toggle addresses. Exactly
// one of the two ids should be set; the group id wins if both are.
func reactionTarget(groupID, directID int64) (string, int64) {
	if groupID > 0 {
		return protocol.KindGroup, groupID
	}
	return protocol.KindDirect, directID
}

func pageParams(r *http.Request) (skip, take int) {
	skip, _ = strconv.Atoi(r.URL.Query().Get("skip"))
	if skip < 0 {
		skip = 0
	}
	take, err := strconv.Atoi(r.URL.Query().Get("take"))
	if err != nil || take <= 0 {
		take = DefaultPageSize
	}
	if take > MaxPageSize {
		take = MaxPageSize
	}
	return skip, take
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	if status >= 500 {
		log.Printf("[httpapi] %s: %v", code, err)
	}
	writeJSON(w, status, map[string]string{"error": code, "message": err.Error()})
}

// writeRouterError maps the router's error taxonomy onto HTTP statuses.
func writeRouterError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, router.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation", err)
	case errors.Is(err, router.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, router.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
