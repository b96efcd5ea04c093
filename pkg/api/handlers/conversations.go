package handlers

import (
	"encoding/json"
	"net/http"

	"chatsync/pkg/auth"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/utils"
	"chatsync/pkg/validation"

	"github.com/gorilla/mux"
)

// RegisterConversations registers HTTP handlers for conversation-level
// endpoints.
func (d *Deps) RegisterConversations(r *mux.Router) {
	r.HandleFunc("/conversations", d.listRooms).Methods(http.MethodGet)
	r.HandleFunc("/conversations", d.createGroup).Methods(http.MethodPost)
	r.HandleFunc("/conversations/direct", d.getOrCreateDirect).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}", d.renameGroup).Methods(http.MethodPatch)
	r.HandleFunc("/conversations/{id}/members", d.addMember).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/members/{userID}", d.removeMember).Methods(http.MethodDelete)
}

func (d *Deps) listRooms(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.UserFromContext(r.Context())
	rooms, err := store.ListRooms(caller.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if rooms == nil {
		rooms = []models.Conversation{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Rooms []models.Conversation `json:"rooms"`
	}{Rooms: rooms})
}

func (d *Deps) getOrCreateDirect(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.UserFromContext(r.Context())
	var body struct {
		PeerID string `json:"peerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PeerID == "" {
		utils.JSONError(w, http.StatusBadRequest, "peerId is required")
		return
	}
	c, created, err := store.GetOrCreateDirect(caller.ID, body.PeerID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if created {
		d.Dispatch.RoomAdded(c, c.Members)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	logger.Info("direct_conversation", "conv", c.ID, "created", created)
	_ = utils.JSONWrite(w, status, c)
}

func (d *Deps) createGroup(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.UserFromContext(r.Context())
	var body struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateGroupName(body.Name); err != nil {
		writeErr(w, err)
		return
	}
	c, err := store.CreateGroup(body.Name, caller.ID, body.Members)
	if err != nil {
		writeErr(w, err)
		return
	}
	d.Dispatch.RoomAdded(c, c.Members)
	_ = utils.JSONWrite(w, http.StatusCreated, c)
}

func (d *Deps) renameGroup(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.UserFromContext(r.Context())
	convID := mux.Vars(r)["id"]
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateGroupName(body.Name); err != nil {
		writeErr(w, err)
		return
	}
	c, err := store.Rename(convID, caller.ID, body.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	d.Dispatch.RoomRenamed(c)
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

func (d *Deps) addMember(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.UserFromContext(r.Context())
	convID := mux.Vars(r)["id"]
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		utils.JSONError(w, http.StatusBadRequest, "userId is required")
		return
	}
	c, err := store.AddMember(convID, caller.ID, body.UserID)
	if err != nil {
		writeErr(w, err)
		return
	}
	// the new member gets room-added; everyone else a membership update
	d.Dispatch.RoomAdded(c, []string{body.UserID})
	d.Dispatch.RoomMembersUpdated(c)
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

func (d *Deps) removeMember(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.UserFromContext(r.Context())
	vars := mux.Vars(r)
	convID := vars["id"]
	userID := vars["userID"]
	c, destroyed, err := store.RemoveMember(convID, caller.ID, userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	d.Dispatch.RoomRemoved(c, []string{userID})
	if !destroyed {
		d.Dispatch.RoomMembersUpdated(c)
	}
	w.WriteHeader(http.StatusNoContent)
}
