package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"chatsync/pkg/auth"
	"chatsync/pkg/errdefs"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/utils"
	"chatsync/pkg/validation"

	"github.com/gorilla/mux"
)

// RegisterMessages registers HTTP handlers for message-related endpoints.
func (d *Deps) RegisterMessages(r *mux.Router) {
	r.HandleFunc("/conversations/{id}/messages", d.listPage).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/messages", d.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}", d.editMessage).Methods(http.MethodPut)
	r.HandleFunc("/messages/{id}", d.deleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/versions", d.listVersions).Methods(http.MethodGet)
}

func (d *Deps) sendMessage(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.UserFromContext(r.Context())
	convID := mux.Vars(r)["id"]
	var body struct {
		Text     string `json:"text"`
		ClientID string `json:"clientId"`
		ReplyTo  string `json:"replyTo,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m := models.Message{
		Conversation: convID,
		Author:       caller.ID,
		Text:         body.Text,
		ClientID:     body.ClientID,
		ReplyTo:      body.ReplyTo,
	}
	if err := validation.ValidateMessage(m); err != nil {
		writeErr(w, err)
		return
	}
	// guard membership before the provisional broadcast so a non-member
	// send never reaches the conversation topic
	c, err := store.GetConversation(convID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !c.HasMember(caller.ID) {
		writeErr(w, errdefs.Forbidden("author is not a member"))
		return
	}

	// stage one: provisional broadcast before persistence for minimal
	// perceived latency; an orphan (persist then failing) is tolerated
	// and reconciled away client-side
	prov := m
	prov.ID = utils.GenProvisionalID()
	d.Dispatch.SendProvisional(prov)

	saved, err := store.CreateMessage(convID, caller.ID, body.ClientID, body.Text, body.ReplyTo)
	if err != nil {
		writeErr(w, err)
		return
	}
	telemetry.MessageCreated()

	// stage two: authoritative record after the commit
	if cc, gerr := store.GetConversation(convID); gerr == nil {
		c = cc
	}
	d.Dispatch.SendFinal(saved, c)
	logger.Info("message_created", "conv", convID, "id", saved.ID)
	_ = utils.JSONWrite(w, http.StatusCreated, saved)
}

func (d *Deps) listPage(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.UserFromContext(r.Context())
	convID := mux.Vars(r)["id"]

	c, err := store.GetConversation(convID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !c.HasMember(caller.ID) {
		writeErr(w, errdefs.Forbidden("caller is not a member"))
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, perr := strconv.Atoi(s); perr == nil {
			limit = n
		}
	}
	cursor := r.URL.Query().Get("cursor")
	if r.URL.Query().Get("resync") == "1" {
		telemetry.ResyncServed()
	}

	page, err := store.ListMessagesPage(convID, d.pageSize(limit), cursor)
	if err != nil {
		writeErr(w, err)
		return
	}
	logger.Debug("messages_page", "conv", convID, "count", len(page.Items), "cursor", cursor)
	_ = utils.JSONWrite(w, http.StatusOK, page)
}

func (d *Deps) editMessage(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.UserFromContext(r.Context())
	msgID := mux.Vars(r)["id"]
	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateSendText(body.Text); err != nil {
		writeErr(w, err)
		return
	}
	m, err := store.EditMessage(msgID, caller.ID, body.Text)
	if err != nil {
		writeErr(w, err)
		return
	}
	if c, gerr := store.GetConversation(m.Conversation); gerr == nil {
		d.Dispatch.MessageEdited(m, c)
	} else {
		d.Dispatch.MessageEdited(m, models.Conversation{ID: m.Conversation})
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func (d *Deps) deleteMessage(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.UserFromContext(r.Context())
	msgID := mux.Vars(r)["id"]
	m, err := store.DeleteMessage(msgID, caller.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if c, gerr := store.GetConversation(m.Conversation); gerr == nil {
		d.Dispatch.MessageDeleted(m, c)
	} else {
		d.Dispatch.MessageDeleted(m, models.Conversation{ID: m.Conversation})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d *Deps) listVersions(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.UserFromContext(r.Context())
	msgID := mux.Vars(r)["id"]

	m, err := store.GetLatestMessage(msgID)
	if err != nil {
		writeErr(w, err)
		return
	}
	c, err := store.GetConversation(m.Conversation)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !c.HasMember(caller.ID) {
		writeErr(w, errdefs.Forbidden("caller is not a member"))
		return
	}

	vs, err := store.ListMessageVersions(msgID)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		ID       string           `json:"id"`
		Versions []models.Message `json:"versions"`
	}{ID: msgID, Versions: vs})
}
