package handlers

import (
	"net/http"

	"chatsync/pkg/auth"
	"chatsync/pkg/telemetry"

	"github.com/gorilla/mux"
)

// RegisterStream registers the websocket push endpoint. The session
// auto-subscribes the caller's personal topic; conversation topics are
// attached via subscribe commands on the socket.
func (d *Deps) RegisterStream(r *mux.Router) {
	r.HandleFunc("/stream", d.stream).Methods(http.MethodGet)
}

func (d *Deps) stream(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"missing identity"}`, http.StatusUnauthorized)
		return
	}
	d.Hub.ServeWS(w, r, caller.ID, telemetry.StreamOpened, telemetry.StreamClosed)
}
