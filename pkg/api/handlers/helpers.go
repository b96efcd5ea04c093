package handlers

import (
	"net/http"

	"chatsync/pkg/broker"
	"chatsync/pkg/errdefs"
	"chatsync/pkg/fanout"
	"chatsync/pkg/utils"
)

// Deps wires the handler set to the rest of the process.
type Deps struct {
	Hub      *broker.Hub
	Dispatch *fanout.Dispatcher
	// Pagination bounds from config.
	DefaultPageSize int
	MaxPageSize     int
}

func (d *Deps) pageSize(requested int) int {
	if requested <= 0 {
		return d.DefaultPageSize
	}
	if requested > d.MaxPageSize {
		return d.MaxPageSize
	}
	return requested
}

// writeErr maps a taxonomy error onto its HTTP status and a JSON body.
func writeErr(w http.ResponseWriter, err error) {
	code := errdefs.CodeOf(err)
	utils.JSONError(w, errdefs.HTTPStatus(code), err.Error())
}
