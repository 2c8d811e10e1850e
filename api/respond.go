// Package api exposes the process engine over HTTP: REST endpoints for
// starting, listing, and cancelling processes, and a websocket upgrade for
// the event stream, styled on the teacher's httpapi/marble handler
// packages (plain net/http + gorilla/mux, a small JSON-response helper
// instead of a heavier framework).
package api

import (
	"encoding/json"
	"net/http"

	hcerrors "github.com/greybox/hackcore/infrastructure/errors"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := hcerrors.GetHTTPStatus(err)
	msg := err.Error()
	if svcErr := hcerrors.GetServiceError(err); svcErr != nil {
		msg = svcErr.Message
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
