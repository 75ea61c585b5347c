package utils

import (
	"encoding/json"
	"log"
	"net/http"

	"emporium/apperr"
)

// errorDetail controls whether the underlying error text is sent to clients.
// Off in production.
var errorDetail = true

func SetErrorDetail(on bool) { errorDetail = on }

// Sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// RespondWithError writes {message} with the status carried by err.
func RespondWithError(w http.ResponseWriter, err error) {
	ae := apperr.From(err)
	if ae.Kind == apperr.KindInternal {
		log.Printf("internal error: %v", err)
	}
	resp := map[string]string{"message": ae.Message}
	if errorDetail && ae.Err != nil {
		resp["error"] = ae.Err.Error()
	}
	RespondWithJSON(w, ae.StatusCode(), resp)
}

type M map[string]any
