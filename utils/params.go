package utils

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"emporium/apperr"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxJSONBody = 1 << 20

// ParseObjectID turns a 24-hex identifier into an ObjectID or a validation error.
func ParseObjectID(raw, field string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, apperr.Validation("Invalid " + field)
	}
	return id, nil
}

// DecodeJSON reads a bounded JSON body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("Request body is required")
		}
		return apperr.Wrap(apperr.KindValidation, "Invalid JSON payload", err)
	}
	return nil
}
