package utils

import (
	"net/http"

	"emporium/globals"
	"emporium/models"
)

func GetUserIDFromRequest(r *http.Request) string {
	userID, ok := r.Context().Value(globals.UserIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

func GetRoleFromRequest(r *http.Request) string {
	role, ok := r.Context().Value(globals.RoleKey).(string)
	if !ok {
		return ""
	}
	return role
}

// ActorFromRequest reads the caller identity Authenticate stored on r.
func ActorFromRequest(r *http.Request) models.Actor {
	return models.Actor{UserID: GetUserIDFromRequest(r), Role: GetRoleFromRequest(r)}
}
