package server

import (
	"encoding/json"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}

func writeAuthExpired(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
		"error":        message,
		"auth_expired": true,
	})
}
