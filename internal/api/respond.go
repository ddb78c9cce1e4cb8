package api

import (
	"encoding/json"
	"net/http"
)

func sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// Helper functions for consistent JSON error responses
func sendJSONError(w http.ResponseWriter, statusCode int, message string) {
	sendJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func sendMethodNotAllowed(w http.ResponseWriter) {
	sendJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func sendBadRequest(w http.ResponseWriter, message string) {
	sendJSONError(w, http.StatusBadRequest, message)
}

func sendUnauthorized(w http.ResponseWriter, message string) {
	sendJSONError(w, http.StatusUnauthorized, message)
}

func sendInternalError(w http.ResponseWriter, message string) {
	sendJSONError(w, http.StatusInternalServerError, message)
}

func sendNotFound(w http.ResponseWriter, message string) {
	sendJSONError(w, http.StatusNotFound, message)
}
