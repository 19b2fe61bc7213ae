package httpserver

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		// Migration is set when the error concerns a single migration.
		Migration string `json:"migration,omitempty"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeMigrationError(w, status, code, message, "")
}

func writeMigrationError(w http.ResponseWriter, status int, code, message, migration string) {
	body := errorBody{}
	body.Error.Code = code
	body.Error.Message = message
	body.Error.Migration = migration
	writeJSON(w, status, body)
}
