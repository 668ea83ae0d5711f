// Package handlers serves the operator API: inspecting and resetting a
// phone's dialog state, pipeline counters and recorded failures.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// normalizePhone keeps digits only; stores are keyed by the bare number.
func normalizePhone(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, raw)
}
