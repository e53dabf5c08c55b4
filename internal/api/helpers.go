package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/clawinfra/kubeclaw/internal/audit"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func parseLimit(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 1000 {
		return 0, fmt.Errorf("limit must be an integer between 1 and 1000")
	}
	return n, nil
}

// auditEntryPayload is the wire form of an audit entry.
type auditEntryPayload struct {
	ID         string `json:"id"`
	Tool       string `json:"tool"`
	Command    string `json:"command"`
	Status     string `json:"status"`
	Code       string `json:"code,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
}

func toAuditPayload(entries []audit.Entry) []auditEntryPayload {
	out := make([]auditEntryPayload, len(entries))
	for i, e := range entries {
		out[i] = auditEntryPayload{
			ID:         e.ID,
			Tool:       e.Tool,
			Command:    e.Command,
			Status:     e.Status,
			Code:       e.Code,
			ExitCode:   e.ExitCode,
			DurationMs: e.DurationMs,
			CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return out
}
