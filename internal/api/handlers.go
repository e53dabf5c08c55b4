package api

import (
	"encoding/json"
	"net/http"

	"github.com/clawinfra/kubeclaw/internal/types"
)

// commandPayload is the request body for the per-tool execute endpoints.
type commandPayload struct {
	Command    string `json:"command"`
	Timeout    int    `json:"timeout,omitempty"`    // seconds
	Credential string `json:"credential,omitempty"` // base64 kubeconfig
}

// resultPayload is the wire form of an execution result.
type resultPayload struct {
	Status        string        `json:"status"`
	Output        string        `json:"output"`
	ExitCode      *int          `json:"exit_code,omitempty"`
	ExecutionTime float64       `json:"execution_time"` // seconds
	Truncated     bool          `json:"truncated"`
	Error         *errorPayload `json:"error,omitempty"`
}

type errorPayload struct {
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func toResultPayload(res *types.ExecutionResult) resultPayload {
	// The wire contract knows only success and error; a timeout is an error
	// with code TimeoutExceeded. The internal three-state status stays as is
	// for the audit log and the engine state machine.
	status := res.Status
	if status == types.StatusTimeout {
		status = types.StatusError
	}
	p := resultPayload{
		Status:        string(status),
		Output:        res.Output,
		ExitCode:      res.ExitCode,
		ExecutionTime: res.Duration.Seconds(),
		Truncated:     res.Truncated,
	}
	if res.Err != nil {
		p.Error = &errorPayload{
			Message: res.Err.Message,
			Code:    string(res.Err.Code),
			Details: res.Err.Details,
		}
	}
	return p
}

// toolHandler builds the execute handler for one tool. A denied or failed
// command is still a 200: the outcome is in the body, HTTP status is reserved
// for transport-level problems.
func (s *Server) toolHandler(tool types.Tool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var payload commandPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if payload.Command == "" {
			writeError(w, http.StatusBadRequest, "command is required")
			return
		}

		res := s.engine.Execute(r.Context(), types.CommandRequest{
			Tool:       tool,
			Command:    payload.Command,
			Timeout:    payload.Timeout,
			Credential: payload.Credential,
		})
		writeJSON(w, http.StatusOK, toResultPayload(res))
	}
}
