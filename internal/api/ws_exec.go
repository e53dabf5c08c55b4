package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/clawinfra/kubeclaw/internal/types"
)

// wsExecRequest is the first frame a streaming client sends.
type wsExecRequest struct {
	Tool       string `json:"tool"`
	Command    string `json:"command"`
	Timeout    int    `json:"timeout,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// wsExecFrame is a server-to-client frame. Output frames carry incremental
// stdout; the final frame carries the full result.
type wsExecFrame struct {
	Type   string         `json:"type"` // "output", "result", "error"
	Data   string         `json:"data,omitempty"`
	Result *resultPayload `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// handleExecWS upgrades to a WebSocket and runs one command, streaming stdout
// as it is produced.
//
// Flow:
//  1. Accept the upgrade.
//  2. Read a single wsExecRequest frame.
//  3. Run the command through the engine with a streaming sink.
//  4. Send the final result frame and close.
func (s *Server) handleExecWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // accept any Origin for dev convenience
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")

	s.logger.Info("ws exec connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	var req wsExecRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		s.logger.Debug("ws read ended", "error", err)
		return
	}
	// The sink runs on the executor's capture goroutine, concurrent with this
	// handler; writes share one mutex.
	var mu sync.Mutex
	if req.Command == "" {
		s.wsSend(ctx, conn, &mu, wsExecFrame{Type: "error", Error: "command is required"})
		return
	}
	sink := func(p []byte) {
		s.wsSend(ctx, conn, &mu, wsExecFrame{Type: "output", Data: string(p)})
	}

	res := s.engine.ExecuteStream(ctx, types.CommandRequest{
		Tool:       types.Tool(req.Tool),
		Command:    req.Command,
		Timeout:    req.Timeout,
		Credential: req.Credential,
	}, sink)

	payload := toResultPayload(res)
	s.wsSend(ctx, conn, &mu, wsExecFrame{Type: "result", Result: &payload})
}

// wsSend writes one frame; errors are logged but not fatal.
func (s *Server) wsSend(ctx context.Context, conn *websocket.Conn, mu *sync.Mutex, frame wsExecFrame) {
	mu.Lock()
	defer mu.Unlock()
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		s.logger.Warn("ws write error", "error", err)
	}
}
