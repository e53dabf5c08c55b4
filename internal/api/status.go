package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/kubeclaw/internal/executor"
	"github.com/clawinfra/kubeclaw/internal/parser"
	"github.com/clawinfra/kubeclaw/internal/types"
)

const probeTimeout = 10 * time.Second

// toolStatus is the probe result for one tool.
type toolStatus struct {
	Tool      string `json:"tool"`
	Binary    string `json:"binary"`
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleToolStatus probes every configured tool's version command in
// parallel and reports availability.
func (s *Server) handleToolStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p := s.engine.Policy()
	statuses := make([]toolStatus, 0, len(p.Tools))
	for tool := range p.Tools {
		statuses = append(statuses, toolStatus{Tool: string(tool)})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Tool < statuses[j].Tool })

	g, ctx := errgroup.WithContext(r.Context())
	for i := range statuses {
		st := &statuses[i]
		spec := p.Tools[types.Tool(st.Tool)]
		st.Binary = spec.Binary
		g.Go(func() error {
			argv := append([]string{spec.Binary}, spec.CheckArgs...)
			res := s.exec.Run(ctx, []parser.Stage{{Argv: argv}}, executor.Options{
				Timeout:        probeTimeout,
				MaxOutputBytes: 4096,
			})
			if res.Status == types.StatusSuccess {
				st.Available = true
				st.Version = firstProbeLine(res.Output)
			} else if res.Err != nil {
				st.Error = res.Err.Message
			} else {
				st.Error = strings.TrimSpace(res.Stderr)
			}
			return nil
		})
	}
	g.Wait()

	writeJSON(w, http.StatusOK, map[string]any{"tools": statuses})
}

func firstProbeLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	return out
}
