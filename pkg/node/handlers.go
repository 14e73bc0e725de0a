package node

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ryandielhenn/zephyrdht/internal/telemetry"
	"github.com/ryandielhenn/zephyrdht/pkg/krpc"
)

// Healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes a JSON payload with the process ID, this node and how many
// peers it has heard from.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID   int       `json:"pid"`
		Now   time.Time `json:"now"`
		ID    string    `json:"id"`
		Addr  string    `json:"addr"`
		Nodes int       `json:"seen_nodes"`
	}
	writeJSON(w, resp{
		PID:   os.Getpid(),
		Now:   time.Now(),
		ID:    n.self.ID.String(),
		Addr:  n.self.Addr.String(),
		Nodes: n.seen.Len(),
	})
}

type peer struct {
	ID      string    `json:"id"`
	Addr    string    `json:"addr"`
	HeardAt time.Time `json:"heard_at"`
}

// Peers lists the recently heard nodes, most recent first.
func (n *Node) Peers(w http.ResponseWriter, _ *http.Request) {
	entries := n.seen.All()
	out := make([]peer, 0, len(entries))
	for _, e := range entries {
		out = append(out, peer{ID: e.Node.ID.String(), Addr: e.Node.Addr.String(), HeardAt: e.HeardAt})
	}
	writeJSON(w, out)
}

// ForgetPeer handles DELETE /peers/<hex id>: every cached address heard
// under that id is dropped.
func (n *Node) ForgetPeer(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodDelete {
		w.Header().Set("Allow", http.MethodDelete)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := krpc.ParseNodeID(strings.TrimPrefix(req.URL.Path, "/peers/"))
	if err != nil {
		http.Error(w, "invalid node id", http.StatusBadRequest)
		return
	}

	removed := 0
	for {
		e, ok := n.seen.Get(id)
		if !ok || !n.seen.Forget(e.Node) {
			break
		}
		removed++
	}
	if removed == 0 {
		http.NotFound(w, req)
		return
	}
	telemetry.SeenNodes.Set(float64(n.seen.Len()))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
