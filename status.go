package cluster

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// NodeStatus is a point-in-time view of one node.
type NodeStatus struct {
	// Name is the node's configured name.
	Name string `json:"name"`

	// Addr is host:port or the socket path.
	Addr string `json:"addr"`

	// Connected is the cached connected flag.
	Connected bool `json:"connected"`

	// Reconnecting indicates a background reconnect is in flight.
	Reconnecting bool `json:"reconnecting"`

	// NextRetry is the earliest time a background reconnect may start.
	NextRetry time.Time `json:"nextRetry"`
}

// Status is a point-in-time view of a pool.
type Status struct {
	Pool      string       `json:"pool"`
	Nodes     []NodeStatus `json:"nodes"`
	Connected int          `json:"connected"`
}

// Available returns true if at least one node is connected.
func (s Status) Available() bool {
	return s.Connected > 0
}

// nodeStatusJSON is used for custom JSON marshaling.
type nodeStatusJSON struct {
	Name         string `json:"name"`
	Addr         string `json:"addr"`
	Connected    bool   `json:"connected"`
	Reconnecting bool   `json:"reconnecting"`
	NextRetry    string `json:"nextRetry,omitempty"`
}

// MarshalJSON implements json.Marshaler, omitting a zero NextRetry.
func (s NodeStatus) MarshalJSON() ([]byte, error) {
	out := nodeStatusJSON{
		Name:         s.Name,
		Addr:         s.Addr,
		Connected:    s.Connected,
		Reconnecting: s.Reconnecting,
	}
	if !s.NextRetry.IsZero() {
		out.NextRetry = s.NextRetry.UTC().Format(time.RFC3339)
	}
	return json.Marshal(out)
}

// StatusHandler serves the pool status as JSON. It responds 503 when no
// node is connected.
func StatusHandler(p *Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := p.Status()
		data, err := json.Marshal(status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if !status.Available() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write(data)
	})
}
