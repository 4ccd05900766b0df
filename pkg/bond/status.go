package bond

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StreamStatus is the JSON view of one stream served on /streams.
type StreamStatus struct {
	Stream      string     `json:"stream"`
	State       string     `json:"state"`
	Cycles      uint64     `json:"cycles"`
	Entries     uint64     `json:"entries"`
	LastHash    string     `json:"last_hash"`
	PayloadFile string     `json:"payload_file,omitempty"`
	AppendedAt  *time.Time `json:"appended_at,omitempty"`
}

// Handler serves /metrics, /healthz, /streams and /streams/{id}/head.
func (r *Runtime) Handler() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/streams", r.handleStreams).Methods(http.MethodGet)
	router.HandleFunc("/streams/{id}/head", r.handleHead).Methods(http.MethodGet)
	return router
}

func (r *Runtime) handleStreams(w http.ResponseWriter, _ *http.Request) {
	out := make([]StreamStatus, 0, len(r.streams))
	for _, id := range r.streams {
		st, err := r.streamStatus(id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Runtime) handleHead(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if _, ok := r.chains[id]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown stream " + id})
		return
	}
	st, err := r.streamStatus(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (r *Runtime) streamStatus(id string) (StreamStatus, error) {
	chain := r.chains[id]
	hash, err := chain.LastHash()
	if err != nil {
		return StreamStatus{}, err
	}
	st := StreamStatus{Stream: id, LastHash: hash}
	if t, ok := r.tasks[id]; ok {
		st.State = t.State().String()
		st.Cycles = t.Cycles()
	}
	if head, ok := chain.Head(); ok {
		ts := head.Timestamp
		st.Entries = head.Seq
		st.PayloadFile = head.PayloadFile
		st.AppendedAt = &ts
	}
	return st, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
