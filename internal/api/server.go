// Package api is the operator surface: a plain HTTP server exposing
// signal reads and writes, engine lifecycle control, the event log,
// metrics, and live WebSocket streams.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/relogix/scand/internal/bus"
	"github.com/relogix/scand/internal/engine"
	"github.com/relogix/scand/internal/events"
	"github.com/relogix/scand/internal/value"
)

// eng is the engine under control, set once at startup before the server
// starts listening.
var eng *engine.Engine

// SetEngine wires the API to the running engine.
func SetEngine(e *engine.Engine) {
	eng = e
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	State     string `json:"state"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	state := "unknown"
	if eng != nil {
		state = eng.State().String()
	}
	resp := HealthResponse{
		Status:    "ok",
		Service:   "scand",
		State:     state,
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events.Snapshot())
}

// SignalResponse is one signal's snapshot on the wire.
type SignalResponse struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Value     any    `json:"value"`
	Revision  uint64 `json:"revision"`
	UpdatedAt string `json:"updated_at"`
}

func signalResponse(s bus.Signal) SignalResponse {
	return SignalResponse{
		Name:      s.Name,
		Type:      s.Kind.String(),
		Value:     s.Value.Interface(),
		Revision:  s.Revision,
		UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func signalsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	all := eng.Bus().GetAll()
	out := make([]SignalResponse, 0, len(all))
	for _, s := range all {
		out = append(out, signalResponse(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	_ = json.NewEncoder(w).Encode(out)
}

type writeRequest struct {
	Value any `json:"value"`
}

type opResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(opResponse{OK: false, Error: msg})
}

// signalHandler serves GET and POST on /api/signals/{name}. Writes are
// rejected for block-driven signals: the scan loop is their only writer.
func signalHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	name := strings.TrimPrefix(r.URL.Path, "/api/signals/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, "no such signal")
		return
	}

	b := eng.Bus()
	switch r.Method {
	case http.MethodGet:
		s, ok := b.Lookup(name)
		if !ok {
			writeError(w, http.StatusNotFound, "no such signal")
			return
		}
		_ = json.NewEncoder(w).Encode(signalResponse(s))

	case http.MethodPost:
		if writer, driven := eng.Config().BlockWriters()[name]; driven {
			writeError(w, http.StatusConflict,
				fmt.Sprintf("signal is written by block %q", writer))
			return
		}
		kind, ok := b.Kind(name)
		if !ok {
			writeError(w, http.StatusNotFound, "no such signal")
			return
		}

		var req writeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		v, err := value.FromInterface(kind, req.Value)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := b.Set(name, v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		events.Emit("info", "signal.changed", "operator write", map[string]any{
			"signal": name,
			"value":  v.Interface(),
		})
		_ = json.NewEncoder(w).Encode(opResponse{OK: true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// EngineResponse describes the engine for GET /api/engine.
type EngineResponse struct {
	State   string                 `json:"state"`
	Layers  [][]string             `json:"layers"`
	Metrics engine.MetricsSnapshot `json:"metrics"`
}

func engineHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(EngineResponse{
		State:   eng.State().String(),
		Layers:  eng.Plan().Layers,
		Metrics: eng.Metrics().Snapshot(),
	})
}

// engineCommandHandler maps POST /api/engine/{pause,resume,stop} onto the
// engine lifecycle. Invalid transitions come back as 409.
func engineCommandHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cmd := strings.TrimPrefix(r.URL.Path, "/api/engine/")
	var err error
	switch cmd {
	case "pause":
		err = eng.Pause()
	case "resume":
		err = eng.Resume()
	case "stop":
		err = eng.Stop()
	default:
		writeError(w, http.StatusNotFound, "unknown command")
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	events.Emit("info", "operator.command", cmd, nil)
	_ = json.NewEncoder(w).Encode(opResponse{OK: true})
}

func metricsJSONHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(eng.Metrics().Snapshot())
}

// NewMux builds the route table. Split from ListenAndServe so tests can
// drive the handlers through httptest.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", uiHandler)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/metrics", metricsHandler)
	mux.HandleFunc("/api/events", eventsHandler)
	mux.HandleFunc("/api/signals", signalsHandler)
	mux.HandleFunc("/api/signals/", signalHandler)
	mux.HandleFunc("/api/engine", engineHandler)
	mux.HandleFunc("/api/engine/", engineCommandHandler)
	mux.HandleFunc("/api/metrics", metricsJSONHandler)
	mux.HandleFunc("/ws/events", wsEventsHandler)
	mux.HandleFunc("/ws/signals", wsSignalsHandler)
	return mux
}

// ListenAndServe starts the API server on the given port and blocks
// until the server exits. Serves TLS when certificates are configured.
func ListenAndServe(port int) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:      addr,
		Handler:   NewMux(),
		TLSConfig: LoadTLSConfig(),
	}
	if IsTLSEnabled() {
		log.Printf("API listening on %s (TLS)", addr)
		return srv.ListenAndServeTLS(tlsConfig.CertFile, tlsConfig.KeyFile)
	}
	log.Printf("API listening on %s", addr)
	return srv.ListenAndServe()
}

// Start starts the API server in a goroutine.
// Errors are logged but do not stop the caller.
func Start(port int) {
	go func() {
		if err := ListenAndServe(port); err != nil {
			log.Printf("api server error: %v", err)
		}
	}()
}
