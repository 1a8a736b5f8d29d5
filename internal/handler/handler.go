package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"routerctl/internal/dispatch"
	"routerctl/internal/session"
)

// maxBodySize bounds a tool argument bag
const maxBodySize = 1 << 20

// Dispatcher runs tools. *dispatch.Server implements it.
type Dispatcher interface {
	Tools() []dispatch.Tool
	Lookup(name string) (*dispatch.Tool, bool)
	Call(ctx context.Context, name string, args dispatch.Args) dispatch.Result
	Connections() []session.Info
}

// ToolHandler serves the tool API.
type ToolHandler struct {
	dispatcher Dispatcher
}

// NewToolHandler creates a new tool handler
func NewToolHandler(d Dispatcher) *ToolHandler {
	return &ToolHandler{dispatcher: d}
}

// ErrorResponse is the body of a request rejected before dispatch.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// toolInfo is one catalog entry as served
type toolInfo struct {
	dispatch.Tool
	InputSchema map[string]any `json:"input_schema"`
}

// ListTools returns the catalog
func (h *ToolHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	tools := h.dispatcher.Tools()
	infos := make([]toolInfo, 0, len(tools))
	for _, t := range tools {
		infos = append(infos, toolInfo{Tool: t, InputSchema: t.InputSchema()})
	}
	writeJSON(w, infos, http.StatusOK)
}

// CallTool runs the tool named in the path with the JSON body as arguments
func (h *ToolHandler) CallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := h.dispatcher.Lookup(name); !ok {
		writeError(w, "Unknown tool", name, http.StatusNotFound)
		return
	}

	args := dispatch.Args{}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, h.dispatcher.Call(r.Context(), name, args), http.StatusOK)
}

// ListConnections returns the live sessions
func (h *ToolHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.dispatcher.Connections(), http.StatusOK)
}

// Health answers liveness probes
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// Routes builds the complete HTTP handler, middleware included. The
// metrics and events handlers are optional.
func Routes(d Dispatcher, metrics, events http.Handler) http.Handler {
	h := NewToolHandler(d)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tools", h.ListTools)
	mux.HandleFunc("POST /api/tools/{name}", h.CallTool)
	mux.HandleFunc("GET /api/connections", h.ListConnections)
	mux.HandleFunc("GET /healthz", Health)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	if events != nil {
		mux.Handle("GET /api/events", events)
	}

	return Chain(mux, Recover, Logger)
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("Failed to encode JSON")
	}
}

func writeError(w http.ResponseWriter, error, details string, statusCode int) {
	writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}
