// Package mcp serves the tool catalog over newline-delimited JSON-RPC 2.0
// on a byte stream, normally stdin and stdout.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"routerctl/internal/dispatch"
)

// ProtocolVersion is the protocol revision announced by initialize.
const ProtocolVersion = "2024-11-05"

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

const maxLineSize = 4 << 20

// Dispatcher runs tools. *dispatch.Server implements it.
type Dispatcher interface {
	Tools() []dispatch.Tool
	Call(ctx context.Context, name string, args dispatch.Args) dispatch.Result
}

type mcpRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *mcpError       `json:"error,omitempty"`
}

type mcpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type callParams struct {
	Name      string        `json:"name"`
	Arguments dispatch.Args `json:"arguments"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callResult struct {
	Content []textContent `json:"content"`
	IsError bool          `json:"isError"`
}

// Server answers JSON-RPC requests one at a time.
type Server struct {
	dispatcher Dispatcher
	name       string
	version    string
}

// NewServer creates a server announcing itself as name/version.
func NewServer(d Dispatcher, name, version string) *Server {
	return &Server{dispatcher: d, name: name, version: version}
}

// Serve reads requests from r until EOF or ctx is done and writes one
// response line per request to w. Notifications get no response.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.handleLine(ctx, line)
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return errors.Wrap(err, "cannot write JSON-RPC response")
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "cannot read JSON-RPC request")
	}
	return nil
}

func (s *Server) handleLine(ctx context.Context, line []byte) *mcpResponse {
	var req mcpRequest
	if err := json.Unmarshal(line, &req); err != nil {
		log.WithError(err).Warn("Failed to parse JSON-RPC request")
		return errorResponse(json.RawMessage("null"), codeParseError, "parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(idOrNull(req.ID), codeInvalidRequest, "invalid request")
	}

	result, rpcErr := s.handle(ctx, req)
	if len(req.ID) == 0 {
		// Notification.
		return nil
	}
	if rpcErr != nil {
		return &mcpResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return &mcpResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) handle(ctx context.Context, req mcpRequest) (any, *mcpError) {
	logger := log.WithField("method", req.Method)
	logger.Debug("JSON-RPC request")

	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]string{"name": s.name, "version": s.version},
		}, nil
	case "notifications/initialized", "initialized":
		return nil, nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		tools := s.dispatcher.Tools()
		descriptors := make([]toolDescriptor, 0, len(tools))
		for _, t := range tools {
			descriptors = append(descriptors, toolDescriptor{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema(),
			})
		}
		return map[string]any{"tools": descriptors}, nil
	case "tools/call":
		var params callParams
		if len(req.Params) == 0 {
			return nil, &mcpError{Code: codeInvalidParams, Message: "missing params"}
		}
		dec := json.NewDecoder(bytes.NewReader(req.Params))
		dec.UseNumber()
		if err := dec.Decode(&params); err != nil || params.Name == "" {
			return nil, &mcpError{Code: codeInvalidParams, Message: "params must name a tool"}
		}
		res := s.dispatcher.Call(ctx, params.Name, params.Arguments)
		return callResult{
			Content: []textContent{{Type: "text", Text: res.Text}},
			IsError: !res.Success,
		}, nil
	}

	logger.Warn("Unknown JSON-RPC method")
	return nil, &mcpError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
}

func errorResponse(id json.RawMessage, code int, msg string) *mcpResponse {
	return &mcpResponse{JSONRPC: "2.0", ID: id, Error: &mcpError{Code: code, Message: msg}}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
