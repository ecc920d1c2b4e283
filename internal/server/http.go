package server

import (
	"encoding/json"
	"net/http"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// Each registered kind gets its routes under /v1/{kind}s.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *RegistryServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	for _, kind := range s.kinds() {
		svc := s.registries[kind]
		base := "/v1/" + string(kind) + "s"
		mux.HandleFunc("POST "+base, s.handleCreate(svc))
		mux.HandleFunc("GET "+base, s.handleListPaging(svc))
		mux.HandleFunc("GET "+base+"/all", s.handleListAll(svc))
		mux.HandleFunc("POST "+base+"/verify-name", s.handleVerifyName(svc))
		mux.HandleFunc("GET "+base+"/{code}", s.handleGet(svc))
		mux.HandleFunc("PUT "+base+"/{code}", s.handleUpdate(svc))
		mux.HandleFunc("DELETE "+base+"/{code}", s.handleDelete(svc))
	}
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *RegistryServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorResponse is the body of every failed request. Code and Error are
// set for registry failures only.
type errorResponse struct {
	Code    int    `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}

// writeRegistryError writes err with its stable code and matching status.
// Internal failures are logged and reported without detail.
func (s *RegistryServer) writeRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	code, name := model.ErrorCode(err)
	msg := err.Error()
	if code == model.CodeInternal {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, httpStatus(code), errorResponse{Code: code, Error: name, Message: msg})
}
