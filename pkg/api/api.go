// Package api exposes the management operations and the WebSocket sync
// endpoint over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/mdpad/mdpad/pkg/session"
)

// passwordHeader carries the credential on management calls; a JSON body
// "password" field is accepted as a fallback where a body exists.
const passwordHeader = "x-docs-password"

type Server struct {
	manager  *session.Manager
	upgrader websocket.Upgrader
}

func NewServer(manager *session.Manager) *Server {
	return &Server{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Router builds the full route table. Anything outside /api is treated as a
// WebSocket sync path so documents can live at bare URLs like /my-notes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Use(corsMiddleware)

	r.Methods(http.MethodGet).Path("/api/health").HandlerFunc(s.getHealth)
	r.Methods(http.MethodGet).Path("/api/documents").HandlerFunc(s.listDocuments)
	r.Methods(http.MethodGet).PathPrefix("/api/documents/").HandlerFunc(s.getDocument)
	r.Methods(http.MethodPut).PathPrefix("/api/documents/").HandlerFunc(s.putDocument)
	r.Methods(http.MethodDelete).PathPrefix("/api/documents/").HandlerFunc(s.deleteDocument)
	r.Methods(http.MethodPost).Path("/api/auth").HandlerFunc(s.postAuth)
	r.Methods(http.MethodPost).Path("/api/auth/master").HandlerFunc(s.postAuthMaster)
	r.Methods(http.MethodOptions).PathPrefix("/").HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	r.PathPrefix("/").HandlerFunc(s.syncDocument)
	return r
}

func corsMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Access-Control-Allow-Origin", "*")
		writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+passwordHeader)
		handler.ServeHTTP(writer, request)
	})
}

func (s *Server) getHealth(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listDocuments(writer http.ResponseWriter, request *http.Request) {
	if !s.manager.VerifyMaster(request.Header.Get(passwordHeader)) {
		writeError(writer, session.ErrForbidden)
		return
	}
	summaries, err := s.manager.ListSummaries()
	if err != nil {
		writeError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, map[string]any{"documents": summaries})
}

func (s *Server) getDocument(writer http.ResponseWriter, request *http.Request) {
	name := s.documentName(request)
	if !s.manager.VerifyAccess(name, request.Header.Get(passwordHeader)) {
		writeError(writer, session.ErrForbidden)
		return
	}
	content, err := s.manager.GetContent(name)
	if err != nil {
		writeError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, map[string]any{
		"name":    s.manager.Normalize(name),
		"content": content,
		"locked":  s.manager.IsLocked(name),
	})
}

// putDocument handles the two mutation sub-resources:
//
//	PUT /api/documents/{name}/rename   {"target": "..."}
//	PUT /api/documents/{name}/password {"password": "..."}
func (s *Server) putDocument(writer http.ResponseWriter, request *http.Request) {
	name, action := splitAction(s.documentName(request))
	var body struct {
		Target   string `json:"target"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	// header only: for the password action the body field is the new
	// secret, not the credential
	if !s.manager.VerifyAccess(name, request.Header.Get(passwordHeader)) {
		writeError(writer, session.ErrForbidden)
		return
	}
	switch action {
	case "rename":
		if err := s.manager.Rename(name, body.Target); err != nil {
			writeError(writer, err)
			return
		}
		writeJSON(writer, http.StatusOK, map[string]string{"name": s.manager.Normalize(body.Target)})
	case "password":
		if err := s.manager.SetPassword(name, body.Password); err != nil {
			writeError(writer, err)
			return
		}
		writer.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(writer, request)
	}
}

func (s *Server) deleteDocument(writer http.ResponseWriter, request *http.Request) {
	name, action := splitAction(s.documentName(request))
	if !s.manager.VerifyAccess(name, request.Header.Get(passwordHeader)) {
		writeError(writer, session.ErrForbidden)
		return
	}
	switch action {
	case "":
		if err := s.manager.Delete(name); err != nil {
			writeError(writer, err)
			return
		}
	case "password":
		if err := s.manager.RemovePassword(name); err != nil {
			writeError(writer, err)
			return
		}
	default:
		http.NotFound(writer, request)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) postAuth(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !s.manager.VerifyAccess(body.Name, credential(request, body.Password)) {
		writeError(writer, session.ErrForbidden)
		return
	}
	writeJSON(writer, http.StatusOK, map[string]bool{"valid": true})
}

func (s *Server) postAuthMaster(writer http.ResponseWriter, request *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !s.manager.VerifyMaster(credential(request, body.Password)) {
		writeError(writer, session.ErrForbidden)
		return
	}
	writeJSON(writer, http.StatusOK, map[string]bool{"valid": true})
}

// syncDocument upgrades the connection and hands it to the session manager,
// which performs the password check itself so a rejection can be signalled
// with the dedicated close code.
func (s *Server) syncDocument(writer http.ResponseWriter, request *http.Request) {
	if !websocket.IsWebSocketUpgrade(request) {
		http.NotFound(writer, request)
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	password := request.URL.Query().Get("password")
	_ = s.manager.ServeConn(request.Context(), conn, request.URL.Path, password)
}

// documentName extracts the raw (still percent-encoded) document path from
// a management URL.
func (s *Server) documentName(request *http.Request) string {
	const prefix = "/api/documents/"
	raw := request.URL.EscapedPath()
	if len(raw) > len(prefix) {
		return raw[len(prefix):]
	}
	return ""
}

// splitAction peels a trailing action segment (rename, password) off a
// document path.
func splitAction(raw string) (string, string) {
	for _, action := range []string{"/rename", "/password"} {
		if len(raw) > len(action) && raw[len(raw)-len(action):] == action {
			return raw[:len(raw)-len(action)], action[1:]
		}
	}
	return raw, ""
}

func credential(request *http.Request, bodyPassword string) string {
	if h := request.Header.Get(passwordHeader); h != "" {
		return h
	}
	return bodyPassword
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		slog.Error("failed to write response", "err", err)
	}
}

func writeError(writer http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrNameRequired), errors.Is(err, session.ErrPasswordRequired), errors.Is(err, session.ErrSameName):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, session.ErrForbidden):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	writeJSON(writer, status, map[string]string{"error": err.Error()})
}
