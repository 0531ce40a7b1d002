package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/identity"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Identity routes (no token required)
	if r.Method == http.MethodPost && r.URL.Path == "/register" {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Email    string `json:"email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Register(r.Context(), body.Username, body.Password, body.Email)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/login" {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Login(r.Context(), body.Username, body.Password)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/logout" {
		payload := s.service.Logout(r.Context(), bearerToken(r))
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// Public read paths
	if r.Method == http.MethodGet && r.URL.Path == "/blogs" {
		items, err := s.service.ListBlogs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list blogs", nil)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	parts := splitPath(r.URL.Path)

	if r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "blogs" {
		blogID, ok := parseID(parts[1])
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Blog not found", nil)
			return
		}
		payload, err := s.service.GetBlog(r.Context(), blogID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	// Wrong-method hits on the public paths stop here rather than falling
	// through to the auth gate.
	switch r.URL.Path {
	case "/register", "/login", "/logout", "/health", "/ready":
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	// Everything below acts on behalf of an authenticated owner.
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	switch {
	case len(parts) == 1 && parts[0] == "folders":
		s.handleFolders(w, r, actor)
	case len(parts) >= 2 && parts[0] == "folders":
		s.handleFolder(w, r, actor, parts)
	case len(parts) == 1 && parts[0] == "root-contents" && r.Method == http.MethodGet:
		payload, err := s.service.RootContents(r.Context(), actor)
		respond(w, payload, err)
	case len(parts) == 1 && parts[0] == "root-blogs" && r.Method == http.MethodGet:
		items, err := s.service.ListRootBlogs(r.Context(), actor)
		respondList(w, items, err)
	case len(parts) == 1 && parts[0] == "my-blogs" && r.Method == http.MethodGet:
		items, err := s.service.ListMyBlogs(r.Context(), actor)
		respondList(w, items, err)
	case len(parts) == 1 && parts[0] == "blogs" && r.Method == http.MethodPost:
		s.handleCreateBlog(w, r, actor)
	case len(parts) >= 2 && parts[0] == "blogs":
		s.handleBlog(w, r, actor, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleFolders(w http.ResponseWriter, r *http.Request, actor string) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListFolders(r.Context(), actor)
		respondList(w, items, err)
	case http.MethodPost:
		var body struct {
			Name     string `json:"name"`
			ParentID *int64 `json:"parent_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateFolder(r.Context(), actor, body.Name, body.ParentID)
		respond(w, payload, err)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleFolder(w http.ResponseWriter, r *http.Request, actor string, parts []string) {
	folderID, ok := parseID(parts[1])
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Folder not found", nil)
		return
	}

	if len(parts) == 3 && parts[2] == "contents" && r.Method == http.MethodGet {
		payload, err := s.service.FolderContents(r.Context(), actor, folderID)
		respond(w, payload, err)
		return
	}

	if len(parts) == 3 && parts[2] == "blogs" && r.Method == http.MethodGet {
		items, err := s.service.ListFolderBlogs(r.Context(), actor, folderID)
		respondList(w, items, err)
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.RenameFolder(r.Context(), actor, folderID, body.Name)
		respond(w, payload, err)
	case http.MethodDelete:
		payload, err := s.service.DeleteFolder(r.Context(), actor, folderID)
		respond(w, payload, err)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

type blogBody struct {
	Title    string      `json:"title"`
	Cells    []CellInput `json:"cells"`
	FolderID *int64      `json:"folder_id"`
}

func (s *HTTPServer) handleCreateBlog(w http.ResponseWriter, r *http.Request, actor string) {
	var body blogBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.CreateBlog(r.Context(), actor, body.Title, body.Cells, body.FolderID)
	respond(w, payload, err)
}

func (s *HTTPServer) handleBlog(w http.ResponseWriter, r *http.Request, actor string, parts []string) {
	blogID, ok := parseID(parts[1])
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Blog not found", nil)
		return
	}

	if len(parts) == 3 && parts[2] == "move" && r.Method == http.MethodPut {
		var body struct {
			FolderID *int64 `json:"folder_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.MoveBlog(r.Context(), actor, blogID, body.FolderID)
		respond(w, payload, err)
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodPut:
		var body blogBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateBlog(r.Context(), actor, blogID, body.Title, body.Cells, body.FolderID)
		respond(w, payload, err)
	case http.MethodDelete:
		payload, err := s.service.DeleteBlog(r.Context(), actor, blogID)
		respond(w, payload, err)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return "", false
	}
	actor, err := s.service.Actor(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Token expired", nil)
			return "", false
		}
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", nil)
			return "", false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Token verification failed", nil)
		return "", false
	}
	return actor, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, identity.ErrUsernameTaken) || errors.Is(err, identity.ErrEmailTaken) {
		return http.StatusConflict, "CONFLICT", err.Error(), nil
	}
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil
	}
	if errors.Is(err, identity.ErrInvalidInput) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Token expired", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func respond(w http.ResponseWriter, payload map[string]any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func respondList(w http.ResponseWriter, items []map[string]any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
