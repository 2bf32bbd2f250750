package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/khushalkhule/chatprodigy-ai/internal/auth"
	"github.com/khushalkhule/chatprodigy-ai/internal/store"
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
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
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

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/register" {
		s.handleRegister(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sessionView(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "auth" && parts[2] == "profile" {
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		userID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		s.handleUpdateProfile(w, r, session, userID)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "chat" {
		s.handleChat(w, r, session, parts)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "chatbot" {
		s.handleChatbot(w, r, session, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.Register(r.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, userView(user))
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(session))
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request, session Session, userID int64) {
	var body struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	user, err := s.service.UpdateProfile(r.Context(), session, userID, store.UserPatch{
		Username: body.Username,
		Email:    body.Email,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, userView(user))
}

func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 4 && parts[2] == "history" && r.Method == http.MethodGet {
		userID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		items, err := s.service.ChatHistory(r.Context(), session, userID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		views := make([]map[string]any, 0, len(items))
		for _, item := range items {
			views = append(views, messageView(item))
		}
		writeJSON(w, http.StatusOK, views)
		return
	}

	if len(parts) == 3 && parts[2] == "send" && r.Method == http.MethodPost {
		var body struct {
			UserID  int64  `json:"userId"`
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.SendChatMessage(r.Context(), session, body.UserID, body.Message)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, messageView(item))
		return
	}

	if len(parts) == 4 && parts[2] == "clear" && r.Method == http.MethodDelete {
		userID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		if err := s.service.ClearChatHistory(r.Context(), session, userID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Chat history cleared successfully"})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleChatbot(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 4 && parts[2] == "list" && r.Method == http.MethodGet {
		userID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		items, err := s.service.ListChatbots(r.Context(), session, userID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		views := make([]map[string]any, 0, len(items))
		for _, item := range items {
			views = append(views, chatbotView(item))
		}
		writeJSON(w, http.StatusOK, views)
		return
	}

	if len(parts) == 3 && parts[2] == "create" && r.Method == http.MethodPost {
		var body struct {
			UserID         int64  `json:"user_id"`
			Name           string `json:"name"`
			Description    string `json:"description"`
			WelcomeMessage string `json:"welcome_message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		bot, err := s.service.CreateChatbot(r.Context(), session, CreateChatbotInput{
			UserID:         body.UserID,
			Name:           body.Name,
			Description:    body.Description,
			WelcomeMessage: body.WelcomeMessage,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, chatbotView(bot))
		return
	}

	if len(parts) == 4 && parts[2] == "step" {
		stepID, ok := parseID(w, parts[3])
		if !ok {
			return
		}
		s.handleStep(w, r, session, stepID)
		return
	}

	if len(parts) == 3 {
		chatbotID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.handleChatbotByID(w, r, session, chatbotID)
		return
	}

	if len(parts) == 4 && parts[3] == "steps" {
		chatbotID, ok := parseID(w, parts[2])
		if !ok {
			return
		}
		s.handleChatbotSteps(w, r, session, chatbotID)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleChatbotByID(w http.ResponseWriter, r *http.Request, session Session, chatbotID int64) {
	if r.Method == http.MethodGet {
		bot, err := s.service.GetChatbot(r.Context(), session, chatbotID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, chatbotView(bot))
		return
	}

	if r.Method == http.MethodPut {
		var body struct {
			Name           *string `json:"name"`
			Description    *string `json:"description"`
			WelcomeMessage *string `json:"welcome_message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		bot, err := s.service.UpdateChatbot(r.Context(), session, chatbotID, store.ChatbotPatch{
			Name:           body.Name,
			Description:    body.Description,
			WelcomeMessage: body.WelcomeMessage,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, chatbotView(bot))
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteChatbot(r.Context(), session, chatbotID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Chatbot deleted successfully"})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleChatbotSteps(w http.ResponseWriter, r *http.Request, session Session, chatbotID int64) {
	if r.Method == http.MethodGet {
		items, err := s.service.ListSteps(r.Context(), session, chatbotID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		views := make([]map[string]any, 0, len(items))
		for _, item := range items {
			views = append(views, stepView(item))
		}
		writeJSON(w, http.StatusOK, views)
		return
	}

	if r.Method == http.MethodPost {
		var body struct {
			StepOrder    int      `json:"step_order"`
			Message      string   `json:"message"`
			ResponseType string   `json:"response_type"`
			Options      []string `json:"options"`
			IsRequired   *bool    `json:"is_required"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		step, err := s.service.CreateStep(r.Context(), session, chatbotID, CreateStepInput{
			StepOrder:    body.StepOrder,
			Message:      body.Message,
			ResponseType: body.ResponseType,
			Options:      body.Options,
			IsRequired:   body.IsRequired,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, stepView(step))
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleStep(w http.ResponseWriter, r *http.Request, session Session, stepID int64) {
	if r.Method == http.MethodPut {
		var body struct {
			StepOrder    *int      `json:"step_order"`
			Message      *string   `json:"message"`
			ResponseType *string   `json:"response_type"`
			Options      *[]string `json:"options"`
			IsRequired   *bool     `json:"is_required"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		step, err := s.service.UpdateStep(r.Context(), session, stepID, store.StepPatch{
			StepOrder:    body.StepOrder,
			Message:      body.Message,
			ResponseType: body.ResponseType,
			Options:      body.Options,
			IsRequired:   body.IsRequired,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, stepView(step))
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteStep(r.Context(), session, stepID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "Step deleted successfully"})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// ── Views ──

func sessionView(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt.Unix(),
		"user": map[string]any{
			"id":       session.UserID,
			"username": session.Username,
			"email":    session.Email,
		},
	}
}

func userView(user store.User) map[string]any {
	return map[string]any{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"created_at": user.CreatedAt,
	}
}

func chatbotView(bot store.Chatbot) map[string]any {
	return map[string]any{
		"id":              bot.ID,
		"user_id":         bot.UserID,
		"name":            bot.Name,
		"description":     bot.Description,
		"welcome_message": bot.WelcomeMessage,
		"created_at":      bot.CreatedAt,
		"updated_at":      bot.UpdatedAt,
	}
}

func stepView(step store.ChatbotStep) map[string]any {
	options := step.Options
	if options == nil {
		options = []string{}
	}
	return map[string]any{
		"id":            step.ID,
		"chatbot_id":    step.ChatbotID,
		"step_order":    step.StepOrder,
		"message":       step.Message,
		"response_type": step.ResponseType,
		"options":       options,
		"is_required":   step.IsRequired,
		"created_at":    step.CreatedAt,
		"updated_at":    step.UpdatedAt,
	}
}

func messageView(item store.ChatMessage) map[string]any {
	return map[string]any{
		"id":         item.ID,
		"user_id":    item.UserID,
		"message":    item.Message,
		"response":   item.Response,
		"created_at": item.CreatedAt,
	}
}

// ── Plumbing ──

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
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
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
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

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// parseID reads a positive numeric path segment. Anything else is a 404,
// matching how unknown paths are handled.
func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
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
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
