package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/12313awe/skalgpt/internal/auth"
	"github.com/12313awe/skalgpt/internal/core"
	"github.com/12313awe/skalgpt/internal/store"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyExternalUserID
)

// UserIDFromContext returns the authenticated principal's internal id.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKeyUserID).(int64)
	return id, ok
}

// UserStore is the credential-boundary slice of the persistence layer.
type UserStore interface {
	GetUserByExternalID(externalUserID string) (*store.User, error)
	CreateUser(externalUserID, passwordHash string) (*store.User, error)
}

type APIHandler struct {
	chatService *core.ChatService
	users       UserStore
	logger      *zap.Logger
}

func NewAPIHandler(cs *core.ChatService, users UserStore, logger *zap.Logger) *APIHandler {
	return &APIHandler{chatService: cs, users: users, logger: logger}
}

// writeError emits the client-facing structured error body. Internals are
// logged by the caller, never surfaced here.
func writeError(w http.ResponseWriter, status int, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"error": message}
	if details != nil {
		body["details"] = details
	}
	json.NewEncoder(w).Encode(body)
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		externalUserID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		}

		user, err := h.users.GetUserByExternalID(externalUserID)
		if err != nil {
			h.logger.Error("failed to resolve principal", zap.String("external_user_id", externalUserID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Failed to process user identity", nil)
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, user.ID)
		ctx = context.WithValue(ctx, ctxKeyExternalUserID, user.ExternalUserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type credentialsRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	if req.UserID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "User ID and password are required", nil)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to process password", nil)
		return
	}

	user, err := h.users.CreateUser(req.UserID, hashedPassword)
	if err != nil {
		h.logger.Error("failed to create user", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create user", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	if req.UserID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "User ID and password are required", nil)
		return
	}

	user, err := h.users.GetUserByExternalID(req.UserID)
	if err != nil {
		h.logger.Error("failed to load user for login", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := auth.GenerateJWT(req.UserID)
	if err != nil {
		h.logger.Error("failed to generate JWT", zap.String("user_id", req.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to generate token", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// ChatHandler streams one chat turn. The response body is plain text:
// the generation fragments in order, flushed as they arrive.
func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request format.", nil)
		return
	}
	if err := core.ValidateTurnInput(req.Message, req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	started := false
	forward := func(fragment string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write([]byte(fragment)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := h.chatService.StreamTurn(r.Context(), core.TurnRequest{
		UserID:    userID,
		SessionID: req.SessionID,
		Message:   req.Message,
	}, forward)
	if err != nil {
		h.logger.Error("chat turn failed",
			zap.Int64("user_id", userID),
			zap.String("session_id", req.SessionID),
			zap.Bool("stream_started", started),
			zap.Error(err))
		if started {
			// The status line is already on the wire. A clean return would
			// close the chunked body normally and the client would read a
			// plain EOF, indistinguishable from a completed turn. Abort the
			// connection instead so the client's read fails.
			panic(http.ErrAbortHandler)
		}
		switch {
		case errors.Is(err, core.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "Session not found", nil)
		default:
			writeError(w, http.StatusInternalServerError, "An unexpected error occurred. The developers have been notified.", nil)
		}
		return
	}

	if !started {
		// The model produced nothing; still a successful empty stream.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	}
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	sessions, err := h.chatService.ListSessions(userID)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list sessions", nil)
		return
	}
	if sessions == nil {
		sessions = []store.ChatSession{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req createSessionRequest
	if r.Body != http.NoBody {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", nil)
			return
		}
	}

	session, err := h.chatService.CreateSession(userID, req.Title)
	if err != nil {
		h.logger.Error("failed to create session", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create session", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(session)
}

func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.chatService.DeleteSession(sessionID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Session not found", nil)
			return
		}
		h.logger.Error("failed to delete session",
			zap.Int64("user_id", userID), zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete session", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) SessionMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.chatService.GetSessionMessages(sessionID, userID)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "Session not found", nil)
			return
		}
		h.logger.Error("failed to load messages",
			zap.Int64("user_id", userID), zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load messages", nil)
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

type generateTitleRequest struct {
	Message string `json:"message"`
}

// GenerateTitleHandler is the best-effort title collaborator. Clients
// fall back to a default title when it fails.
func (h *APIHandler) GenerateTitleHandler(w http.ResponseWriter, r *http.Request) {
	var req generateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "Message is required", nil)
		return
	}

	title, err := h.chatService.GenerateSessionTitle(r.Context(), req.Message)
	if err != nil {
		h.logger.Warn("title generation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to generate title", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"title": title})
}
