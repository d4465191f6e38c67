package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	goccy "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/mindscribe/journal-backend/internal/auth"
	"github.com/mindscribe/journal-backend/internal/core"
	"github.com/mindscribe/journal-backend/internal/history"
	"github.com/mindscribe/journal-backend/internal/store"
)

type ctxKey string

const ownerIDKey ctxKey = "ownerID"

// OwnerID returns the authenticated owner id injected by the JWT middleware.
func OwnerID(ctx context.Context) string {
	id, _ := ctx.Value(ownerIDKey).(string)
	return id
}

// ChatService is the slice of the orchestrator the handlers need.
type ChatService interface {
	Handle(ctx context.Context, ownerID, query string) (core.ChatResponse, error)
	HandleStream(ctx context.Context, ownerID, query string, emit func(core.StreamEvent))
}

// UserStore resolves and creates users for the auth glue.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	CreateUser(ctx context.Context, email, passwordHash string) (*store.User, error)
}

type APIHandler struct {
	chat      ChatService
	users     UserStore
	history   history.Store
	jwtSecret string
	log       zerolog.Logger
}

func NewAPIHandler(chat ChatService, users UserStore, hist history.Store, jwtSecret string, log zerolog.Logger) *APIHandler {
	return &APIHandler{chat: chat, users: users, history: hist, jwtSecret: jwtSecret, log: log}
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorBody{Message: message, Code: code})
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required", "unauthorized")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateJWT(tokenString, h.jwtSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token", "unauthorized")
			return
		}

		user, err := h.users.GetUserByID(r.Context(), userID)
		if err != nil {
			h.log.Error().Err(err).Str("user", userID).Msg("failed to resolve user identity")
			writeError(w, http.StatusInternalServerError, "Failed to process user identity", "internal_error")
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "User not found", "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), ownerIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "bad_request")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required", "bad_request")
		return
	}

	existing, err := h.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to look up user during signup")
		writeError(w, http.StatusInternalServerError, "Failed to create user", "internal_error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "An account with this email already exists", "conflict")
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to hash password")
		writeError(w, http.StatusInternalServerError, "Failed to process password", "internal_error")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.Email, hashedPassword)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create user")
		writeError(w, http.StatusInternalServerError, "Failed to create user", "internal_error")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "bad_request")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required", "bad_request")
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to look up user during login")
		writeError(w, http.StatusUnauthorized, "Invalid credentials", "unauthorized")
		return
	}
	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials", "unauthorized")
		return
	}

	token, err := auth.GenerateJWT(user.ID, h.jwtSecret)
	if err != nil {
		h.log.Error().Err(err).Str("user", user.ID).Msg("failed to generate token")
		writeError(w, http.StatusInternalServerError, "Failed to generate token", "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type ChatRequest struct {
	Query string `json:"query"`
}

func (h *APIHandler) ChatStartHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := OwnerID(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "bad_request")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "Query cannot be empty", "bad_request")
		return
	}

	resp, err := h.chat.Handle(r.Context(), ownerID, req.Query)
	if err != nil {
		h.log.Error().Err(err).Str("owner", ownerID).Msg("chat request failed")

		code := "internal_error"
		var retrievalErr *core.RetrievalError
		var synthesisErr *core.SynthesisError
		if errors.As(err, &retrievalErr) {
			code = "retrieval_error"
		} else if errors.As(err, &synthesisErr) {
			code = "synthesis_error"
		}
		writeError(w, http.StatusInternalServerError,
			"I'm sorry, I ran into a problem answering that. Please try again.", code)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) ChatStreamHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := OwnerID(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "bad_request")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "Query cannot be empty", "bad_request")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported", "internal_error")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.chat.HandleStream(r.Context(), ownerID, req.Query, func(ev core.StreamEvent) {
		frame, err := goccy.Marshal(ev)
		if err != nil {
			h.log.Error().Err(err).Str("owner", ownerID).Msg("failed to encode stream event")
			return
		}
		if _, err := w.Write(append(append([]byte("data: "), frame...), '\n', '\n')); err != nil {
			h.log.Debug().Err(err).Str("owner", ownerID).Msg("stream client went away")
			return
		}
		flusher.Flush()
	})
}

// HistoryMessage is one flattened history entry: stored turns are expanded
// into alternating user/assistant messages.
type HistoryMessage struct {
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	Citations []string `json:"citations,omitempty"`
}

func (h *APIHandler) ChatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := OwnerID(r.Context())

	turns, err := h.history.Load(r.Context(), ownerID)
	if err != nil {
		h.log.Error().Err(err).Str("owner", ownerID).Msg("failed to load chat history")
		writeError(w, http.StatusInternalServerError, "Failed to load chat history", "internal_error")
		return
	}

	messages := make([]HistoryMessage, 0, len(turns)*2)
	for _, t := range turns {
		messages = append(messages,
			HistoryMessage{Role: "user", Content: t.UserQuery},
			HistoryMessage{Role: "assistant", Content: t.Response.Message, Citations: t.Response.Citations},
		)
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *APIHandler) RemoveHistoryHandler(w http.ResponseWriter, r *http.Request) {
	ownerID := OwnerID(r.Context())

	if err := h.history.Clear(r.Context(), ownerID); err != nil {
		h.log.Error().Err(err).Str("owner", ownerID).Msg("failed to clear chat history")
		writeError(w, http.StatusInternalServerError, "Failed to clear chat history", "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
