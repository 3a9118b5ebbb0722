package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/RichardoC/Pad-i/internal/chat"
	"github.com/RichardoC/Pad-i/internal/llm"
	"github.com/RichardoC/Pad-i/internal/metrics"
	"github.com/RichardoC/Pad-i/internal/models"
)

const maxBodyBytes = 1 << 20

// ChatService is the conversation API consumed by the handlers.
type ChatService interface {
	CreateConversation(ctx context.Context, owner string) (models.Conversation, error)
	ListConversations(ctx context.Context, owner string) ([]models.Conversation, error)
	RenameConversation(ctx context.Context, id, owner, title string) (models.Conversation, error)
	DeleteConversation(ctx context.Context, id, owner string) error
	ListMessages(ctx context.Context, id, owner string) ([]models.Message, error)
	SendMessage(ctx context.Context, in chat.SendInput) (chat.SendOutput, error)
}

type BackendLister interface {
	Backends() []llm.BackendStatus
}

type StatsSource interface {
	Snapshot() metrics.Snapshot
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	chat     ChatService
	backends BackendLister
	stats    StatsSource
	store    Pinger
	owner    OwnerFunc
	logger   *zap.Logger
}

func NewHandler(chatService ChatService, backends BackendLister, stats StatsSource, store Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chat:     chatService,
		backends: backends,
		stats:    stats,
		store:    store,
		owner:    HeaderOwner,
		logger:   logger,
	}
}

// Routes registers every endpoint on a new router.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)

	owned := api.NewRoute().Subrouter()
	owned.Use(h.requireOwner)
	owned.HandleFunc("/conversations", h.CreateConversation).Methods(http.MethodPost)
	owned.HandleFunc("/conversations", h.ListConversations).Methods(http.MethodGet)
	owned.HandleFunc("/conversations/{id}", h.RenameConversation).Methods(http.MethodPatch)
	owned.HandleFunc("/conversations/{id}", h.DeleteConversation).Methods(http.MethodDelete)
	owned.HandleFunc("/conversations/{id}/messages", h.ListMessages).Methods(http.MethodGet)
	owned.HandleFunc("/conversations/{id}/messages", h.SendToConversation).Methods(http.MethodPost)
	owned.HandleFunc("/messages", h.SendMessage).Methods(http.MethodPost)

	return r
}

type RenameRequest struct {
	Title string `json:"title"`
}

type MessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	CreateIfAbsent bool   `json:"create_if_absent"`
}

type MessageResponse struct {
	Conversation     models.Conversation `json:"conversation"`
	UserMessage      models.Message      `json:"user_message"`
	AssistantMessage models.Message      `json:"assistant_message"`
	Backend          string              `json:"backend,omitempty"`
}

type ConversationsResponse struct {
	Conversations []models.Conversation `json:"conversations"`
}

type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
}

type HealthResponse struct {
	Status   string              `json:"status"`
	Store    string              `json:"store"`
	Backends []llm.BackendStatus `json:"backends"`
}

type errorBody struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type ErrorResponse struct {
	Error errorBody `json:"error"`
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chat.CreateConversation(r.Context(), ownerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, conv)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.chat.ListConversations(r.Context(), ownerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Debug("Retrieved conversations",
		zap.Int("count", len(conversations)),
		zap.String("path", r.URL.Path))
	h.writeJSON(w, http.StatusOK, ConversationsResponse{Conversations: conversations})
}

func (h *Handler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if !h.decode(w, r, &req) {
		return
	}
	conv, err := h.chat.RenameConversation(r.Context(), mux.Vars(r)["id"], ownerFrom(r), req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.DeleteConversation(r.Context(), mux.Vars(r)["id"], ownerFrom(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chat.ListMessages(r.Context(), mux.Vars(r)["id"], ownerFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}

// SendToConversation posts a message to the conversation named in the path.
func (h *Handler) SendToConversation(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.send(w, r, chat.SendInput{
		ConversationID: mux.Vars(r)["id"],
		Owner:          ownerFrom(r),
		Text:           req.Content,
	})
}

// SendMessage posts a message to conversation_id, optionally starting a new
// conversation when the id is empty and create_if_absent is set.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.send(w, r, chat.SendInput{
		ConversationID: req.ConversationID,
		Owner:          ownerFrom(r),
		Text:           req.Content,
		CreateIfAbsent: req.CreateIfAbsent,
	})
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request, in chat.SendInput) {
	out, err := h.chat.SendMessage(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, MessageResponse{
		Conversation:     out.Conversation,
		UserMessage:      out.UserMessage,
		AssistantMessage: out.AssistantMessage,
		Backend:          out.Backend,
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

// Health reports store reachability and the configured back ends. It answers
// 503 when the store cannot be reached.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "ok", Backends: h.backends.Backends()}
	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("store ping failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Store = err.Error()
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Debug("Invalid request body", zap.Error(err), zap.String("path", r.URL.Path))
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: errorBody{Code: "BAD_REQUEST", Reason: "invalid_request_body"}})
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Code: "INTERNAL", Reason: "internal_error"}

	var chatErr *chat.Error
	if errors.As(err, &chatErr) {
		body = errorBody{Code: string(chatErr.Code), Reason: chatErr.Reason}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
	} else {
		h.logger.Debug("Request rejected",
			zap.String("code", body.Code),
			zap.String("reason", body.Reason),
			zap.String("path", r.URL.Path))
	}
	h.writeJSON(w, status, ErrorResponse{Error: body})
}

func statusFor(err error) int {
	if errors.Is(err, chat.ErrShuttingDown) {
		return http.StatusServiceUnavailable
	}
	switch chat.CodeOf(err) {
	case chat.ErrorValidation:
		return http.StatusBadRequest
	case chat.ErrorNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
