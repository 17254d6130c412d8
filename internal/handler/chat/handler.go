package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	chatmodel "github.com/evanwzhao/relay/backend/internal/model/chat"
	"github.com/evanwzhao/relay/backend/internal/middleware"
	chatservice "github.com/evanwzhao/relay/backend/internal/service/chat"
	"github.com/evanwzhao/relay/backend/internal/store"
	"github.com/evanwzhao/relay/backend/pkg/utils"
)

// Handler exposes the conversation API.
type Handler struct {
	turns *chatservice.Service
	store store.Store
}

// New creates the chat handler.
func New(turns *chatservice.Service, st store.Store) *Handler {
	return &Handler{turns: turns, store: st}
}

// RegisterRoutes wires the authenticated conversation routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleSubmit)
	r.Post("/chat/edit", h.handleEdit)
	r.Post("/chat/regenerate", h.handleRegenerate)
	r.Get("/chats", h.handleList)
	r.Post("/chats/{chatID}/share", h.handleShare)
}

// RegisterReadRoutes wires routes that tolerate anonymous visitors; shared
// conversations are readable without identity.
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/chats/{chatID}", h.handleGet)
}

// StreamResponse is one SSE frame of a streamed turn.
type StreamResponse struct {
	Event    string `json:"event"`
	Content  string `json:"content,omitempty"`
	ChatID   string `json:"chatId,omitempty"`
	Finished bool   `json:"finished,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	profile, ok := middleware.ProfileFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var payload struct {
		ChatID   string              `json:"chatId"`
		Messages []chatmodel.Message `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.Messages) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "missing messages")
		return
	}

	h.streamTurn(w, r, func(ctx context.Context, onDelta func(string) error) (*chatservice.TurnResult, error) {
		return h.turns.SubmitTurn(ctx, chatservice.TurnRequest{
			ChatID:   payload.ChatID,
			Messages: payload.Messages,
			User:     profile,
		}, onDelta)
	})
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	profile, ok := middleware.ProfileFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var payload struct {
		ChatID    string          `json:"chatId"`
		MessageID string          `json:"messageId"`
		Text      string          `json:"text"`
		Parts     chatmodel.Parts `json:"parts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ChatID == "" || payload.MessageID == "" {
		utils.RespondError(w, http.StatusBadRequest, "chatId and messageId are required")
		return
	}

	h.streamTurn(w, r, func(ctx context.Context, onDelta func(string) error) (*chatservice.TurnResult, error) {
		return h.turns.EditTurn(ctx, payload.ChatID, payload.MessageID, payload.Text, payload.Parts, profile, onDelta)
	})
}

func (h *Handler) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	profile, ok := middleware.ProfileFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var payload struct {
		ChatID    string `json:"chatId"`
		MessageID string `json:"messageId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ChatID == "" || payload.MessageID == "" {
		utils.RespondError(w, http.StatusBadRequest, "chatId and messageId are required")
		return
	}

	h.streamTurn(w, r, func(ctx context.Context, onDelta func(string) error) (*chatservice.TurnResult, error) {
		return h.turns.Regenerate(ctx, payload.ChatID, payload.MessageID, profile, onDelta)
	})
}

// streamTurn runs a turn and relays its output as SSE. Headers are deferred
// until the first delta so failures before any output still get a proper
// JSON status.
func (h *Handler) streamTurn(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, onDelta func(string) error) (*chatservice.TurnResult, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	started := false
	onDelta := func(delta string) error {
		if !started {
			utils.SetupSSEHeaders(w)
			if err := utils.SendSSEChunk(w, flusher, StreamResponse{Event: "start"}); err != nil {
				return err
			}
			started = true
		}
		return utils.SendSSEChunk(w, flusher, StreamResponse{Event: "delta", Content: delta})
	}

	result, err := run(r.Context(), onDelta)
	if err != nil {
		log.Error().Err(err).Msg("turn failed")
		if started {
			_ = utils.SendSSEChunk(w, flusher, StreamResponse{Event: "error", Error: err.Error()})
			return
		}
		respondTurnError(w, err)
		return
	}

	if !started {
		// model produced an empty stream; still emit a well-formed response
		utils.SetupSSEHeaders(w)
		_ = utils.SendSSEChunk(w, flusher, StreamResponse{Event: "start", ChatID: result.ChatID})
	}
	_ = utils.SendSSEChunk(w, flusher, StreamResponse{Event: "message", ChatID: result.ChatID, Content: result.AssistantMessage.Content})
	_ = utils.SendSSEChunk(w, flusher, StreamResponse{Event: "end", ChatID: result.ChatID, Finished: true})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	profile, ok := middleware.ProfileFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	chats, err := h.store.ListChatsByUser(r.Context(), profile.UserID)
	if err != nil {
		utils.RespondFailure(w, http.StatusInternalServerError, err)
		return
	}
	if chats == nil {
		chats = []chatmodel.Conversation{}
	}
	utils.RespondJSON(w, http.StatusOK, chats)
}

// handleGet resolves conversation visibility: owners get the full view,
// anyone gets a read-only view of a shared conversation, and private
// conversations stay hidden from everyone else.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	conv, err := h.store.GetChat(r.Context(), chatID)
	if errors.Is(err, store.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		utils.RespondFailure(w, http.StatusInternalServerError, err)
		return
	}

	profile, authed := middleware.ProfileFrom(r.Context())
	owner := authed && profile.UserID == conv.UserID

	if !owner && !conv.IsShared {
		if !authed {
			utils.RespondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		utils.RespondError(w, http.StatusForbidden, "access denied")
		return
	}

	msgs, err := h.store.ListMessages(r.Context(), chatID)
	if err != nil {
		utils.RespondFailure(w, http.StatusInternalServerError, err)
		return
	}
	if msgs == nil {
		msgs = []chatmodel.Message{}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"chat":     conv,
		"messages": msgs,
		"readOnly": !owner,
	})
}

func (h *Handler) handleShare(w http.ResponseWriter, r *http.Request) {
	profile, ok := middleware.ProfileFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	chatID := chi.URLParam(r, "chatID")
	conv, err := h.store.GetChat(r.Context(), chatID)
	if errors.Is(err, store.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		utils.RespondFailure(w, http.StatusInternalServerError, err)
		return
	}
	if conv.UserID != profile.UserID {
		utils.RespondError(w, http.StatusForbidden, "access denied")
		return
	}

	if err := h.store.SetShared(r.Context(), chatID); err != nil {
		utils.RespondFailure(w, http.StatusInternalServerError, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"shared": true})
}

func respondTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatservice.ErrEmptyMessages):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatservice.ErrForbidden):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chatservice.ErrNotAssistantTurn), errors.Is(err, chatservice.ErrNoUserTurn):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, "not found")
	default:
		utils.RespondFailure(w, http.StatusInternalServerError, err)
	}
}
