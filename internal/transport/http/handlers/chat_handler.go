package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/vedran77/stratchat/internal/service"
	"github.com/vedran77/stratchat/internal/transport/http/middleware"
	"github.com/vedran77/stratchat/pkg/validator"
)

type ChatHandler struct {
	chatService *service.ChatService
	logger      *logrus.Logger
}

func NewChatHandler(chatService *service.ChatService, logger *logrus.Logger) *ChatHandler {
	return &ChatHandler{chatService: chatService, logger: logger}
}

type startChatInput struct {
	StrategyID int64 `json:"strategy_id"`
	// CreatorID is the counterparty; older clients call it creator_id.
	CreatorID      int64 `json:"creator_id"`
	CounterpartyID int64 `json:"counterparty_id"`
}

type sendMessageInput struct {
	Content string `json:"content"`
}

func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var input startChatInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if input.CreatorID == 0 {
		input.CreatorID = input.CounterpartyID
	}

	if errs := validator.ValidateStartChat(input.StrategyID, input.CreatorID); errs.HasErrors() {
		writeValidationErrors(w, errs)
		return
	}

	chat, created, err := h.chatService.StartOrOpen(r.Context(), user, input.StrategyID, input.CreatorID)
	if err != nil {
		writeServiceError(w, h.logger, "start chat", err)
		return
	}

	if created {
		writeJSON(w, http.StatusCreated, "Chat created", chat)
		return
	}
	writeJSON(w, http.StatusOK, "Chat opened", chat)
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	chatID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid chat ID")
		return
	}

	var input sendMessageInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	msg, err := h.chatService.Send(r.Context(), user, chatID, input.Content)
	if err != nil {
		writeServiceError(w, h.logger, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, "Message sent", msg)
}

func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	chatID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid chat ID")
		return
	}

	messages, err := h.chatService.GetMessages(r.Context(), user, chatID)
	if err != nil {
		writeServiceError(w, h.logger, "list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, "Messages retrieved", messages)
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	chats, err := h.chatService.ListChatsFor(r.Context(), user)
	if err != nil {
		writeServiceError(w, h.logger, "list chats", err)
		return
	}

	writeJSON(w, http.StatusOK, "Chats retrieved", chats)
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	chatID, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid chat ID")
		return
	}

	result, err := h.chatService.MarkRead(r.Context(), user, chatID)
	if err != nil {
		writeServiceError(w, h.logger, "mark read", err)
		return
	}

	writeJSON(w, http.StatusOK, "Messages marked as read", result)
}

func (h *ChatHandler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	counts, err := h.chatService.UnreadSummary(r.Context(), user)
	if err != nil {
		writeServiceError(w, h.logger, "unread counts", err)
		return
	}

	writeJSON(w, http.StatusOK, "Unread counts retrieved", counts)
}

func (h *ChatHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	profile, err := h.chatService.Profile(r.Context(), user)
	if err != nil {
		writeServiceError(w, h.logger, "profile", err)
		return
	}

	writeJSON(w, http.StatusOK, "Profile retrieved", profile)
}
