package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"support-agent/internal/domain"
	"support-agent/internal/usecase"
)

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// Chat handles one utterance.
// POST /v1/chat
func (h *Handler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_body")
	}
	out, err := h.engine.Handle(c.Request().Context(), usecase.HandleInput{
		ConversationID: req.ConversationID,
		Utterance:      req.Message,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

type historyResponse struct {
	ConversationID string        `json:"conversation_id"`
	Turns          []domain.Turn `json:"turns"`
}

// History returns the retained turns of a conversation.
// GET /v1/conversations/:conversation_id/history
func (h *Handler) History(c echo.Context) error {
	id := c.Param("conversation_id")
	turns, err := h.engine.History(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	return c.JSON(http.StatusOK, historyResponse{ConversationID: id, Turns: turns})
}

// Summary returns the aggregate state of a conversation.
// GET /v1/conversations/:conversation_id/summary
func (h *Handler) Summary(c echo.Context) error {
	sum, err := h.engine.Summary(c.Request().Context(), c.Param("conversation_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

// Reopen clears the escalated flag.
// POST /v1/conversations/:conversation_id/reopen
func (h *Handler) Reopen(c echo.Context) error {
	id := c.Param("conversation_id")
	if err := h.engine.Reopen(c.Request().Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"conversation_id": id, "status": "reopened"})
}

// DeleteConversation drops a conversation from memory and the archive.
// DELETE /v1/conversations/:conversation_id
func (h *Handler) DeleteConversation(c echo.Context) error {
	if err := h.engine.Clear(c.Request().Context(), c.Param("conversation_id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type feedbackRequest struct {
	ConversationID string `json:"conversation_id"`
	Rating         int    `json:"rating"`
	Comment        string `json:"comment"`
}

// Feedback records a customer rating for a conversation.
// POST /v1/feedback
func (h *Handler) Feedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_body")
	}
	err := h.engine.RecordFeedback(c.Request().Context(), usecase.FeedbackInput{
		ConversationID: req.ConversationID,
		Rating:         req.Rating,
		Comment:        req.Comment,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"conversation_id": req.ConversationID, "status": "recorded"})
}

// Analytics returns the interaction summary since start-up.
// GET /v1/analytics
func (h *Handler) Analytics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.analytics.Summary())
}
