package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"support-agent/internal/domain"
	"support-agent/internal/usecase"
	logx "support-agent/pkg/logger"
)

const correlationHeader = "X-Correlation-Id"

type Engine interface {
	Handle(ctx context.Context, in usecase.HandleInput) (domain.Outcome, error)
	Reopen(ctx context.Context, conversationID string) error
	History(ctx context.Context, conversationID string) ([]domain.Turn, error)
	Summary(ctx context.Context, conversationID string) (domain.ConversationSummary, error)
	Clear(ctx context.Context, conversationID string) error
	RecordFeedback(ctx context.Context, in usecase.FeedbackInput) error
}

type Handler struct {
	engine Engine
}

func NewHandler(engine Engine) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("handler: engine must not be nil")
	}
	return &Handler{engine: engine}, nil
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type feedbackRequest struct {
	ConversationID string `json:"conversation_id"`
	Rating         int    `json:"rating"`
	Comment        string `json:"comment"`
}

type historyResponse struct {
	ConversationID string        `json:"conversation_id"`
	Turns          []domain.Turn `json:"turns"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// Handle serves API Gateway proxy events:
//
//	POST   /chat
//	POST   /feedback
//	GET    /conversations/{id}/history
//	GET    /conversations/{id}/summary
//	POST   /conversations/{id}/reopen
//	DELETE /conversations/{id}
//
// An optional /v1 prefix is accepted.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(event.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}

	segments := pathSegments(event.Path)
	method := strings.ToUpper(event.HTTPMethod)

	switch {
	case method == http.MethodPost && len(segments) == 1 && segments[0] == "chat":
		return h.chat(ctx, corrID, event.Body), nil

	case method == http.MethodPost && len(segments) == 1 && segments[0] == "feedback":
		return h.feedback(ctx, corrID, event.Body), nil

	case len(segments) == 3 && segments[0] == "conversations":
		id := segments[1]
		switch {
		case method == http.MethodGet && segments[2] == "history":
			turns, err := h.engine.History(ctx, id)
			if err != nil {
				return errorResp(corrID, err), nil
			}
			if turns == nil {
				turns = []domain.Turn{}
			}
			return jsonResp(http.StatusOK, corrID, historyResponse{ConversationID: id, Turns: turns}), nil
		case method == http.MethodGet && segments[2] == "summary":
			sum, err := h.engine.Summary(ctx, id)
			if err != nil {
				return errorResp(corrID, err), nil
			}
			return jsonResp(http.StatusOK, corrID, sum), nil
		case method == http.MethodPost && segments[2] == "reopen":
			if err := h.engine.Reopen(ctx, id); err != nil {
				return errorResp(corrID, err), nil
			}
			return jsonResp(http.StatusOK, corrID, map[string]string{"conversation_id": id, "status": "reopened"}), nil
		}

	case method == http.MethodDelete && len(segments) == 2 && segments[0] == "conversations":
		if err := h.engine.Clear(ctx, segments[1]); err != nil {
			return errorResp(corrID, err), nil
		}
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent, Headers: headers(corrID)}, nil
	}

	return jsonResp(http.StatusNotFound, corrID, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "route_not_found"}), nil
}

func (h *Handler) chat(ctx context.Context, corrID, body string) events.APIGatewayProxyResponse {
	var req chatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return jsonResp(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
	}
	out, err := h.engine.Handle(ctx, usecase.HandleInput{ConversationID: req.ConversationID, Utterance: req.Message})
	if err != nil {
		return errorResp(corrID, err)
	}
	return jsonResp(http.StatusOK, corrID, out)
}

func (h *Handler) feedback(ctx context.Context, corrID, body string) events.APIGatewayProxyResponse {
	var req feedbackRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return jsonResp(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
	}
	err := h.engine.RecordFeedback(ctx, usecase.FeedbackInput{
		ConversationID: req.ConversationID,
		Rating:         req.Rating,
		Comment:        req.Comment,
	})
	if err != nil {
		return errorResp(corrID, err)
	}
	return jsonResp(http.StatusCreated, corrID, map[string]string{"conversation_id": req.ConversationID, "status": "recorded"})
}

func errorResp(corrID string, err error) events.APIGatewayProxyResponse {
	code := usecase.CodeOf(err)
	if code == usecase.ErrorInternal {
		logx.Error().Err(err).Str("correlation_id", corrID).Msg("Request failed")
	}
	return jsonResp(code.HTTPStatus(), corrID, errorResponse{Error: string(code), Reason: usecase.ReasonOf(err)})
}

func jsonResp(status int, corrID string, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		logx.Error().Err(err).Str("correlation_id", corrID).Msg("Failed to encode response")
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","reason":"encode_error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers(corrID),
		Body:       string(body),
	}
}

func headers(corrID string) map[string]string {
	return map[string]string{
		"Content-Type":    "application/json",
		correlationHeader: corrID,
	}
}

// headerValue looks a header up case-insensitively; API Gateway passes them
// through as sent.
func headerValue(h map[string]string, key string) string {
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func pathSegments(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 0 && parts[0] == "v1" {
		parts = parts[1:]
	}
	return parts
}
