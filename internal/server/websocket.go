package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"support-agent/internal/domain"
	"support-agent/internal/usecase"
	logx "support-agent/pkg/logger"
)

const (
	defaultMaxMessageSize = 16 << 10
	wsWriteTimeout        = 10 * time.Second
)

type wsConfig struct {
	upgrader       websocket.Upgrader
	maxMessageSize int64
}

func newWSConfig(maxMessageSize int64) wsConfig {
	if maxMessageSize <= 0 {
		maxMessageSize = defaultMaxMessageSize
	}
	return wsConfig{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		maxMessageSize: maxMessageSize,
	}
}

type wsInbound struct {
	Message string `json:"message"`
}

type wsOutbound struct {
	Type    string          `json:"type"`
	Outcome *domain.Outcome `json:"outcome,omitempty"`
	Error   string          `json:"error,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// ChatWebSocket serves one conversation over a websocket. Every text frame
// {"message": "..."} is answered with one outcome or error frame, in order.
// GET /v1/ws/:conversation_id
func (h *Handler) ChatWebSocket(c echo.Context) error {
	conversationID := c.Param("conversation_id")
	conn, err := h.ws.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logx.Warn().Err(err).Str("conversation_id", conversationID).Msg("Failed to upgrade websocket")
		return nil
	}
	defer conn.Close()
	conn.SetReadLimit(h.ws.maxMessageSize)

	ctx := c.Request().Context()
	logx.Info().Str("conversation_id", conversationID).Msg("Websocket connected")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logx.Warn().Err(err).Str("conversation_id", conversationID).Msg("Websocket read failed")
			}
			return nil
		}
		var in wsInbound
		if err := json.Unmarshal(data, &in); err != nil {
			if !h.writeFrame(conn, conversationID, wsOutbound{Type: "error", Error: string(usecase.ErrorInvalidInput), Reason: "invalid_message"}) {
				return nil
			}
			continue
		}

		msg := wsOutbound{Type: "outcome"}
		out, err := h.engine.Handle(ctx, usecase.HandleInput{ConversationID: conversationID, Utterance: in.Message})
		if err != nil {
			msg = wsOutbound{Type: "error", Error: string(usecase.CodeOf(err)), Reason: usecase.ReasonOf(err)}
		} else {
			msg.Outcome = &out
		}

		if !h.writeFrame(conn, conversationID, msg) {
			return nil
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, conversationID string, msg wsOutbound) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		logx.Warn().Err(err).Str("conversation_id", conversationID).Msg("Websocket write failed")
		return false
	}
	return true
}
