package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
	"estate-assistant/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// EventHandler answers one inbound channel event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.InboundEvent) (domain.Reply, error)
}

// StatusRecorder counts webhook responses by status.
type StatusRecorder interface {
	WebhookStatus(status int)
}

type inboundRequest struct {
	ChannelID string            `json:"channelId"`
	Type      string            `json:"type"`
	Text      string            `json:"text"`
	Action    string            `json:"action"`
	Params    map[string]string `json:"params"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// WebhookHandler adapts API Gateway proxy requests to the conversation dispatcher.
type WebhookHandler struct {
	events  EventHandler
	metrics StatusRecorder
}

// NewWebhookHandler validates dependencies. metrics may be nil.
func NewWebhookHandler(ev EventHandler, metrics StatusRecorder) (*WebhookHandler, error) {
	if ev == nil {
		return nil, errors.New("handler: event handler must not be nil")
	}
	return &WebhookHandler{events: ev, metrics: metrics}, nil
}

func (h *WebhookHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	ctx = observability.WithCorrelationID(ctx, corrID)
	log := observability.LoggerFromContext(ctx)

	var in inboundRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		log.Warn("webhook body rejected", "error", err)
		return h.respond(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"}), nil
	}
	ev, err := in.event()
	if err != nil {
		return h.respond(corrID, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: err.Error()}), nil
	}

	reply, err := h.events.HandleEvent(ctx, ev)
	if err != nil {
		code := usecase.CodeOf(err)
		status := statusFor(code)
		var ue *usecase.Error
		reason := ""
		if errors.As(err, &ue) {
			reason = ue.Reason
		}
		if status >= http.StatusInternalServerError {
			log.Error("webhook event failed", "code", code, "error", err)
		} else {
			log.Info("webhook event rejected", "code", code, "reason", reason)
		}
		return h.respond(corrID, status, errorResponse{Error: string(code), Reason: reason}), nil
	}
	return h.respond(corrID, http.StatusOK, render(reply)), nil
}

func (in inboundRequest) event() (domain.InboundEvent, error) {
	ev := domain.InboundEvent{
		ChannelID: strings.TrimSpace(in.ChannelID),
		Kind:      domain.EventKind(in.Type),
		Text:      in.Text,
		Action:    in.Action,
		Params:    in.Params,
	}
	if ev.ChannelID == "" {
		return domain.InboundEvent{}, errors.New("missing_channel_id")
	}
	switch ev.Kind {
	case domain.EventFollow, domain.EventText:
	case domain.EventAction:
		if ev.Action == "" {
			return domain.InboundEvent{}, errors.New("missing_action")
		}
	default:
		return domain.InboundEvent{}, errors.New("unknown_event_type")
	}
	return ev, nil
}

func (h *WebhookHandler) respond(corrID string, status int, body any) events.APIGatewayProxyResponse {
	if h.metrics != nil {
		h.metrics.WebhookStatus(status)
	}
	buf, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(buf),
	}
}

// correlationID reuses the caller's id (header names are case-insensitive)
// or mints a new one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return uuid.NewString()
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized
	case usecase.ErrorPreconditionFailed:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	case usecase.ErrorStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
