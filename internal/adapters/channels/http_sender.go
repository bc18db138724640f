package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/ports"
)

type sendRequestBody struct {
	ProviderID   string `json:"provider_id"`
	ProjectID    string `json:"project_id"`
	InvitationID string `json:"invitation_id"`
	Subject      string `json:"subject,omitempty"`
	Body         string `json:"body"`
}

type sendResponseBody struct {
	MessageID string `json:"message_id"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// HTTPSender hands invitations to one channel's delivery gateway over HTTP.
// The idempotency token travels as a header so the gateway can drop replays
// of an attempt it already accepted.
type HTTPSender struct {
	channel    string
	endpoint   string
	httpClient *http.Client
}

func NewHTTPSender(channel, endpoint string, httpClient *http.Client) *HTTPSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	return &HTTPSender{channel: channel, endpoint: endpoint, httpClient: httpClient}
}

func (s *HTTPSender) Send(ctx context.Context, req ports.ChannelSendRequest) (ports.ChannelSendResult, error) {
	payload, err := json.Marshal(sendRequestBody{
		ProviderID:   req.ProviderID,
		ProjectID:    req.ProjectID,
		InvitationID: req.InvitationID,
		Subject:      req.Subject,
		Body:         req.Body,
	})
	if err != nil {
		return ports.ChannelSendResult{}, fmt.Errorf("encode send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return ports.ChannelSendResult{}, fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyToken)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return ports.ChannelSendResult{}, fmt.Errorf("%s gateway: %w", s.channel, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return ports.ChannelSendResult{}, fmt.Errorf("%s gateway read: %w", s.channel, err)
	}
	var body sendResponseBody
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}

	result := ports.ChannelSendResult{
		ProviderMessageID: body.MessageID,
		Delivered:         body.Delivered,
		ErrorSummary:      body.Error,
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result.Status = ports.SendStatusAccepted
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		result.Status = ports.SendStatusTransientError
		if result.ErrorSummary == "" {
			result.ErrorSummary = fmt.Sprintf("%s gateway status %d", s.channel, resp.StatusCode)
		}
	default:
		result.Status = ports.SendStatusPermanentError
		if result.ErrorSummary == "" {
			result.ErrorSummary = fmt.Sprintf("%s gateway status %d", s.channel, resp.StatusCode)
		}
	}
	if result.Status != ports.SendStatusAccepted {
		slog.Default().WarnContext(ctx, "channel send rejected",
			"module", "channels",
			"layer", "adapter",
			"operation", "send",
			"outcome", "failure",
			"channel", s.channel,
			"status_code", resp.StatusCode,
		)
	}
	return result, nil
}

var _ ports.ChannelSender = (*HTTPSender)(nil)
