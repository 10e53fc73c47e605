package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SMSGateway posts messages to a JSON SMS provider endpoint.
type SMSGateway struct {
	baseURL    string
	apiKey     string
	sender     string
	httpClient *http.Client
}

func NewSMSGateway(baseURL, apiKey, sender string) *SMSGateway {
	return &SMSGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		sender:     sender,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *SMSGateway) Send(ctx context.Context, phone, body string) error {
	if g.baseURL == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"to":   phone,
		"from": g.sender,
		"text": body,
	})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("send sms: status %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}
	return nil
}
