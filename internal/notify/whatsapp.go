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

// WhatsAppSender posts messages to a WhatsApp Business compatible endpoint.
type WhatsAppSender struct {
	apiURL string
	token  string
	client *http.Client
}

func NewWhatsAppSender(apiURL string, token string) *WhatsAppSender {
	return &WhatsAppSender{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WhatsAppSender) SendText(ctx context.Context, phone string, body string) error {
	return s.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                formatPhoneNumber(phone),
		"type":              "text",
		"text":              map[string]string{"body": body},
	})
}

func (s *WhatsAppSender) SendTemplate(ctx context.Context, phone string, template string, params []string) error {
	parameters := make([]map[string]string, 0, len(params))
	for _, param := range params {
		parameters = append(parameters, map[string]string{"type": "text", "text": param})
	}
	return s.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                formatPhoneNumber(phone),
		"type":              "template",
		"template": map[string]any{
			"name":       template,
			"language":   map[string]string{"code": "en"},
			"components": []map[string]any{{"type": "body", "parameters": parameters}},
		},
	})
}

func (s *WhatsAppSender) post(ctx context.Context, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("whatsapp api error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// formatPhoneNumber normalizes local Kenyan numbers to 2547XXXXXXXX.
func formatPhoneNumber(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	switch {
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		return "254" + digits[1:]
	case len(digits) == 9 && (strings.HasPrefix(digits, "7") || strings.HasPrefix(digits, "1")):
		return "254" + digits
	}
	return digits
}
