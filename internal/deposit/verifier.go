package deposit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type VerifyRequest struct {
	Ref    string          `json:"reference"`
	Amount decimal.Decimal `json:"amount"`
	Outlet string          `json:"outlet"`
	Date   string          `json:"date"`
}

type Verification struct {
	Verified bool            `json:"verified"`
	Ref      string          `json:"reference"`
	Amount   decimal.Decimal `json:"amount"`
	Payer    string          `json:"payer,omitempty"`
	Raw      json.RawMessage `json:"-"`
}

// Verifier confirms a payment reference against the payment provider.
// Any error means "not verified".
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) (Verification, error)
}

type HTTPVerifier struct {
	url     string
	token   string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPVerifier(url string, token string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HTTPVerifier{
		url:     url,
		token:   token,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (v *HTTPVerifier) Verify(ctx context.Context, req VerifyRequest) (Verification, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return Verification{}, fmt.Errorf("marshal verify request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return Verification{}, fmt.Errorf("build verify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if v.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.token)
	}

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return Verification{}, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Verification{}, fmt.Errorf("read verify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Verification{}, fmt.Errorf("verify endpoint status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out Verification
	if err := json.Unmarshal(raw, &out); err != nil {
		return Verification{}, fmt.Errorf("decode verify response: %w", err)
	}
	out.Raw = raw
	if out.Verified && !out.Amount.IsZero() && !out.Amount.Equal(req.Amount) {
		out.Verified = false
	}
	if out.Verified && out.Ref != "" && !strings.EqualFold(out.Ref, req.Ref) {
		out.Verified = false
	}
	return out, nil
}
