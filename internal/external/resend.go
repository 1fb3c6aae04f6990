package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gaiya/internal/types"
)

// resendAPIBase is the default Resend API base URL.
// Overridable in tests via ResendClientConfig.BaseURL.
const resendAPIBase = "https://api.resend.com"

// ResendClientConfig holds the configuration for creating a ResendClient.
type ResendClientConfig struct {
	APIKey      types.SecretString
	FromAddress string
	FromName    string
	BaseURL     string // Override for testing; defaults to resendAPIBase
	Logger      *slog.Logger
}

// ResendClient delivers transactional email through the Resend API. It
// implements the auth package's Mailer interface for one-time codes.
type ResendClient struct {
	base        *BaseClient
	apiKey      types.SecretString
	fromAddress string
	fromName    string
	baseURL     string
	logger      *slog.Logger
}

// NewResendClient creates a new ResendClient.
func NewResendClient(httpClient *http.Client, cfg ResendClientConfig) *ResendClient {
	base := NewBaseClient(
		httpClient,
		"resend",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"GaiYa/1.0",
	)
	return NewResendClientWithBase(base, cfg)
}

// NewResendClientWithBase creates a ResendClient with a pre-configured
// BaseClient.
func NewResendClientWithBase(base *BaseClient, cfg ResendClientConfig) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ResendClient{
		base:        base,
		apiKey:      cfg.APIKey,
		fromAddress: cfg.FromAddress,
		fromName:    cfg.FromName,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		logger:      logger,
	}
}

// resendSendRequest is the JSON body for POST /emails.
type resendSendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendSendResponse struct {
	ID string `json:"id"`
}

// SendOTP delivers a one-time code email for the given purpose.
func (c *ResendClient) SendOTP(ctx context.Context, email string, code string, purpose types.OTPPurpose) error {
	subject := "Your GaiYa verification code"
	intro := "Use this code to verify your email address."
	if purpose == types.OTPPurposePasswordReset {
		subject = "Your GaiYa password reset code"
		intro = "Use this code to reset your password. If you did not request this, you can ignore this email."
	}

	html := fmt.Sprintf(
		`<p>%s</p><p style="font-size:28px;font-weight:bold;letter-spacing:6px">%s</p><p>This code expires in 10 minutes.</p>`,
		intro, code,
	)

	return c.send(ctx, email, subject, html)
}

// send posts one email to the Resend API.
func (c *ResendClient) send(ctx context.Context, to string, subject string, html string) error {
	payload := resendSendRequest{
		From:    fmt.Sprintf("%s <%s>", c.fromName, c.fromAddress),
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode email request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build email request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok {
			return appErr
		}
		return types.NewAppError(types.ErrCodeUpstreamMailProvider, "email delivery request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return types.NewAppError(types.ErrCodeUpstreamMailProvider,
			fmt.Sprintf("email provider returned %d: %s", resp.StatusCode, string(snippet)), nil)
	}

	var parsed resendSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// The mail was accepted; a malformed body is only a logging loss.
		c.logger.Warn("failed to decode email provider response", "error", err)
		return nil
	}

	c.logger.Info("email dispatched", "to", to, "provider_id", parsed.ID)
	return nil
}
