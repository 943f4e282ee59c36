// Package apiclient talks to the turapp HTTP API and backs the flow sessions.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"turapp/internal/flow"
	"turapp/internal/models"
)

var (
	ErrSendFailed = errors.New("failed to send verification code")
	ErrThrottled  = errors.New("too many requests, try later")
)

// APIError is any non-2xx answer that is not a verification result.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: httpClient}
}

var (
	_ flow.TwoFactorBackend     = (*Client)(nil)
	_ flow.PasswordResetBackend = (*Client)(nil)
)

// LoginResponse mirrors POST /login. With two-factor on, AccessToken is
// empty and ChallengeToken carries the second step.
type LoginResponse struct {
	User               models.User `json:"user"`
	TwoFactorRequired  bool        `json:"two_factor_required"`
	CodeExpiresAt      *time.Time  `json:"code_expires_at,omitempty"`
	ChallengeToken     string      `json:"challenge_token,omitempty"`
	ChallengeExpiresAt *time.Time  `json:"challenge_expires_at,omitempty"`
	AccessToken        string      `json:"access_token,omitempty"`
	AccessExpiresAt    *time.Time  `json:"access_expires_at,omitempty"`
}

// Identity is what a TwoFactorSession needs to pick up after login.
func (r *LoginResponse) Identity() flow.Identity {
	return flow.Identity{
		UserID:      r.User.ID,
		Email:       r.User.Email,
		DisplayName: r.User.DisplayName,
		Language:    r.User.Language,
		Challenge:   r.ChallengeToken,
	}
}

func (c *Client) Login(ctx context.Context, email, password string, lang models.Language) (*LoginResponse, error) {
	var out LoginResponse
	in := map[string]string{"email": email, "password": password, "language": string(lang)}
	if err := c.post(ctx, "/login", in, &out); err != nil {
		return nil, sendError(err)
	}
	return &out, nil
}

func (c *Client) StartTwoFactor(ctx context.Context, challenge string, lang models.Language) (time.Time, error) {
	var out struct {
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.post(ctx, "/login/2fa/resend", map[string]string{"challenge_token": challenge, "language": string(lang)}, &out); err != nil {
		return time.Time{}, sendError(err)
	}
	return out.ExpiresAt, nil
}

func (c *Client) VerifyTwoFactor(ctx context.Context, challenge, code string) (models.VerifyResult, *flow.AccessToken, error) {
	var out struct {
		models.VerifyResult
		Tokens *flow.AccessToken `json:"tokens"`
	}
	if err := c.post(ctx, "/login/2fa/verify", map[string]string{"challenge_token": challenge, "code": code}, &out); err != nil {
		if loginRequired(err) {
			return models.VerifyFailure(models.VerifyErrNoCodeFound), nil, fmt.Errorf("%w: %w", flow.ErrLoginRequired, err)
		}
		return models.VerifyFailure(models.VerifyErrUnknown), nil, err
	}
	return out.VerifyResult, out.Tokens, nil
}

func (c *Client) CancelTwoFactor(ctx context.Context, challenge string) error {
	err := c.post(ctx, "/login/2fa/cancel", map[string]string{"challenge_token": challenge}, nil)
	if loginRequired(err) {
		return fmt.Errorf("%w: %w", flow.ErrLoginRequired, err)
	}
	return err
}

func (c *Client) RequestReset(ctx context.Context, email string, lang models.Language) (time.Time, error) {
	var out struct {
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.post(ctx, "/password-reset/request", map[string]string{"email": email, "language": string(lang)}, &out); err != nil {
		return time.Time{}, err
	}
	return out.ExpiresAt, nil
}

func (c *Client) CancelReset(ctx context.Context, email string) error {
	return c.post(ctx, "/password-reset/cancel", map[string]string{"email": email}, nil)
}

func (c *Client) VerifyReset(ctx context.Context, email, code string) (models.VerifyResult, *flow.ResetGrant, error) {
	var out struct {
		models.VerifyResult
		flow.ResetGrant
	}
	if err := c.post(ctx, "/password-reset/verify", map[string]string{"email": email, "code": code}, &out); err != nil {
		return models.VerifyFailure(models.VerifyErrUnknown), nil, err
	}
	if !out.Success || out.Token == "" {
		return out.VerifyResult, nil, nil
	}
	grant := out.ResetGrant
	return out.VerifyResult, &grant, nil
}

func (c *Client) CompleteReset(ctx context.Context, grant, newPassword string) error {
	err := c.post(ctx, "/password-reset/complete", map[string]string{"reset_token": grant, "new_password": newPassword}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return flow.ErrNotVerified
	}
	return err
}

// sendError tags the statuses a code send can end with.
func sendError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", ErrThrottled, err)
	case apiErr.Status == http.StatusBadGateway:
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	case loginRequired(err):
		return fmt.Errorf("%w: %w", flow.ErrLoginRequired, err)
	}
	return err
}

func loginRequired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized && apiErr.Message == "login_required"
}

// post decodes 2xx bodies and verification results (which come back with
// 4xx/5xx) into out. Anything else becomes an *APIError.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", path, err)
	}

	ok := resp.StatusCode < 300
	if !ok && isVerifyResult(raw) {
		ok = true
	}
	if !ok {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode: %w", path, err)
		}
	}
	return nil
}

func isVerifyResult(raw []byte) bool {
	var probe struct {
		Success *bool `json:"success"`
	}
	return json.Unmarshal(raw, &probe) == nil && probe.Success != nil
}
