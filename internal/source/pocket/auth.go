package pocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AuthConfig holds the OAuth endpoint configuration.
type AuthConfig struct {
	BaseURL     string
	ConsumerKey string
	RedirectURI string
	UserAgent   string
	Timeout     time.Duration
}

// AuthClient performs Pocket's three-step authorization handshake.
type AuthClient struct {
	httpClient  *http.Client
	baseURL     string
	consumerKey string
	redirectURI string
	userAgent   string
	logger      *slog.Logger
}

func NewAuthClient(cfg AuthConfig, logger *slog.Logger) *AuthClient {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultAgent
	}
	return &AuthClient{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		consumerKey: cfg.ConsumerKey,
		redirectURI: cfg.RedirectURI,
		userAgent:   userAgent,
		logger:      logger.With("source", SourceID, "component", "auth"),
	}
}

// ConsumerKey returns the key the client authorizes for.
func (c *AuthClient) ConsumerKey() string {
	return c.consumerKey
}

// RequestCode obtains a temporary request token.
func (c *AuthClient) RequestCode(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("consumer_key", c.consumerKey)
	form.Set("redirect_uri", c.redirectURI)

	var resp requestCodeResponse
	if _, err := postForm(ctx, c.httpClient, c.baseURL+"/v3/oauth/request", c.userAgent, form, &resp); err != nil {
		return "", fmt.Errorf("request code: %w", err)
	}
	if resp.Code == "" {
		return "", errors.New("request code: empty code in response")
	}

	c.logger.Debug("obtained request code")
	return resp.Code, nil
}

// AuthorizeURL is the page the operator opens to approve the request token.
func (c *AuthClient) AuthorizeURL(code string) string {
	q := url.Values{}
	q.Set("request_token", code)
	q.Set("redirect_uri", c.redirectURI)
	return c.baseURL + "/auth/authorize?" + q.Encode()
}

// ExchangeCode trades an approved request token for a permanent access token.
func (c *AuthClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("consumer_key", c.consumerKey)
	form.Set("code", code)

	var resp accessTokenResponse
	if _, err := postForm(ctx, c.httpClient, c.baseURL+"/v3/oauth/authorize", c.userAgent, form, &resp); err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("exchange code: empty access token in response")
	}

	c.logger.Info("authorized", "username", resp.Username)
	return resp.AccessToken, nil
}
