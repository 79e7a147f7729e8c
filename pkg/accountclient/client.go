/**
 * @description
 * This package provides a client for communicating with the account-service.
 * The crowdfund-service uses it to resolve a contributor's user id to the Anchor
 * deposit account that funds are pulled from and refunded to.
 */
package accountclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAccountNotFound is returned when the account-service has no account for the user.
var ErrAccountNotFound = errors.New("account not found")

// Client is a client for the account service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new account service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// AccountResponse defines the account-service view of a user's primary wallet.
type AccountResponse struct {
	AccountID       string `json:"account_id"`
	UserID          string `json:"user_id"`
	AnchorAccountID string `json:"anchor_account_id"`
}

// ResolveAccount returns the Anchor deposit account id for the given user.
func (c *Client) ResolveAccount(ctx context.Context, userID string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("account service base url is empty")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}

	endpoint := fmt.Sprintf("%s/internal/accounts/primary/%s", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request to account service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrAccountNotFound
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("account service returned error status %d", resp.StatusCode)
	}

	var response AccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if strings.TrimSpace(response.AnchorAccountID) == "" {
		return "", ErrAccountNotFound
	}

	return strings.TrimSpace(response.AnchorAccountID), nil
}
