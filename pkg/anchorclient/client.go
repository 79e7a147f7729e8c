/**
 * @description
 * This package provides a client for the Anchor BaaS API, which custodies the
 * campaign's escrow deposit account. It builds authenticated book-transfer requests
 * and parses Anchor's success and error envelopes.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package anchorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrRequestNotSent marks a transfer request that failed before it reached Anchor.
var ErrRequestNotSent = errors.New("anchor request not sent")

// Client is a client for the Anchor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Anchor API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type resourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type relationship struct {
	Data resourceRef `json:"data"`
}

// BookTransferAttributes holds the money fields of a book transfer.
type BookTransferAttributes struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
}

// BookTransferRequest is the JSON:API envelope Anchor expects for a transfer
// between two deposit accounts it custodies.
type BookTransferRequest struct {
	Data struct {
		Type          string                 `json:"type"`
		Attributes    BookTransferAttributes `json:"attributes"`
		Relationships struct {
			Account            relationship `json:"account"`
			DestinationAccount relationship `json:"destinationAccount"`
		} `json:"relationships"`
	} `json:"data"`
}

func newBookTransferRequest(sourceAccountID, destAccountID, reason string, amount int64) BookTransferRequest {
	var req BookTransferRequest
	req.Data.Type = "BookTransfer"
	req.Data.Attributes = BookTransferAttributes{Currency: "NGN", Amount: amount, Reason: reason}
	req.Data.Relationships.Account = relationship{Data: resourceRef{Type: "DepositAccount", ID: sourceAccountID}}
	req.Data.Relationships.DestinationAccount = relationship{Data: resourceRef{Type: "DepositAccount", ID: destAccountID}}
	return req
}

// TransferResponse is the part of Anchor's transfer answer the campaign reads.
type TransferResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status string `json:"status"`
			Fee    int64  `json:"fee"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents an error from the Anchor API.
type ErrorResponse struct {
	HTTPStatus int `json:"-"`
	Errors     []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if title, detail := e.first(); title != "" || detail != "" {
		return fmt.Sprintf("anchor api error: %s - %s", title, detail)
	}
	return "unknown anchor api error"
}

func (e *ErrorResponse) first() (title, detail string) {
	if len(e.Errors) == 0 {
		return "", ""
	}
	return e.Errors[0].Title, e.Errors[0].Detail
}

// IsExplicitRejection reports whether Anchor definitively refused the request
// (a 4xx answer), as opposed to an outage where the outcome is unknown. A 408
// means Anchor gave up waiting and may still have applied the transfer.
func (e *ErrorResponse) IsExplicitRejection() bool {
	if e == nil {
		return false
	}
	status := e.HTTPStatus
	if status == 0 && len(e.Errors) > 0 {
		status, _ = strconv.Atoi(strings.TrimSpace(e.Errors[0].Status))
	}
	return status >= 400 && status < 500 && status != http.StatusRequestTimeout
}

// InitiateBookTransfer moves amount kobo between two Anchor deposit accounts.
func (c *Client) InitiateBookTransfer(ctx context.Context, sourceAccountID, destAccountID, reason string, amount int64) (*TransferResponse, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("%w: anchor base url is not configured", ErrRequestNotSent)
	}
	return c.postTransfer(ctx, newBookTransferRequest(sourceAccountID, destAccountID, reason, amount))
}

func (c *Client) postTransfer(ctx context.Context, payload BookTransferRequest) (*TransferResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal transfer request: %v", ErrRequestNotSent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/transfers", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create transfer request: %v", ErrRequestNotSent, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-anchor-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transfer request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transfer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{HTTPStatus: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=anchor_client op=book_transfer status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, &ErrorResponse{HTTPStatus: resp.StatusCode}
		}
		title, detail := errResp.first()
		log.Printf("level=warn component=anchor_client op=book_transfer status=%d title=%q detail=%q", resp.StatusCode, title, detail)
		return nil, &errResp
	}

	var successResp TransferResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}

	return &successResp, nil
}
