// Package remote is the client for the server-of-record HTTP API.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// TimelineRecord is the flat item shape the server returns.
type TimelineRecord struct {
	ID              string `json:"id"`
	InteractionID   string `json:"interactionId"`
	Type            string `json:"type"`
	Content         string `json:"content,omitempty"`
	MessageType     string `json:"messageType,omitempty"`
	Amount          int64  `json:"amount,omitempty"`
	CurrencyCode    string `json:"currencyCode,omitempty"`
	FromWalletID    string `json:"fromWalletId,omitempty"`
	ToWalletID      string `json:"toWalletId,omitempty"`
	TransactionType string `json:"transactionType,omitempty"`
	FromEntityID    string `json:"fromEntityId,omitempty"`
	ToEntityID      string `json:"toEntityId,omitempty"`
	Status          string `json:"status,omitempty"`
	CreatedAtUnixMs int64  `json:"createdAt"`
}

type timelineResponse struct {
	Items []TimelineRecord `json:"items"`
}

// Confirmation is one delivery/read acknowledgment for a server item.
type Confirmation struct {
	ServerID string `json:"serverId"`
	State    string `json:"state"` // delivered | read
}

// SubmitResult is the server's acknowledgment of a submitted item.
type SubmitResult struct {
	ServerID string `json:"serverId"`
	Status   string `json:"status"`
}

// Client talks to the server-of-record.
type Client struct {
	http *resty.Client
}

// New creates a client for the given base URL.
func New(baseURL, token string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Client{http: c}
}

// FetchTimeline returns items of one conversation with created_at strictly
// after the given watermark (unix milliseconds).
func (c *Client) FetchTimeline(ctx context.Context, interactionID string, afterMs int64, limit int) ([]TimelineRecord, error) {
	var out timelineResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("after", fmt.Sprintf("%d", afterMs)).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetResult(&out).
		Get("/v1/interactions/" + interactionID + "/timeline")
	if err != nil {
		return nil, &Error{Op: "fetch timeline", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError("fetch timeline", resp)
	}
	return out.Items, nil
}

// SubmitItem posts one locally-created item (message or transfer) and
// returns the server-assigned id.
func (c *Client) SubmitItem(ctx context.Context, interactionID string, record *TimelineRecord) (*SubmitResult, error) {
	var out SubmitResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(record).
		SetResult(&out).
		Post("/v1/interactions/" + interactionID + "/items")
	if err != nil {
		return nil, &Error{Op: "submit item", Err: err}
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return nil, statusError("submit item", resp)
	}
	return &out, nil
}

// ConfirmDeliveries posts a batch of delivery/read confirmations as one call.
func (c *Client) ConfirmDeliveries(ctx context.Context, batch []Confirmation) error {
	if len(batch) == 0 {
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"confirmations": batch}).
		Post("/v1/delivery-confirmations")
	if err != nil {
		return &Error{Op: "confirm deliveries", Err: err}
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return statusError("confirm deliveries", resp)
	}
	return nil
}

// ExecuteOperation posts a queued offline operation to its endpoint.
func (c *Client) ExecuteOperation(ctx context.Context, endpoint, payload string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post(endpoint)
	if err != nil {
		return &Error{Op: "execute operation", Err: err}
	}
	if resp.StatusCode() >= 300 {
		return statusError("execute operation", resp)
	}
	return nil
}
