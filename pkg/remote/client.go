package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "chatsync/internal/errors"
	"chatsync/pkg/remote/types"
)

const (
	messageModel     = "message"
	channelLinkModel = "channel-message-link"
)

// RecordClient talks to the record-oriented backend over HTTP.
type RecordClient struct {
	baseURL   string
	database  string
	authToken string
	client    *http.Client
}

// ClientOptions configures a RecordClient.
type ClientOptions struct {
	BaseURL   string
	Database  string
	AuthToken string
	Timeout   time.Duration
}

// NewClient creates a Remote Record API client.
func NewClient(opts ClientOptions) types.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RecordClient{
		baseURL:   opts.BaseURL,
		database:  opts.Database,
		authToken: opts.AuthToken,
		client:    &http.Client{Timeout: timeout},
	}
}

// SearchMessages performs a domain-filtered read of the message table.
func (c *RecordClient) SearchMessages(ctx context.Context, q types.SearchQuery) ([]types.RemoteMessage, error) {
	filters := []types.Filter{
		{"model", "=", channelLinkModel},
		{"res_id", "=", q.ChannelID},
	}
	if q.BeforeID > 0 {
		filters = append(filters, types.Filter{"id", "<", q.BeforeID})
	}
	if !q.Since.IsZero() {
		filters = append(filters, types.Filter{"date", ">", q.Since.UTC().Format(time.RFC3339)})
	}

	order := "date desc, id desc"
	if q.Ascending {
		order = "date asc, id asc"
	}

	req := types.SearchRequest{
		Model:   messageModel,
		Filters: filters,
		Fields: []string{"id", "res_id", "body", "author_id", "author_name",
			"date", "message_type", "reply_to_id", "attachment_ids"},
		Order: order,
		Limit: q.Limit,
	}

	var resp types.SearchResponse
	if err := c.post(ctx, "/api/records/search", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("search failed: %s", resp.Error)
	}
	return resp.Records, nil
}

// CreateMessage writes a new message record and returns its server id.
func (c *RecordClient) CreateMessage(ctx context.Context, values types.CreateValues) (int64, error) {
	req := types.CreateRequest{
		Model:  messageModel,
		Values: values,
	}

	var resp types.CreateResponse
	if err := c.post(ctx, "/api/records/create", req, &resp); err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("create failed: %s", resp.Error)
	}
	if resp.ID == 0 {
		return 0, fmt.Errorf("create returned no record id")
	}
	return resp.ID, nil
}

func (c *RecordClient) post(ctx context.Context, endpoint string, payload, result interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.database != "" {
		req.Header.Set("X-Database", c.database)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Status zero marks a connection-level failure as retryable.
		return apperrors.NewRemoteAPIError(endpoint, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return apperrors.NewRemoteAPIError(endpoint, resp.StatusCode,
			fmt.Errorf("request failed with status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
