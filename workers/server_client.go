// workers/server_client.go
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"reward-sync-system/models"
	"reward-sync-system/utils"
)

// Batch submission statuses returned per event by the server. "duplicate"
// means the server had already applied the event ID — the idempotency key did
// its job — and is treated exactly like "accepted".
const (
	BatchStatusAccepted  = "accepted"
	BatchStatusRejected  = "rejected"
	BatchStatusDuplicate = "duplicate"
)

type BatchResult struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type BatchResponse struct {
	Results []BatchResult `json:"results"`
}

type batchRequest struct {
	Events []models.CoalescedBatch `json:"events"`
}

// ServerClient talks to the remote gamification store.
type ServerClient struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

func NewServerClient(baseURL, serviceToken string) *ServerClient {
	return &ServerClient{
		baseURL:      baseURL,
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
	}
}

// SubmitBatch posts coalesced batches to the idempotent batch endpoint and
// returns the per-event accept/reject statuses.
func (c *ServerClient) SubmitBatch(ctx context.Context, batches []models.CoalescedBatch) (*BatchResponse, error) {
	body, err := json.Marshal(batchRequest{Events: batches})
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	finalURL, err := c.endpoint("/api/v1/events/batch")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", finalURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.serviceToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to sync server failed: %w", err)
	}
	defer func() {
		// Always drain & close to prevent connection leaks
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync server non-200 response: %d — %s", resp.StatusCode, string(errBody))
	}

	var response BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}
	return &response, nil
}

// FetchProgress reads the authoritative progression snapshot for a student.
func (c *ServerClient) FetchProgress(ctx context.Context, studentID string) (*models.ServerProgress, error) {
	finalURL, err := c.endpoint("/api/v1/students/" + studentID + "/progress")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", finalURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", c.serviceToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to sync server failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync server non-200 response: %d — %s", resp.StatusCode, string(errBody))
	}

	var progress models.ServerProgress
	if err := json.NewDecoder(resp.Body).Decode(&progress); err != nil {
		return nil, fmt.Errorf("failed to decode progress response: %w", err)
	}
	return &progress, nil
}

func (c *ServerClient) endpoint(path string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid sync server URL '%s': %w", c.baseURL, err)
	}
	return base.JoinPath(path).String(), nil
}
