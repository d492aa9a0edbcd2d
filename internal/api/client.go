// Package api speaks to the remote collector over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Record is the wire form of one activity record. Both the granular and the
// bulk endpoint accept this shape.
type Record struct {
	Language string `json:"language"`
	Lines    int    `json:"lines"`
	Time     int64  `json:"time"` // whole seconds
	Date     string `json:"date"`
	Hour     int    `json:"hour"`
}

// SyncResult is the collector's accounting for one bulk sync call.
type SyncResult struct {
	Saved   int `json:"saved"`
	Grouped int `json:"grouped"`
}

// Client is an authenticated collector client. The zero value is not usable;
// construct with NewClient.
type Client struct {
	baseURL   string
	apiKey    string
	machineID string
	http      *http.Client
}

// NewClient returns a client for the collector at baseURL, authenticating
// with the given bearer key and identifying this installation by machineID.
func NewClient(baseURL, apiKey, machineID string) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		machineID: machineID,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// SendRecord posts a single record to the granular ingest endpoint.
func (c *Client) SendRecord(ctx context.Context, r Record) error {
	res, err := c.post(ctx, "/api/v1/records", r)
	if err != nil {
		return fmt.Errorf("send record: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("send record: %w", responseError(res))
	}
	return nil
}

// SyncRecords posts the whole batch in a single request and returns the
// collector's saved/grouped counts. Acceptance is all-or-nothing: any
// transport failure or non-success status means nothing in the batch may be
// considered delivered.
func (c *Client) SyncRecords(ctx context.Context, records []Record) (SyncResult, error) {
	res, err := c.post(ctx, "/api/v1/records/sync", records)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync records: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return SyncResult{}, fmt.Errorf("sync records: %w", responseError(res))
	}

	var result SyncResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return SyncResult{}, fmt.Errorf("decode sync response: %w", err)
	}
	return result, nil
}

// ValidateKey performs a lightweight round trip to prove the configured key
// is recognized. A success status or a plain bad-request both count as
// recognition (the collector saw and understood the credential); anything
// else, including transport failure, reports the key as invalid.
func (c *Client) ValidateKey(ctx context.Context) error {
	res, err := c.post(ctx, "/api/v1/records", nil)
	if err != nil {
		return fmt.Errorf("validate key: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 == 2 || res.StatusCode == http.StatusBadRequest {
		return nil
	}
	return fmt.Errorf("validate key: %w", responseError(res))
}

// post marshals payload and issues an authenticated POST to path. A nil
// payload sends an empty body.
func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Machine-Id", c.machineID)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	return res, nil
}

// responseError turns a non-success response into an error, preferring the
// collector's own {"error": "..."} message when the body carries one.
func responseError(res *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	var msg struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &msg); err == nil && msg.Error != "" {
		return errors.New(msg.Error)
	}
	return fmt.Errorf("unexpected status %d", res.StatusCode)
}
