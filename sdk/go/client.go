package gridpermitsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal GridPermit HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Permit represents the API permit model (partial).
type Permit struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Category         string   `json:"category"`
	State            string   `json:"state"`
	WorkStatus       string   `json:"work_status,omitempty"`
	RiskScore        int      `json:"risk_score"`
	RiskBand         string   `json:"risk_band"`
	Region           string   `json:"region,omitempty"`
	Feeder           string   `json:"feeder,omitempty"`
	CrewLead         string   `json:"crew_lead,omitempty"`
	CrewMembers      []string `json:"crew_members,omitempty"`
	WindowStart      string   `json:"window_start,omitempty"`
	WindowEnd        string   `json:"window_end,omitempty"`
	Version          int64    `json:"version"`
	PermittedActions []string `json:"permitted_actions,omitempty"`
}

// HistoryEntry is one line of a permit's audit trail.
type HistoryEntry struct {
	ID        int64  `json:"id"`
	PermitID  string `json:"permit_id"`
	TS        string `json:"ts"`
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	Action    string `json:"action"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Notes     string `json:"notes,omitempty"`
}

// Event represents a log entry. Payload is the raw JSON the server stored.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// TransitionRequest carries one workflow action and its payload blocks.
// The block fields mirror the API contract; pass only the block the
// action requires (issuance on issue, safety_checklist on activate, ...).
type TransitionRequest struct {
	Action   string `json:"action"`
	Notes    string `json:"notes,omitempty"`
	Version  int64  `json:"version,omitempty"`
	Issuance any    `json:"issuance,omitempty"`
	Safety   any    `json:"safety_checklist,omitempty"`
	PreStart any    `json:"pre_start,omitempty"`
	Evidence any    `json:"evidence,omitempty"`
}

// APIError wraps non-2xx responses, exposing the error envelope when
// the body parses as one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreatePermit drafts a permit. The body map takes the create contract's
// fields (title, category, crew_lead, window_start, ...).
func (c *Client) CreatePermit(ctx context.Context, body map[string]any) (Permit, error) {
	var resp Permit
	err := c.do(ctx, http.MethodPost, "permits", body, &resp)
	return resp, err
}

// GetPermit fetches a permit by id.
func (c *Client) GetPermit(ctx context.Context, id string) (Permit, error) {
	var resp Permit
	err := c.do(ctx, http.MethodGet, "permits/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListPermits returns permits matching the filters. Filters may include
// state, region, crew_member, created_by and limit.
func (c *Client) ListPermits(ctx context.Context, filters map[string]string) ([]Permit, error) {
	endpoint := "permits"
	if len(filters) > 0 {
		q := url.Values{}
		for k, v := range filters {
			if v != "" {
				q.Set(k, v)
			}
		}
		if enc := q.Encode(); enc != "" {
			endpoint += "?" + enc
		}
	}
	var resp []Permit
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition applies one workflow action to a permit.
func (c *Client) Transition(ctx context.Context, id string, req TransitionRequest) (Permit, error) {
	var resp Permit
	endpoint := fmt.Sprintf("permits/%s/transition", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, req, &resp)
	return resp, err
}

// History returns a permit's audit trail.
func (c *Client) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	endpoint := fmt.Sprintf("permits/%s/history", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddProgress appends a progress note to an in-progress permit.
func (c *Client) AddProgress(ctx context.Context, id, notes string, photoRefs []string) error {
	body := map[string]any{
		"notes":      notes,
		"photo_refs": photoRefs,
	}
	endpoint := fmt.Sprintf("permits/%s/progress", url.PathEscape(id))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
