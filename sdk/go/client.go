package daybooksdk

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

// Client is a minimal Daybook HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

// Document is the generic record shape returned by resource endpoints.
type Document map[string]any

// ID returns the document identifier, if present.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// User is the account model returned by login and /users.
type User struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Roles     []string `json:"roles"`
}

// TaskTimer is the timer model returned by start and stop transitions.
type TaskTimer struct {
	ID           string `json:"id"`
	TimesheetRid string `json:"timesheetRid,omitempty"`
	UserRid      string `json:"userRid"`
	IsActive     bool   `json:"isActive"`
	StartTime    int64  `json:"startTime"`
	Seconds      int64  `json:"seconds"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type loginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	User    User   `json:"user"`
}

// Login authenticates and stores the bearer token on the client.
func (c *Client) Login(ctx context.Context, username, password string) (User, error) {
	body := map[string]any{
		"username": username,
		"password": password,
	}
	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "login", body, &resp); err != nil {
		return User{}, err
	}
	if !resp.Success {
		return User{}, &APIError{StatusCode: http.StatusUnauthorized, Body: "invalid credentials"}
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// CurrentUser returns the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "currentUser", nil, &resp)
	return resp, err
}

// List returns the documents of a resource visible to the caller.
// Filters become equality query parameters.
func (c *Client) List(ctx context.Context, resource string, filters map[string]string) ([]Document, error) {
	endpoint := url.PathEscape(resource)
	if len(filters) > 0 {
		q := url.Values{}
		for k, v := range filters {
			q.Set(k, v)
		}
		endpoint += "?" + q.Encode()
	}
	var resp []Document
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Get fetches one document by id.
func (c *Client) Get(ctx context.Context, resource, id string) (Document, error) {
	var resp Document
	endpoint := fmt.Sprintf("%s/%s", url.PathEscape(resource), url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Create creates a document and returns the stored copy.
func (c *Client) Create(ctx context.Context, resource string, body Document) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodPost, url.PathEscape(resource), body, &resp)
	return resp, err
}

// Update replaces the document with the given id.
func (c *Client) Update(ctx context.Context, resource, id string, body Document) (Document, error) {
	var resp Document
	endpoint := fmt.Sprintf("%s/%s", url.PathEscape(resource), url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Remove deletes a document by id.
func (c *Client) Remove(ctx context.Context, resource, id string) error {
	endpoint := fmt.Sprintf("%s/%s", url.PathEscape(resource), url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// StartTimer activates a task timer, deactivating any other running
// timer owned by the caller.
func (c *Client) StartTimer(ctx context.Context, timesheetID, timerID string) (TaskTimer, error) {
	var resp TaskTimer
	endpoint := fmt.Sprintf("timesheets/%s/taskTimers/%s/start", url.PathEscape(timesheetID), url.PathEscape(timerID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// StopTimer deactivates a task timer and folds the elapsed time into
// its accumulated seconds.
func (c *Client) StopTimer(ctx context.Context, timesheetID, timerID string) (TaskTimer, error) {
	var resp TaskTimer
	endpoint := fmt.Sprintf("timesheets/%s/taskTimers/%s/stop", url.PathEscape(timesheetID), url.PathEscape(timerID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.ContentLength != 0 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return err
		}
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
