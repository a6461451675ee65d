package todoist

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

	"github.com/goliatone/go-taskhooks/core"
)

const (
	defaultBaseURL        = "https://api.todoist.com/api/v1"
	defaultRequestTimeout = 10 * time.Second
	oauthTokenURL         = "https://todoist.com/oauth/access_token"
	maxResponseBodyBytes  = 4 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type ClientConfig struct {
	APIToken   string
	BaseURL    string
	OAuthURL   string
	Timeout    time.Duration
	HTTPClient HTTPDoer
}

// Client talks to the Todoist unified API. All calls take a context and map
// non-2xx responses to error envelopes carrying the remote status.
type Client struct {
	apiToken   string
	baseURL    string
	oauthURL   string
	httpClient HTTPDoer
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	oauthURL := strings.TrimSpace(cfg.OAuthURL)
	if oauthURL == "" {
		oauthURL = oauthTokenURL
	}
	return &Client{
		apiToken:   strings.TrimSpace(cfg.APIToken),
		baseURL:    baseURL,
		oauthURL:   oauthURL,
		httpClient: httpClient,
	}
}

type taskPayload struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	ProjectID string      `json:"project_id"`
	ParentID  string      `json:"parent_id"`
	Labels    []string    `json:"labels"`
	Due       *duePayload `json:"due"`
	URL       string      `json:"url"`
}

type duePayload struct {
	Date        string `json:"date"`
	Datetime    string `json:"datetime"`
	String      string `json:"string"`
	IsRecurring bool   `json:"is_recurring"`
}

type commentPayload struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	Content  string `json:"content"`
	PostedAt string `json:"posted_at"`
}

func (c *Client) GetTask(ctx context.Context, taskID string) (core.Task, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return core.Task{}, core.BadInput("todoist: task id is required", nil)
	}
	var payload taskPayload
	if err := c.getJSON(ctx, "/tasks/"+url.PathEscape(taskID), nil, &payload); err != nil {
		return core.Task{}, err
	}
	return taskToDomain(payload), nil
}

func (c *Client) ListComments(ctx context.Context, taskID string) ([]core.Comment, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, core.BadInput("todoist: task id is required", nil)
	}
	var payload []commentPayload
	query := url.Values{"task_id": []string{taskID}}
	if err := c.getJSON(ctx, "/comments", query, &payload); err != nil {
		return nil, err
	}
	comments := make([]core.Comment, 0, len(payload))
	for _, comment := range payload {
		comments = append(comments, core.Comment{
			ID:       comment.ID,
			TaskID:   comment.TaskID,
			Content:  comment.Content,
			PostedAt: comment.PostedAt,
		})
	}
	return comments, nil
}

func (c *Client) DeleteComment(ctx context.Context, commentID string) error {
	commentID = strings.TrimSpace(commentID)
	if commentID == "" {
		return core.BadInput("todoist: comment id is required", nil)
	}
	return c.delete(ctx, "/comments/"+url.PathEscape(commentID))
}

func (c *Client) ListProjectTasks(ctx context.Context, projectID string) ([]core.Task, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, core.BadInput("todoist: project id is required", nil)
	}
	var payload []taskPayload
	query := url.Values{"project_id": []string{projectID}}
	if err := c.getJSON(ctx, "/tasks", query, &payload); err != nil {
		return nil, err
	}
	tasks := make([]core.Task, 0, len(payload))
	for _, task := range payload {
		tasks = append(tasks, taskToDomain(task))
	}
	return tasks, nil
}

func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return core.BadInput("todoist: task id is required", nil)
	}
	return c.delete(ctx, "/tasks/"+url.PathEscape(taskID))
}

// OAuthToken is the exchange result for the authorization-code flow.
type OAuthToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

func (c *Client) ExchangeOAuthCode(
	ctx context.Context,
	code string,
	clientID string,
	clientSecret string,
	redirectURI string,
) (OAuthToken, error) {
	code = strings.TrimSpace(code)
	clientID = strings.TrimSpace(clientID)
	clientSecret = strings.TrimSpace(clientSecret)
	if code == "" || clientID == "" || clientSecret == "" {
		return OAuthToken{}, core.BadInput("todoist: code, client id, and client secret are required", nil)
	}
	body, err := json.Marshal(map[string]string{
		"code":          code,
		"client_id":     clientID,
		"client_secret": clientSecret,
		"redirect_uri":  strings.TrimSpace(redirectURI),
	})
	if err != nil {
		return OAuthToken{}, core.Internal(err, "todoist: encode oauth exchange request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oauthURL, bytes.NewReader(body))
	if err != nil {
		return OAuthToken{}, core.Internal(err, "todoist: build oauth exchange request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return OAuthToken{}, core.RemoteFailed(err, "todoist: oauth exchange request failed", nil)
	}
	defer discardBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return OAuthToken{}, remoteStatusError(resp, "oauth exchange")
	}
	var token OAuthToken
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes)).Decode(&token); err != nil {
		return OAuthToken{}, core.RemoteFailed(err, "todoist: decode oauth exchange response", nil)
	}
	return token, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if c == nil || c.httpClient == nil {
		return core.Internal(nil, "todoist: client is not configured")
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.Internal(err, "todoist: build request")
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.RemoteFailed(err, "todoist: request failed", map[string]any{"path": path})
	}
	defer discardBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remoteStatusError(resp, path)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes)).Decode(out); err != nil {
		return core.RemoteFailed(err, "todoist: decode response", map[string]any{"path": path})
	}
	return nil
}

func (c *Client) delete(ctx context.Context, path string) error {
	if c == nil || c.httpClient == nil {
		return core.Internal(nil, "todoist: client is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return core.Internal(err, "todoist: build request")
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.RemoteFailed(err, "todoist: request failed", map[string]any{"path": path})
	}
	defer discardBody(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return remoteStatusError(resp, path)
	}
	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	req.Header.Set("Content-Type", "application/json")
}

func remoteStatusError(resp *http.Response, operation string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return core.RemoteFailed(
		fmt.Errorf("todoist: %s returned status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(snippet))),
		"todoist: remote call failed",
		map[string]any{"status": resp.StatusCode, "operation": operation},
	)
}

func discardBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodyBytes))
	_ = resp.Body.Close()
}

func taskToDomain(payload taskPayload) core.Task {
	task := core.Task{
		ID:        payload.ID,
		Content:   payload.Content,
		ProjectID: payload.ProjectID,
		ParentID:  payload.ParentID,
		Labels:    append([]string(nil), payload.Labels...),
		URL:       payload.URL,
	}
	if payload.Due != nil {
		task.Due = &core.TaskDue{
			Date:        payload.Due.Date,
			Datetime:    payload.Due.Datetime,
			Recurrence:  payload.Due.String,
			IsRecurring: payload.Due.IsRecurring,
		}
	}
	return task
}

var _ core.TaskService = (*Client)(nil)
