package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kelsos/taskwatch/internal/config"
	"github.com/kelsos/taskwatch/internal/logger"
	"github.com/kelsos/taskwatch/internal/models"
)

// APIClient handles HTTP communication with the task API
type APIClient struct {
	config     *config.Config
	httpClient *http.Client
}

// NewAPIClient creates a new API client with the given configuration
func NewAPIClient(cfg *config.Config) *APIClient {
	return &APIClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BuildURL constructs a full URL for the given endpoint
func (c *APIClient) BuildURL(endpoint string) string {
	return fmt.Sprintf("%s/api/v1%s", strings.TrimRight(c.config.APIURL, "/"), endpoint)
}

// Get makes a GET request to the specified endpoint
func (c *APIClient) Get(ctx context.Context, endpoint string, result interface{}) error {
	return c.request(ctx, http.MethodGet, endpoint, result)
}

// request is the core HTTP request method
func (c *APIClient) request(ctx context.Context, method, endpoint string, result interface{}) error {
	url := c.BuildURL(endpoint)
	start := time.Now()
	logger.Debug("Starting %s request to %s", method, url)

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		elapsed := time.Since(start)
		logger.Error("Request failed after (%s) %v: %v", url, elapsed, err)
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	logger.Debug("Request to %s completed in %v with status %d", url, elapsed, resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Error("%s: HTTP error %d: %s", url, resp.StatusCode, string(bodyBytes))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			logger.Error("%s: Error decoding response: %v", url, err)
			return fmt.Errorf("error decoding response: %w", err)
		}
	}

	return nil
}

func (c *APIClient) authorize(req *http.Request) {
	if c.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIToken)
	}
}

// HTTPError is a non-200 response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// Ping checks if the API is ready
func (c *APIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildURL("/ping"), nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed with status %d", resp.StatusCode)
	}

	return nil
}

// WaitForAPIReady pings the API once per interval until it answers, the
// attempts configured by APIReadyTimeout run out or ctx is done.
func (c *APIClient) WaitForAPIReady(ctx context.Context, interval time.Duration) bool {
	logger.Info("Checking API readiness...")

	for attempt := 1; attempt <= c.config.APIReadyTimeout; attempt++ {
		logger.Debug("Checking API readiness (attempt %d/%d)...", attempt, c.config.APIReadyTimeout)

		if err := c.Ping(ctx); err == nil {
			logger.Info("API is ready!")
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}

	logger.Error("API failed to become ready after %d attempts", c.config.APIReadyTimeout)
	return false
}

// ListActiveTasks returns the jobs the backend still considers running.
func (c *APIClient) ListActiveTasks(ctx context.Context) ([]models.Task, error) {
	endpoint := BuildURLWithParams("/tasks", map[string]string{"status": "active"})

	var resp models.TasksResponse
	if err := c.Get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("failed to list active tasks: %w", err)
	}
	if err := resp.Err(); err != nil && resp.Result == nil {
		return nil, fmt.Errorf("failed to list active tasks: %w", err)
	}
	return resp.Result, nil
}

// ListActiveTaskIDs is ListActiveTasks reduced to ids.
func (c *APIClient) ListActiveTaskIDs(ctx context.Context) ([]models.TaskID, error) {
	tasks, err := c.ListActiveTasks(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]models.TaskID, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids, nil
}

func (c *APIClient) GetTask(ctx context.Context, id models.TaskID) (*models.Task, error) {
	var resp models.TaskResponse
	if err := c.Get(ctx, "/tasks/"+url.PathEscape(string(id)), &resp); err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	if err := resp.Err(); err != nil && resp.Result.ID == "" {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return &resp.Result, nil
}

// BuildURLWithParams properly builds a URL with query parameters
func BuildURLWithParams(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}

	parts := strings.SplitN(endpoint, "?", 2)
	baseURL := parts[0]

	values := url.Values{}
	if len(parts) > 1 {
		existingParams, _ := url.ParseQuery(parts[1])
		values = existingParams
	}

	for key, value := range params {
		values.Set(key, value)
	}

	if len(values) > 0 {
		return baseURL + "?" + values.Encode()
	}
	return baseURL
}
