// Package todoist is a small client for the Todoist REST v2 and Sync v9 APIs.
package todoist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/breaker"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/logging"
)

const (
	defaultBaseURL = "https://api.todoist.com/rest/v2"
	defaultSyncURL = "https://api.todoist.com/sync/v9"
	maxBodyBytes   = 4 << 20
)

// ErrNotFound is returned when the service has no such object.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx answer other than 404.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("todoist api error (status %d): %s", e.Status, e.Body)
}

// Options configures a Client.
type Options struct {
	Token   string
	BaseURL string
	SyncURL string
	Timeout time.Duration
}

// Client talks to Todoist. Every call goes through one circuit breaker.
type Client struct {
	token   string
	baseURL string
	syncURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger

	mu     sync.Mutex
	labels map[string]domain.Label
}

// New creates a client.
func New(opts Options, logger *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.SyncURL == "" {
		opts.SyncURL = defaultSyncURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger = logging.OrNop(logger)
	return &Client{
		token:   opts.Token,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		syncURL: strings.TrimRight(opts.SyncURL, "/"),
		client:  &http.Client{Timeout: opts.Timeout},
		cb:      breaker.New(breaker.DefaultConfig("todoist"), logger),
		logger:  logger,
	}
}

type response struct {
	status int
	body   []byte
}

// do runs one request through the breaker. Transport failures and 5xx
// answers count against the breaker; 4xx answers do not.
func (c *Client) do(ctx context.Context, method, endpoint string, contentType string, payload []byte, out any) error {
	res, err := c.cb.Execute(func() (interface{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if payload != nil {
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("X-Request-Id", uuid.New().String())
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		return &response{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		return err
	}

	r := res.(*response)
	switch {
	case r.status == http.StatusNotFound:
		return ErrNotFound
	case r.status >= http.StatusBadRequest:
		return &APIError{Status: r.status, Body: strings.TrimSpace(string(r.body))}
	}
	if out == nil || len(r.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, endpoint, "", nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.baseURL+path, "application/json", payload, out)
}

// Projects lists all projects.
func (c *Client) Projects(ctx context.Context) ([]domain.Project, error) {
	var out []domain.Project
	if err := c.get(ctx, "/projects", nil, &out); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

// ProjectByName finds a project by exact name.
func (c *Client) ProjectByName(ctx context.Context, name string) (*domain.Project, error) {
	projects, err := c.Projects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("project %q: %w", name, ErrNotFound)
}

// Tasks lists the active tasks of a project.
func (c *Client) Tasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	var wire []apiTask
	if err := c.get(ctx, "/tasks", url.Values{"project_id": {projectID}}, &wire); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]domain.Task, len(wire))
	for i, t := range wire {
		out[i] = t.toDomain()
	}
	return out, nil
}

// Task fetches one task.
func (c *Client) Task(ctx context.Context, id string) (*domain.Task, error) {
	var wire apiTask
	if err := c.get(ctx, "/tasks/"+url.PathEscape(id), nil, &wire); err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	t := wire.toDomain()
	return &t, nil
}

// TaskUpdate lists the fields to change. Nil fields are left alone.
type TaskUpdate struct {
	Content *string  `json:"content,omitempty"`
	Labels  []string `json:"labels,omitempty"`
}

// UpdateTask changes content or labels of a task.
func (c *Client) UpdateTask(ctx context.Context, id string, u TaskUpdate) error {
	if err := c.post(ctx, "/tasks/"+url.PathEscape(id), u, nil); err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	return nil
}

// Labels lists the personal labels.
func (c *Client) Labels(ctx context.Context) ([]domain.Label, error) {
	var out []domain.Label
	if err := c.get(ctx, "/labels", nil, &out); err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	return out, nil
}

// CreateLabel creates a label.
func (c *Client) CreateLabel(ctx context.Context, name string) (*domain.Label, error) {
	var out domain.Label
	if err := c.post(ctx, "/labels", map[string]string{"name": name}, &out); err != nil {
		return nil, fmt.Errorf("create label %q: %w", name, err)
	}
	return &out, nil
}

// EnsureLabel returns the named label, creating it once if it does not
// exist. The label list is fetched on first use.
func (c *Client) EnsureLabel(ctx context.Context, name string) (*domain.Label, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.labels == nil {
		list, err := c.Labels(ctx)
		if err != nil {
			return nil, false, err
		}
		c.labels = make(map[string]domain.Label, len(list))
		for _, l := range list {
			c.labels[l.Name] = l
		}
	}
	if l, ok := c.labels[name]; ok {
		return &l, false, nil
	}
	l, err := c.CreateLabel(ctx, name)
	if err != nil {
		return nil, false, err
	}
	c.labels[name] = *l
	c.logger.Info("label created", zap.String("label", name))
	return l, true, nil
}

// Sections lists the sections of a project.
func (c *Client) Sections(ctx context.Context, projectID string) ([]domain.Section, error) {
	var out []domain.Section
	if err := c.get(ctx, "/sections", url.Values{"project_id": {projectID}}, &out); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return out, nil
}

// CreateSection creates a section in a project.
func (c *Client) CreateSection(ctx context.Context, projectID, name string) (*domain.Section, error) {
	var out domain.Section
	in := map[string]string{"project_id": projectID, "name": name}
	if err := c.post(ctx, "/sections", in, &out); err != nil {
		return nil, fmt.Errorf("create section %q: %w", name, err)
	}
	return &out, nil
}

type syncCommand struct {
	Type string         `json:"type"`
	UUID string         `json:"uuid"`
	Args map[string]any `json:"args"`
}

type syncResponse struct {
	SyncStatus map[string]json.RawMessage `json:"sync_status"`
}

// MoveTask moves a task into a section with a Sync API item_move command;
// the REST API cannot change a task's section.
func (c *Client) MoveTask(ctx context.Context, taskID, sectionID string) error {
	cmd := syncCommand{
		Type: "item_move",
		UUID: uuid.New().String(),
		Args: map[string]any{"id": taskID, "section_id": sectionID},
	}
	commands, err := json.Marshal([]syncCommand{cmd})
	if err != nil {
		return fmt.Errorf("marshal commands: %w", err)
	}
	form := url.Values{"commands": {string(commands)}}

	var out syncResponse
	if err := c.do(ctx, http.MethodPost, c.syncURL+"/sync", "application/x-www-form-urlencoded", []byte(form.Encode()), &out); err != nil {
		return fmt.Errorf("move task %s: %w", taskID, err)
	}
	status, ok := out.SyncStatus[cmd.UUID]
	if !ok {
		return fmt.Errorf("move task %s: no sync status", taskID)
	}
	if string(status) != `"ok"` {
		return fmt.Errorf("move task %s: %s", taskID, string(status))
	}
	return nil
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.cb.State()
}
